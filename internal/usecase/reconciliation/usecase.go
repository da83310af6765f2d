package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/escrow"
	"payroll-bnpl/internal/domain/gateway"
	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/domain/remittance"
	"payroll-bnpl/internal/infrastructure/logger"
	"payroll-bnpl/pkg/id"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	LenderTolerance float64
	EscrowTolerance float64
}

type Deps struct {
	Records       reconciliation.Repository
	Contracts     contract.Repository
	Deductions    contract.DeductionRepository
	Remittances   remittance.Repository
	EscrowTxns    escrow.Repository
	EscrowGateway gateway.EscrowGateway
	LoanLedger    gateway.LoanLedgerGateway
	Log           *zap.Logger
	Now           func() time.Time
}

type Usecase struct {
	Deps
	cfg Config
}

func NewUsecase(d Deps, cfg Config) *Usecase {
	d.Log = logger.OrNop(d.Log)
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Usecase{Deps: d, cfg: cfg}
}

type Report struct {
	RunID     string                  `json:"run_id"`
	PeriodKey string                  `json:"period_key"`
	Records   []reconciliation.Record `json:"records"`
}

// sourceResult is one side of a comparison; note explains a partial or failed read.
type sourceResult struct {
	amount decimal.Decimal
	note   string
}

// Run reconciles the three channels for period. Source failures become
// notes on the records rather than errors; a channel whose internal books
// cannot be read is recorded as MISSING. Only a failure to store the
// records fails the run.
func (u *Usecase) Run(ctx context.Context, period string) (*Report, error) {
	if _, err := time.Parse("2006-01", period); err != nil || len(period) != 7 {
		return nil, apperr.Invalid("period", "must be YYYY-MM")
	}
	runID := uuid.NewString()

	channels := []struct {
		ch        reconciliation.Channel
		tolerance float64
		read      func() (sourceResult, sourceResult, error)
	}{
		{reconciliation.ChannelPayroll, 0, func() (sourceResult, sourceResult, error) { return u.payroll(ctx, period) }},
		{reconciliation.ChannelLenderLedger, u.cfg.LenderTolerance, func() (sourceResult, sourceResult, error) { return u.lenderLedger(ctx) }},
		{reconciliation.ChannelEscrow, u.cfg.EscrowTolerance, func() (sourceResult, sourceResult, error) { return u.escrow(ctx, period) }},
	}
	recs := make([]reconciliation.Record, 0, len(channels))
	for _, c := range channels {
		exp, act, err := c.read()
		if err != nil {
			u.Log.Error("reconciliation source read failed",
				zap.String("run_id", runID), zap.String("channel", string(c.ch)), zap.Error(err))
			recs = append(recs, u.unreadable(runID, c.ch, period, c.tolerance, err))
			continue
		}
		recs = append(recs, u.record(runID, c.ch, period, reconciliation.ScopePeriod, exp, act, c.tolerance))
	}
	if err := u.Records.CreateBatch(ctx, recs); err != nil {
		return nil, err
	}
	u.logRecords(recs)
	return &Report{RunID: runID, PeriodKey: period, Records: recs}, nil
}

func (u *Usecase) unreadable(runID string, ch reconciliation.Channel, period string, tolerance float64, err error) reconciliation.Record {
	return reconciliation.Record{
		RecordID:  id.NewID32(),
		RunID:     runID,
		Channel:   ch,
		PeriodKey: period,
		Scope:     reconciliation.ScopePeriod,
		Tolerance: tolerance,
		Status:    reconciliation.StatusMissing,
		Note:      "internal records unavailable: " + err.Error(),
	}
}

func (u *Usecase) record(runID string, ch reconciliation.Channel, period, scope string, expected, actual sourceResult, tolerance float64) reconciliation.Record {
	exp, act := expected.amount.InexactFloat64(), actual.amount.InexactFloat64()
	status, variance := reconciliation.Classify(exp, act, tolerance)
	note := expected.note
	if actual.note != "" {
		if note != "" {
			note += "; "
		}
		note += actual.note
	}
	return reconciliation.Record{
		RecordID:       id.NewID32(),
		RunID:          runID,
		Channel:        ch,
		PeriodKey:      period,
		Scope:          scope,
		ExpectedAmount: exp,
		ActualAmount:   act,
		Variance:       variance,
		Tolerance:      tolerance,
		Status:         status,
		Note:           note,
	}
}

func (u *Usecase) logRecords(recs []reconciliation.Record) {
	for _, r := range recs {
		fields := []zap.Field{
			zap.String("run_id", r.RunID), zap.String("channel", string(r.Channel)),
			zap.String("period", r.PeriodKey), zap.String("scope", r.Scope),
			zap.Float64("expected", r.ExpectedAmount), zap.Float64("actual", r.ActualAmount),
			zap.Float64("variance", r.Variance), zap.String("status", string(r.Status)),
		}
		if r.Status == reconciliation.StatusMatched {
			u.Log.Info("reconciliation matched", fields...)
			continue
		}
		u.Log.Warn("reconciliation variance detected", append(fields, zap.String("note", r.Note))...)
	}
}

// payroll: instructions of the cycle that are still owed against lines the
// employers actually remitted for it.
func (u *Usecase) payroll(ctx context.Context, period string) (sourceResult, sourceResult, error) {
	ds, err := u.Deductions.List(ctx, contract.DeductionFilter{
		PayrollCycle: period,
		Statuses: []contract.DeductionStatus{
			contract.DeductionPendingPayroll, contract.DeductionSent, contract.DeductionExecuted,
		},
	})
	if err != nil {
		return sourceResult{}, sourceResult{}, err
	}
	var exp sourceResult
	for _, d := range ds {
		exp.amount = exp.amount.Add(decimal.NewFromFloat(d.MonthlyAmount))
	}

	lines, err := u.Remittances.ListByPeriod(ctx, period)
	if err != nil {
		return sourceResult{}, sourceResult{}, err
	}
	var act sourceResult
	rejected := 0
	for _, l := range lines {
		if l.Status != remittance.LineApplied {
			rejected++
			continue
		}
		act.amount = act.amount.Add(decimal.NewFromFloat(l.Applied))
	}
	if rejected > 0 {
		act.note = fmt.Sprintf("%d rejected remittance lines excluded", rejected)
	}
	return exp, act, nil
}

var liveFunded = []contract.State{contract.StateDisbursed, contract.StateInRepayment, contract.StateDisputed}

// lenderLedger: what we believe is outstanding against what the loan ledger reports.
func (u *Usecase) lenderLedger(ctx context.Context) (sourceResult, sourceResult, error) {
	cs, err := u.Contracts.List(ctx, contract.Filter{States: liveFunded, FundedOnly: true})
	if err != nil {
		return sourceResult{}, sourceResult{}, err
	}
	var exp, act sourceResult
	var unsynced, failed int
	for _, c := range cs {
		exp.amount = exp.amount.Add(decimal.NewFromFloat(c.TotalDue))
		if c.ExternalLoanID == "" {
			unsynced++
			continue
		}
		st, err := u.LoanLedger.GetStatus(ctx, c.ExternalLoanID)
		if err != nil {
			failed++
			u.Log.Warn("loan ledger status failed", zap.String("contract_id", c.ContractID), zap.Error(err))
			continue
		}
		act.amount = act.amount.Add(decimal.NewFromFloat(st.Outstanding))
	}
	var notes []string
	if unsynced > 0 {
		notes = append(notes, fmt.Sprintf("%d contracts not yet in loan ledger", unsynced))
	}
	if failed > 0 {
		notes = append(notes, fmt.Sprintf("%d loan ledger lookups failed", failed))
	}
	act.note = strings.Join(notes, "; ")
	return exp, act, nil
}

// escrow: internal escrow transactions against the provider statement.
func (u *Usecase) escrow(ctx context.Context, period string) (sourceResult, sourceResult, error) {
	txns, err := u.EscrowTxns.ListByPeriod(ctx, period)
	if err != nil {
		return sourceResult{}, sourceResult{}, err
	}
	var exp sourceResult
	for _, t := range txns {
		exp.amount = exp.amount.Add(decimal.NewFromFloat(t.Amount))
	}
	var act sourceResult
	st, err := u.EscrowGateway.Statement(ctx, period)
	if err != nil {
		u.Log.Warn("escrow statement failed", zap.String("period", period), zap.Error(err))
		act.note = "escrow statement unavailable: " + err.Error()
		return exp, act, nil
	}
	act.amount = decimal.NewFromFloat(st.Gross)
	return exp, act, nil
}

// ReconcileContract compares one contract's outstanding balance with the loan ledger.
func (u *Usecase) ReconcileContract(ctx context.Context, contractID string) (*reconciliation.Record, error) {
	c, err := u.Contracts.GetByContractID(ctx, contractID)
	if errors.Is(err, contract.ErrNotFound) {
		return nil, apperr.NotFound("contract", contractID)
	}
	if err != nil {
		return nil, err
	}

	exp := sourceResult{amount: decimal.NewFromFloat(c.TotalDue)}
	if !c.Funded() {
		exp = sourceResult{note: "contract not funded"}
	}
	var act sourceResult
	switch {
	case c.ExternalLoanID == "":
		act.note = "loan not yet created in loan ledger"
	default:
		st, err := u.LoanLedger.GetStatus(ctx, c.ExternalLoanID)
		if err != nil {
			u.Log.Warn("loan ledger status failed", zap.String("contract_id", contractID), zap.Error(err))
			act.note = "loan ledger unavailable: " + err.Error()
		} else {
			act.amount = decimal.NewFromFloat(st.Outstanding)
		}
	}

	rec := u.record(uuid.NewString(), reconciliation.ChannelLenderLedger, contract.PayrollCycle(u.Now()), contractID, exp, act, u.cfg.LenderTolerance)
	if err := u.Records.CreateBatch(ctx, []reconciliation.Record{rec}); err != nil {
		return nil, err
	}
	u.logRecords([]reconciliation.Record{rec})
	return &rec, nil
}

// Resolve attaches an operator's resolution to a record exactly once.
func (u *Usecase) Resolve(ctx context.Context, recordID, note, by string) (*reconciliation.Record, error) {
	if note == "" {
		return nil, apperr.Invalid("note", "is required")
	}
	if by == "" {
		return nil, apperr.Invalid("resolved_by", "is required")
	}
	err := u.Records.Resolve(ctx, recordID, note, by, u.Now())
	if errors.Is(err, reconciliation.ErrNotFound) {
		return nil, apperr.NotFound("reconciliation record", recordID)
	}
	if err != nil {
		return nil, err
	}
	u.Log.Info("reconciliation record resolved", zap.String("record_id", recordID), zap.String("by", by))
	return u.Records.GetByRecordID(ctx, recordID)
}

func (u *Usecase) ListRecords(ctx context.Context, f reconciliation.Filter) ([]reconciliation.Record, error) {
	return u.Records.List(ctx, f)
}

// RunDaily reconciles the current period every interval until ctx is cancelled.
func (u *Usecase) RunDaily(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			period := contract.PayrollCycle(u.Now())
			if _, err := u.Run(ctx, period); err != nil {
				u.Log.Error("scheduled reconciliation", zap.String("period", period), zap.Error(err))
			}
		}
	}
}
