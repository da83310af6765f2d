package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"payroll-bnpl/internal/adapter/repository/gormstore"
	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/escrow"
	"payroll-bnpl/internal/domain/gateway"
	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/domain/remittance"
	"payroll-bnpl/internal/testutil/gatewaymock"
	"payroll-bnpl/internal/testutil/testdb"
	"payroll-bnpl/pkg/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const period = "2026-04"

type fixture struct {
	uc        *Usecase
	now       time.Time
	escrowGW  *gatewaymock.Escrow
	ledgerGW  *gatewaymock.Ledger
	records   *gormstore.ReconciliationRepository
	contracts *gormstore.ContractRepository
	deduct    *gormstore.DeductionRepository
	remit     *gormstore.RemittanceRepository
	escrow    *gormstore.EscrowRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	f := &fixture{
		now:       time.Date(2026, 4, 28, 18, 0, 0, 0, time.UTC),
		escrowGW:  &gatewaymock.Escrow{},
		ledgerGW:  &gatewaymock.Ledger{},
		records:   gormstore.NewReconciliationRepository(db),
		contracts: gormstore.NewContractRepository(db),
		deduct:    gormstore.NewDeductionRepository(db),
		remit:     gormstore.NewRemittanceRepository(db),
		escrow:    gormstore.NewEscrowRepository(db),
	}
	f.uc = NewUsecase(Deps{
		Records:       f.records,
		Contracts:     f.contracts,
		Deductions:    f.deduct,
		Remittances:   f.remit,
		EscrowTxns:    f.escrow,
		EscrowGateway: f.escrowGW,
		LoanLedger:    f.ledgerGW,
		Now:           func() time.Time { return f.now },
	}, Config{LenderTolerance: 0.001, EscrowTolerance: 0.001})
	return f
}

func (f *fixture) seed(t *testing.T) *contract.Contract {
	t.Helper()
	ctx := context.Background()
	funded := f.now.Add(-30 * 24 * time.Hour)
	c := &contract.Contract{
		ContractID:     id.NewID32(),
		EmployeeID:     id.NewID32(),
		EmployerID:     "employer-1",
		LenderID:       "lender-1",
		Principal:      4_800,
		TotalPayable:   5_000,
		TotalDue:       5_000,
		State:          contract.StateInRepayment,
		StateUpdatedAt: funded,
		FundedAt:       &funded,
		IdempotencyKey: id.NewID32(),
		LedgerSync:     contract.LedgerSyncConfirmed,
		ExternalLoanID: "LN-1",
	}
	require.NoError(t, f.contracts.Create(ctx, c))

	require.NoError(t, f.deduct.CreateBatch(ctx, []contract.DeductionInstruction{
		{InstructionID: id.NewID32(), ContractID: c.ContractID, EmployerID: "employer-1", InstallmentNumber: 1, MonthlyAmount: 100, PayrollCycle: period, Status: contract.DeductionSent},
		{InstructionID: id.NewID32(), ContractID: c.ContractID, EmployerID: "employer-1", InstallmentNumber: 2, MonthlyAmount: 200, PayrollCycle: period, Status: contract.DeductionPendingPayroll},
		{InstructionID: id.NewID32(), ContractID: c.ContractID, EmployerID: "employer-1", InstallmentNumber: 3, MonthlyAmount: 50, PayrollCycle: period, Status: contract.DeductionFailed},
		{InstructionID: id.NewID32(), ContractID: c.ContractID, EmployerID: "employer-1", InstallmentNumber: 4, MonthlyAmount: 999, PayrollCycle: "2026-05", Status: contract.DeductionPendingPayroll},
	}))
	require.NoError(t, f.remit.Create(ctx, &remittance.Line{
		LineID: id.NewID32(), RemittanceRef: "R-1", EmployerID: "employer-1", PeriodKey: period,
		ContractID: c.ContractID, Amount: 300, Applied: 300, Status: remittance.LineApplied,
	}))
	require.NoError(t, f.remit.Create(ctx, &remittance.Line{
		LineID: id.NewID32(), RemittanceRef: "R-1", EmployerID: "employer-1", PeriodKey: period,
		ContractID: "unknown", Amount: 75, Status: remittance.LineRejected, Error: "not found",
	}))
	for _, tx := range []escrow.Transaction{
		{TxnID: id.NewID32(), ContractID: c.ContractID, Kind: escrow.KindHold, Amount: 1_000, PeriodKey: period},
		{TxnID: id.NewID32(), ContractID: c.ContractID, Kind: escrow.KindRelease, Amount: 950, PeriodKey: period},
	} {
		require.NoError(t, f.escrow.Create(ctx, &tx))
	}
	return c
}

func byChannel(recs []reconciliation.Record) map[reconciliation.Channel]reconciliation.Record {
	out := map[reconciliation.Channel]reconciliation.Record{}
	for _, r := range recs {
		out[r.Channel] = r
	}
	return out
}

func TestRun_AllChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)
	f.escrowGW.StatementFn = func(_ context.Context, p string) (gateway.EscrowStatement, error) {
		return gateway.EscrowStatement{PeriodKey: p, Gross: 1_950}, nil
	}
	f.ledgerGW.GetStatusFn = func(_ context.Context, loanID string) (gateway.LoanStatus, error) {
		return gateway.LoanStatus{LoanID: loanID, Outstanding: 4_000}, nil
	}

	rep, err := f.uc.Run(ctx, period)
	require.NoError(t, err)
	require.Len(t, rep.Records, 3)
	got := byChannel(rep.Records)

	payroll := got[reconciliation.ChannelPayroll]
	assert.Equal(t, reconciliation.StatusMatched, payroll.Status)
	assert.Equal(t, 300.0, payroll.ExpectedAmount)
	assert.Equal(t, 0.0, payroll.Tolerance)
	assert.Contains(t, payroll.Note, "1 rejected")

	lender := got[reconciliation.ChannelLenderLedger]
	assert.Equal(t, reconciliation.StatusVariance, lender.Status)
	assert.Equal(t, 1_000.0, lender.Variance)

	esc := got[reconciliation.ChannelEscrow]
	assert.Equal(t, reconciliation.StatusMatched, esc.Status)
	assert.Equal(t, 1_950.0, esc.ExpectedAmount)

	stored, err := f.records.List(ctx, reconciliation.Filter{RunID: rep.RunID})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRun_PayrollIsExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t)
	require.NoError(t, f.remit.Create(ctx, &remittance.Line{
		LineID: id.NewID32(), RemittanceRef: "R-2", EmployerID: "employer-1", PeriodKey: period,
		ContractID: c.ContractID, Amount: 0.01, Applied: 0.01, Status: remittance.LineApplied,
	}))

	rep, err := f.uc.Run(ctx, period)
	require.NoError(t, err)
	payroll := byChannel(rep.Records)[reconciliation.ChannelPayroll]
	assert.Equal(t, reconciliation.StatusVariance, payroll.Status)
	assert.InDelta(t, -0.01, payroll.Variance, 1e-9)
}

func TestRun_SourceFailuresBecomeNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)
	f.escrowGW.StatementFn = func(context.Context, string) (gateway.EscrowStatement, error) {
		return gateway.EscrowStatement{}, gatewaymock.ErrDown
	}
	f.ledgerGW.GetStatusFn = func(context.Context, string) (gateway.LoanStatus, error) {
		return gateway.LoanStatus{}, gatewaymock.ErrDown
	}

	rep, err := f.uc.Run(ctx, period)
	require.NoError(t, err)
	got := byChannel(rep.Records)
	assert.Equal(t, reconciliation.StatusMissing, got[reconciliation.ChannelEscrow].Status)
	assert.Contains(t, got[reconciliation.ChannelEscrow].Note, "unavailable")
	assert.Equal(t, reconciliation.StatusMissing, got[reconciliation.ChannelLenderLedger].Status)
	assert.Contains(t, got[reconciliation.ChannelLenderLedger].Note, "1 loan ledger lookups failed")
}

type brokenRemittances struct{ remittance.Repository }

func (brokenRemittances) ListByPeriod(context.Context, string) ([]remittance.Line, error) {
	return nil, errors.New("remittance_lines: connection reset")
}

func TestRun_InternalReadFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)
	f.uc.Remittances = brokenRemittances{Repository: f.remit}
	f.escrowGW.StatementFn = func(_ context.Context, p string) (gateway.EscrowStatement, error) {
		return gateway.EscrowStatement{PeriodKey: p, Gross: 1_950}, nil
	}

	rep, err := f.uc.Run(ctx, period)
	require.NoError(t, err)
	require.Len(t, rep.Records, 3)
	got := byChannel(rep.Records)
	payroll := got[reconciliation.ChannelPayroll]
	assert.Equal(t, reconciliation.StatusMissing, payroll.Status)
	assert.Contains(t, payroll.Note, "connection reset")
	assert.Equal(t, reconciliation.StatusMatched, got[reconciliation.ChannelEscrow].Status)

	stored, err := f.records.List(ctx, reconciliation.Filter{RunID: rep.RunID})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRun_EmptyPeriodMatches(t *testing.T) {
	f := newFixture(t)
	rep, err := f.uc.Run(context.Background(), "2030-01")
	require.NoError(t, err)
	for _, r := range rep.Records {
		assert.Equal(t, reconciliation.StatusMatched, r.Status, "channel %s", r.Channel)
	}

	_, err = f.uc.Run(context.Background(), "2030-1")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestReconcileContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t)
	f.ledgerGW.GetStatusFn = func(_ context.Context, loanID string) (gateway.LoanStatus, error) {
		return gateway.LoanStatus{LoanID: loanID, Outstanding: 4_999}, nil
	}

	rec, err := f.uc.ReconcileContract(ctx, c.ContractID)
	require.NoError(t, err)
	assert.Equal(t, c.ContractID, rec.Scope)
	assert.Equal(t, reconciliation.StatusMatched, rec.Status)
	assert.Equal(t, period, rec.PeriodKey)

	_, err = f.uc.ReconcileContract(ctx, "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestResolve_Once(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep, err := f.uc.Run(ctx, period)
	require.NoError(t, err)
	recID := rep.Records[0].RecordID

	_, err = f.uc.Resolve(ctx, recID, "", "ops")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	rec, err := f.uc.Resolve(ctx, recID, "checked with employer", "ops@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, "ops@example.com", rec.ResolvedBy)
	assert.Equal(t, rep.Records[0].ExpectedAmount, rec.ExpectedAmount)

	_, err = f.uc.Resolve(ctx, recID, "again", "ops")
	assert.True(t, errors.Is(err, reconciliation.ErrAlreadyResolved))

	_, err = f.uc.Resolve(ctx, "nope", "x", "ops")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestRunDaily_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.uc.RunDaily(ctx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		recs, err := f.records.List(context.Background(), reconciliation.Filter{PeriodKey: period})
		return err == nil && len(recs) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDaily did not stop")
	}
}
