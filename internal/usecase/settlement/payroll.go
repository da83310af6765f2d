package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/ledger"
	"payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/domain/remittance"
	"payroll-bnpl/internal/domain/uow"
	"payroll-bnpl/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RemittanceLine struct {
	ContractID string  `json:"contract_id" validate:"required,hex32"`
	Amount     float64 `json:"amount" validate:"gt=0"`
}

// Remittance is one employer payroll transfer covering many contracts.
type Remittance struct {
	Ref        string           `json:"remittance_ref" validate:"required"`
	EmployerID string           `json:"employer_id"`
	PeriodKey  string           `json:"period_key" validate:"required,periodkey"`
	Lines      []RemittanceLine `json:"lines" validate:"required,min=1,dive"`
}

type LineResult struct {
	ContractID string                `json:"contract_id"`
	Amount     float64               `json:"amount"`
	Applied    float64               `json:"applied"`
	Status     remittance.LineStatus `json:"status"`
	State      contract.State        `json:"state,omitempty"`
	Error      string                `json:"error,omitempty"`
	Code       string                `json:"code,omitempty"`
	Replayed   bool                  `json:"replayed,omitempty"`
}

type RemittanceResult struct {
	Ref      string       `json:"remittance_ref"`
	Applied  int          `json:"applied"`
	Rejected int          `json:"rejected"`
	Total    float64      `json:"total_applied"`
	Lines    []LineResult `json:"lines"`
}

func validPeriod(p string) bool {
	_, err := time.Parse("2006-01", p)
	return err == nil && len(p) == 7
}

// PostPayrollRemittance applies each line in its own transaction. A bad line
// is recorded as rejected and never blocks the rest of the batch.
func (u *Usecase) PostPayrollRemittance(ctx context.Context, rem Remittance, key string) (*RemittanceResult, error) {
	if rem.Ref == "" {
		return nil, apperr.Invalid("remittance_ref", "is required")
	}
	if rem.EmployerID == "" {
		return nil, apperr.Invalid("employer_id", "is required")
	}
	if !validPeriod(rem.PeriodKey) {
		return nil, apperr.Invalid("period_key", "must be YYYY-MM")
	}
	if len(rem.Lines) == 0 {
		return nil, apperr.Invalid("lines", "must not be empty")
	}
	if key == "" {
		key = rem.Ref
	}

	return once(ctx, u, OpRemittance, key, rem.EmployerID+":"+rem.Ref, func() (*RemittanceResult, error) {
		out := &RemittanceResult{Ref: rem.Ref, Lines: make([]LineResult, 0, len(rem.Lines))}
		total := decimal.Zero
		for i, line := range rem.Lines {
			lr := u.applyLine(ctx, rem, i, line)
			if lr.Status == remittance.LineApplied {
				out.Applied++
				total = total.Add(decimal.NewFromFloat(lr.Applied))
			} else {
				out.Rejected++
				u.recordRejected(ctx, rem, i, line, lr.Error)
			}
			out.Lines = append(out.Lines, lr)
		}
		out.Total = total.InexactFloat64()
		u.Log.Info("payroll remittance posted",
			zap.String("ref", rem.Ref), zap.String("employer_id", rem.EmployerID),
			zap.Int("applied", out.Applied), zap.Int("rejected", out.Rejected))
		return out, nil
	})
}

func (u *Usecase) applyLine(ctx context.Context, rem Remittance, idx int, line RemittanceLine) LineResult {
	lr := LineResult{ContractID: line.ContractID, Amount: line.Amount, Status: remittance.LineRejected}
	reject := func(err error) LineResult {
		lr.Error = err.Error()
		lr.Code = apperr.CodeOf(err)
		return lr
	}
	if line.ContractID == "" {
		return reject(apperr.Invalid("contract_id", "is required"))
	}
	if line.Amount <= 0 {
		return reject(apperr.Invalid("amount", "must be positive"))
	}

	now := u.Now().UTC()
	ref := fmt.Sprintf("%s:%d:%s", rem.Ref, idx, line.ContractID)
	var replayed bool
	err := u.inContract(ctx, line.ContractID, func(r uow.Repos, c *contract.Contract) error {
		// a line already credited under this employer and ref is never applied twice
		prev, err := r.Remittances.GetApplied(ctx, rem.EmployerID, rem.Ref, idx)
		switch {
		case err == nil:
			if prev.ContractID != line.ContractID ||
				!decimal.NewFromFloat(prev.Amount).Equal(decimal.NewFromFloat(line.Amount)) {
				return &apperr.IdempotencyConflictError{Key: rem.Ref}
			}
			replayed = true
			lr.State = c.State
			return nil
		case !errors.Is(err, remittance.ErrNotFound):
			return err
		}

		if c.EmployerID != rem.EmployerID {
			return apperr.Invalid("contract_id", "belongs to another employer")
		}
		if c.State != contract.StateInRepayment {
			return apperr.Invalid("contract_id", fmt.Sprintf("contract is %s; repayments need %s", c.State, contract.StateInRepayment))
		}
		amount := decimal.NewFromFloat(line.Amount)
		due := decimal.NewFromFloat(c.TotalDue)
		if amount.GreaterThan(due) {
			return apperr.Invalid("amount", fmt.Sprintf("exceeds total due %s", due.String()))
		}

		if err := applyToInstallments(ctx, r, c, amount, now); err != nil {
			return err
		}
		c.TotalPaid = decimal.NewFromFloat(c.TotalPaid).Add(amount).InexactFloat64()
		c.TotalDue = due.Sub(amount).InexactFloat64()

		var events []*outbox.Event
		if c.AllPaid() {
			if err := contract.Transition(c, contract.StateClosed, "all installments paid", actor, now); err != nil {
				return err
			}
			if err := r.Lenders.ReleaseCapital(ctx, c.LenderID, c.Principal); err != nil {
				return err
			}
			ev, err := notify(outbox.TypeNotifyContractClosed, c, "your loan is fully repaid", now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if err := r.Contracts.Update(ctx, c); err != nil {
			return err
		}

		if err := r.Ledger.Append(ctx, ledger.NewEvent(c.ContractID, ref, now,
			ledger.Posting{Type: ledger.TypeRepayment, Account: ledger.AccountPayrollClearing, Amount: -line.Amount},
			ledger.Posting{Type: ledger.TypeRepayment, Account: ledger.LenderAccount(c.LenderID), Amount: line.Amount},
		)); err != nil {
			return err
		}
		applyKey := remittance.AppliedKey(rem.EmployerID, rem.Ref, idx)
		if err := r.Remittances.Create(ctx, &remittance.Line{
			LineID:        id.NewID32(),
			RemittanceRef: rem.Ref,
			EmployerID:    rem.EmployerID,
			PeriodKey:     rem.PeriodKey,
			LineIndex:     idx,
			ContractID:    c.ContractID,
			Amount:        line.Amount,
			Applied:       line.Amount,
			Status:        remittance.LineApplied,
			ApplyKey:      &applyKey,
		}); err != nil {
			return err
		}
		repay, err := outbox.New(outbox.TypeLoanRepayment, c.ContractID, outbox.RepaymentPayload{
			ContractID: c.ContractID,
			Amount:     line.Amount,
			Reference:  ref,
		}, now)
		if err != nil {
			return err
		}
		if err := r.Outbox.Enqueue(ctx, append(events, repay)...); err != nil {
			return err
		}
		lr.State = c.State
		return nil
	})
	if err != nil {
		u.Log.Warn("remittance line rejected",
			zap.String("ref", rem.Ref), zap.String("contract_id", line.ContractID), zap.Error(err))
		return reject(err)
	}
	lr.Status = remittance.LineApplied
	lr.Applied = line.Amount
	lr.Replayed = replayed
	if replayed {
		u.Log.Info("remittance line already applied",
			zap.String("ref", rem.Ref), zap.Int("line", idx), zap.String("contract_id", line.ContractID))
	}
	return lr
}

// applyToInstallments spends amount on unpaid installments in order.
func applyToInstallments(ctx context.Context, r uow.Repos, c *contract.Contract, amount decimal.Decimal, now time.Time) error {
	remaining := amount
	for i := range c.Installments {
		if !remaining.IsPositive() {
			break
		}
		in := &c.Installments[i]
		if in.Status == contract.InstallmentPaid {
			continue
		}
		due := decimal.NewFromFloat(in.AmountDue)
		paid := decimal.NewFromFloat(in.AmountPaid)
		pay := decimal.Min(remaining, due.Sub(paid))
		paid = paid.Add(pay)
		remaining = remaining.Sub(pay)
		in.AmountPaid = paid.InexactFloat64()

		if paid.GreaterThanOrEqual(due) {
			in.Status = contract.InstallmentPaid
			at := now
			in.PaidAt = &at
			if err := r.Deductions.SetStatusByInstallment(ctx, in.InstallmentID, contract.DeductionExecuted); err != nil {
				return err
			}
		} else {
			in.Status = contract.InstallmentDeducted
		}
	}
	return nil
}

func (u *Usecase) recordRejected(ctx context.Context, rem Remittance, idx int, line RemittanceLine, reason string) {
	err := u.Remittances.Create(ctx, &remittance.Line{
		LineID:        id.NewID32(),
		RemittanceRef: rem.Ref,
		EmployerID:    rem.EmployerID,
		PeriodKey:     rem.PeriodKey,
		LineIndex:     idx,
		ContractID:    line.ContractID,
		Amount:        line.Amount,
		Status:        remittance.LineRejected,
		Error:         reason,
	})
	if err != nil {
		u.Log.Error("record rejected remittance line", zap.String("ref", rem.Ref), zap.Error(err))
	}
}

// DispatchDeductions sends the employer its pending instructions for cycle.
func (u *Usecase) DispatchDeductions(ctx context.Context, employerID, cycle string) ([]contract.DeductionInstruction, error) {
	if employerID == "" {
		return nil, apperr.Invalid("employer_id", "is required")
	}
	if !validPeriod(cycle) {
		return nil, apperr.Invalid("cycle", "must be YYYY-MM")
	}
	pending, err := u.Deductions.List(ctx, contract.DeductionFilter{
		EmployerID:   employerID,
		PayrollCycle: cycle,
		Statuses:     []contract.DeductionStatus{contract.DeductionPendingPayroll},
	})
	if err != nil {
		return nil, err
	}

	byContract := map[string][]contract.DeductionInstruction{}
	for _, d := range pending {
		byContract[d.ContractID] = append(byContract[d.ContractID], d)
	}
	ids := make([]string, 0, len(byContract))
	for cid := range byContract {
		ids = append(ids, cid)
	}
	sort.Strings(ids)

	var sent []contract.DeductionInstruction
	for _, cid := range ids {
		items := byContract[cid]
		err := u.inContract(ctx, cid, func(r uow.Repos, c *contract.Contract) error {
			want := map[string]bool{}
			for _, d := range items {
				want[d.InstallmentID] = true
			}
			for i := range c.Installments {
				in := &c.Installments[i]
				if want[in.InstallmentID] && in.Status == contract.InstallmentPending {
					in.Status = contract.InstallmentSentToEmployer
				}
			}
			if err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			_, err := r.Deductions.Transition(ctx, contract.DeductionFilter{
				ContractID:   cid,
				PayrollCycle: cycle,
				Statuses:     []contract.DeductionStatus{contract.DeductionPendingPayroll},
			}, contract.DeductionSent)
			return err
		})
		if err != nil {
			u.Log.Warn("dispatch deductions failed", zap.String("contract_id", cid), zap.Error(err))
			continue
		}
		for _, d := range items {
			d.Status = contract.DeductionSent
			sent = append(sent, d)
		}
	}
	u.Log.Info("deductions dispatched",
		zap.String("employer_id", employerID), zap.String("cycle", cycle), zap.Int("count", len(sent)))
	return sent, nil
}

type SweepResult struct {
	Scanned   int      `json:"scanned"`
	Overdue   int      `json:"overdue_installments"`
	Defaulted []string `json:"defaulted"`
}

// SweepOverdue flags unpaid installments past due and defaults contracts
// whose oldest overdue installment is older than DefaultAfterDays.
func (u *Usecase) SweepOverdue(ctx context.Context, now time.Time) (*SweepResult, error) {
	now = now.UTC()
	active, err := u.Contracts.List(ctx, contract.Filter{States: []contract.State{contract.StateInRepayment}})
	if err != nil {
		return nil, err
	}
	res := &SweepResult{Scanned: len(active)}
	grace := time.Duration(u.cfg.DefaultAfterDays) * 24 * time.Hour

	for _, snapshot := range active {
		if !hasPastDue(&snapshot, now) {
			continue
		}
		var flagged int
		var defaulted bool
		err := u.inContract(ctx, snapshot.ContractID, func(r uow.Repos, c *contract.Contract) error {
			if c.State != contract.StateInRepayment {
				return nil
			}
			var oldest *time.Time
			for i := range c.Installments {
				in := &c.Installments[i]
				if in.Status == contract.InstallmentPaid || !in.DueDate.Before(now) {
					continue
				}
				if in.Status != contract.InstallmentOverdue {
					in.Status = contract.InstallmentOverdue
					flagged++
				}
				if oldest == nil || in.DueDate.Before(*oldest) {
					d := in.DueDate
					oldest = &d
				}
			}
			if oldest != nil && now.Sub(*oldest) > grace {
				if err := contract.Transition(c, contract.StateDefaulted, fmt.Sprintf("overdue since %s", oldest.Format("2006-01-02")), actor, now); err != nil {
					return err
				}
				if _, err := r.Deductions.Transition(ctx, contract.DeductionFilter{
					ContractID: c.ContractID,
					Statuses:   outstandingDeductions,
				}, contract.DeductionFailed); err != nil {
					return err
				}
				defaulted = true
			}
			if flagged == 0 && !defaulted {
				return nil
			}
			return r.Contracts.Update(ctx, c)
		})
		if err != nil {
			u.Log.Warn("overdue sweep failed", zap.String("contract_id", snapshot.ContractID), zap.Error(err))
			continue
		}
		res.Overdue += flagged
		if defaulted {
			res.Defaulted = append(res.Defaulted, snapshot.ContractID)
			u.Log.Warn("contract defaulted", zap.String("contract_id", snapshot.ContractID), zap.String("lender_id", snapshot.LenderID))
		}
	}
	return res, nil
}

func hasPastDue(c *contract.Contract, now time.Time) bool {
	for _, in := range c.Installments {
		if in.Status != contract.InstallmentPaid && in.DueDate.Before(now) {
			return true
		}
	}
	return false
}
