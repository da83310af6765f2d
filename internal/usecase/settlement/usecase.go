package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/escrow"
	"payroll-bnpl/internal/domain/gateway"
	"payroll-bnpl/internal/domain/ledger"
	"payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/domain/remittance"
	"payroll-bnpl/internal/domain/uow"
	"payroll-bnpl/internal/infrastructure/logger"
	"payroll-bnpl/pkg/id"

	"go.uber.org/zap"
)

const actor = "settlement"

// Operation names, also used in gateway references and cache keys.
const (
	OpHold       = "hold"
	OpRelease    = "release"
	OpRefund     = "refund"
	OpDispute    = "dispute"
	OpResolve    = "resolve"
	OpRemittance = "remittance"
)

type Config struct {
	PlatformFeeShare float64
	DefaultAfterDays int
	IdempotencyTTL   time.Duration
}

type Deps struct {
	UoW         uow.UnitOfWork
	Contracts   contract.Repository
	Deductions  contract.DeductionRepository
	Remittances remittance.Repository
	Escrow      gateway.EscrowGateway
	Cache       gateway.IdempotencyCache
	Log         *zap.Logger
	Now         func() time.Time
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
	if cfg.IdempotencyTTL < gateway.MinIdempotencyTTL {
		cfg.IdempotencyTTL = gateway.MinIdempotencyTTL
	}
	if cfg.DefaultAfterDays <= 0 {
		cfg.DefaultAfterDays = 90
	}
	return &Usecase{Deps: d, cfg: cfg}
}

type Result struct {
	ContractID     string         `json:"contract_id"`
	Operation      string         `json:"operation"`
	State          contract.State `json:"state"`
	Amount         float64        `json:"amount"`
	GatewayTxnID   string         `json:"gateway_txn_id,omitempty"`
	MerchantPayout float64        `json:"merchant_payout,omitempty"`
	PlatformFee    float64        `json:"platform_fee,omitempty"`
	Deductions     int            `json:"deductions,omitempty"`
}

type cacheEntry[T any] struct {
	Scope  string `json:"scope"`
	Result T      `json:"result"`
}

// once runs fn at most once per (op, key). A replay returns the stored result
// without re-executing side effects. scope ties the key to its target so a key
// reused for another contract is rejected. An unreadable cache fails the call
// with a retryable error rather than risk moving money twice.
func once[T any](ctx context.Context, u *Usecase, op, key, scope string, fn func() (*T, error)) (*T, error) {
	if key == "" {
		return nil, apperr.Invalid("idempotency_key", "is required")
	}
	ck := "settlement:" + op + ":" + key
	raw, hit, err := u.Cache.Get(ctx, ck)
	if err != nil {
		u.Log.Warn("idempotency cache read failed", zap.String("key", ck), zap.Error(err))
		return nil, apperr.Gateway("idempotency_cache", op, err)
	}
	if hit {
		var entry cacheEntry[T]
		if err := json.Unmarshal(raw, &entry); err == nil {
			if entry.Scope != scope {
				return nil, &apperr.IdempotencyConflictError{Key: key}
			}
			return &entry.Result, nil
		}
	}

	res, err := fn()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(cacheEntry[T]{Scope: scope, Result: *res})
	if err == nil {
		err = u.Cache.Set(ctx, ck, b, u.cfg.IdempotencyTTL)
	}
	if err != nil {
		u.Log.Warn("idempotency cache write failed", zap.String("key", ck), zap.Error(err))
	}
	return res, nil
}

func (u *Usecase) load(ctx context.Context, contractID string) (*contract.Contract, error) {
	c, err := u.Contracts.GetByContractID(ctx, contractID)
	if errors.Is(err, contract.ErrNotFound) {
		return nil, apperr.NotFound("contract", contractID)
	}
	return c, err
}

// inContract runs fn under the contract row lock and maps a missing row.
func (u *Usecase) inContract(ctx context.Context, contractID string, fn func(r uow.Repos, c *contract.Contract) error) error {
	err := u.UoW.WithinContractTx(ctx, contractID, fn)
	if errors.Is(err, contract.ErrNotFound) {
		return apperr.NotFound("contract", contractID)
	}
	return err
}

func reference(contractID, op string) string { return contractID + ":" + op }

func (u *Usecase) gatewayErr(op, contractID string, err error) error {
	u.Log.Warn("escrow gateway call failed",
		zap.String("op", op), zap.String("contract_id", contractID), zap.Error(err))
	return apperr.Gateway("escrow", op, err)
}

func notify(typ string, c *contract.Contract, msg string, now time.Time) (*outbox.Event, error) {
	return outbox.New(typ, c.ContractID, outbox.NotificationPayload{
		ContractID: c.ContractID,
		Phone:      c.CustomerPhone,
		Message:    msg,
	}, now)
}

// HoldFunds places the principal in escrow and advances to ESCROW_HELD.
func (u *Usecase) HoldFunds(ctx context.Context, contractID string, amount float64, key string) (*Result, error) {
	return once(ctx, u, OpHold, key, contractID, func() (*Result, error) {
		c, err := u.load(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if err := contract.Require(c, contract.StateEscrowHeld, contract.StateCustomerAuthorized); err != nil {
			return nil, err
		}
		if amount != c.Principal {
			return nil, apperr.Invalid("amount", fmt.Sprintf("must equal principal %.2f", c.Principal))
		}

		ref := reference(contractID, OpHold)
		res, err := u.Escrow.Hold(ctx, amount, ref)
		if err != nil {
			return nil, u.gatewayErr(OpHold, contractID, err)
		}

		now := u.Now().UTC()
		var out *Result
		err = u.inContract(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
			if err := contract.Transition(c, contract.StateEscrowHeld, "escrow hold "+res.TransactionID, actor, now); err != nil {
				return err
			}
			if err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			if err := r.Escrow.Create(ctx, &escrow.Transaction{
				TxnID:        id.NewID32(),
				ContractID:   c.ContractID,
				Kind:         escrow.KindHold,
				Amount:       amount,
				GatewayTxnID: res.TransactionID,
				Reference:    ref,
				PeriodKey:    contract.PayrollCycle(now),
			}); err != nil {
				return err
			}
			if err := r.Ledger.Append(ctx, ledger.NewEvent(c.ContractID, ref, now,
				ledger.Posting{Type: ledger.TypeDisbursement, Account: ledger.LenderAccount(c.LenderID), Amount: -amount},
				ledger.Posting{Type: ledger.TypeDisbursement, Account: ledger.AccountEscrow, Amount: amount},
			)); err != nil {
				return err
			}
			out = &Result{ContractID: c.ContractID, Operation: OpHold, State: c.State, Amount: amount, GatewayTxnID: res.TransactionID}
			return nil
		})
		if err != nil {
			return nil, err
		}
		u.Log.Info("funds held", zap.String("contract_id", contractID), zap.Float64("amount", amount))
		return out, nil
	})
}

// Split returns the merchant payout and platform share for a contract.
func (u *Usecase) Split(c *contract.Contract) (payout, platform float64) {
	platform = math.Round(c.ProcessingFee * u.cfg.PlatformFeeShare)
	return c.Principal - platform, platform
}

// ReleaseFunds settles the merchant and starts repayment.
func (u *Usecase) ReleaseFunds(ctx context.Context, contractID, key string) (*Result, error) {
	return once(ctx, u, OpRelease, key, contractID, func() (*Result, error) {
		c, err := u.load(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if err := contract.Require(c, contract.StateDisbursed, contract.StateEscrowHeld); err != nil {
			return nil, err
		}
		payout, platform := u.Split(c)

		ref := reference(contractID, OpRelease)
		res, err := u.Escrow.Release(ctx, payout, ref)
		if err != nil {
			return nil, u.gatewayErr(OpRelease, contractID, err)
		}

		now := u.Now().UTC()
		var out *Result
		err = u.inContract(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
			if err := contract.Transition(c, contract.StateDisbursed, "merchant paid "+res.TransactionID, actor, now); err != nil {
				return err
			}
			contract.RebaseDueDates(c, now)
			if err := contract.Transition(c, contract.StateInRepayment, "repayment schedule active", actor, now); err != nil {
				return err
			}
			if err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}

			items := make([]contract.DeductionInstruction, 0, len(c.Installments))
			for _, in := range c.Installments {
				items = append(items, contract.DeductionInstruction{
					InstructionID:     id.NewID32(),
					EmployeeID:        c.EmployeeID,
					EmployerID:        c.EmployerID,
					ContractID:        c.ContractID,
					InstallmentID:     in.InstallmentID,
					InstallmentNumber: in.Number,
					MonthlyAmount:     in.AmountDue,
					PayrollCycle:      in.PayrollCycle,
					Status:            contract.DeductionPendingPayroll,
				})
			}
			if err := r.Deductions.CreateBatch(ctx, items); err != nil {
				return err
			}

			postings := []ledger.Posting{
				{Type: ledger.TypeDisbursement, Account: ledger.AccountEscrow, Amount: -c.Principal},
				{Type: ledger.TypeDisbursement, Account: ledger.MerchantAccount(c.MerchantID), Amount: payout},
			}
			if platform != 0 {
				postings = append(postings, ledger.Posting{Type: ledger.TypeFee, Account: ledger.AccountPlatformFee, Amount: platform})
			}
			if err := r.Ledger.Append(ctx, ledger.NewEvent(c.ContractID, ref, now, postings...)); err != nil {
				return err
			}
			if err := r.Escrow.Create(ctx, &escrow.Transaction{
				TxnID:        id.NewID32(),
				ContractID:   c.ContractID,
				Kind:         escrow.KindRelease,
				Amount:       payout,
				GatewayTxnID: res.TransactionID,
				Reference:    ref,
				PeriodKey:    contract.PayrollCycle(now),
			}); err != nil {
				return err
			}
			ev, err := notify(outbox.TypeNotifyContractDisbursed, c, "your order has been paid; first deduction in "+c.Installments[0].PayrollCycle, now)
			if err != nil {
				return err
			}
			if err := r.Outbox.Enqueue(ctx, ev); err != nil {
				return err
			}
			out = &Result{
				ContractID:     c.ContractID,
				Operation:      OpRelease,
				State:          c.State,
				Amount:         c.Principal,
				GatewayTxnID:   res.TransactionID,
				MerchantPayout: payout,
				PlatformFee:    platform,
				Deductions:     len(items),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		u.Log.Info("funds released",
			zap.String("contract_id", contractID), zap.Float64("payout", payout), zap.Float64("platform_fee", platform))
		return out, nil
	})
}

var outstandingDeductions = []contract.DeductionStatus{contract.DeductionPendingPayroll, contract.DeductionSent}

// Refund reverses a contract. Before the hold it is a plain cancellation.
func (u *Usecase) Refund(ctx context.Context, contractID string, amount float64, reason, key string) (*Result, error) {
	return once(ctx, u, OpRefund, key, contractID, func() (*Result, error) {
		c, err := u.load(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if amount < 0 || amount > c.Principal {
			return nil, apperr.Invalid("amount", fmt.Sprintf("must be within [0, %.2f]", c.Principal))
		}
		if amount == 0 {
			amount = c.Principal
		}

		var target contract.State
		switch {
		case contract.IsPreHold(c.State):
			return u.cancelBeforeHold(ctx, contractID, reason)
		case c.State == contract.StateEscrowHeld:
			if amount != c.Principal {
				return nil, apperr.Invalid("amount", "an escrow refund returns the full hold")
			}
			target = contract.StateCancelled
		case c.State == contract.StateDisputed:
			target = contract.StateRefunded
		default:
			return nil, &contract.IllegalTransitionError{ContractID: contractID, From: c.State, To: contract.StateRefunded}
		}
		from := c.State

		ref := reference(contractID, OpRefund)
		res, err := u.Escrow.Refund(ctx, amount, ref)
		if err != nil {
			return nil, u.gatewayErr(OpRefund, contractID, err)
		}

		now := u.Now().UTC()
		var out *Result
		err = u.inContract(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
			if c.State != from {
				return &contract.IllegalTransitionError{ContractID: contractID, From: c.State, To: target}
			}
			source := ledger.AccountEscrow
			if c.Funded() {
				source = ledger.MerchantAccount(c.MerchantID)
			}
			if err := contract.Transition(c, target, reason, actor, now); err != nil {
				return err
			}
			if err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			if err := r.Ledger.Append(ctx, ledger.NewEvent(c.ContractID, ref, now,
				ledger.Posting{Type: ledger.TypeReversal, Account: source, Amount: -amount},
				ledger.Posting{Type: ledger.TypeReversal, Account: ledger.LenderAccount(c.LenderID), Amount: amount},
			)); err != nil {
				return err
			}
			if err := r.Escrow.Create(ctx, &escrow.Transaction{
				TxnID:        id.NewID32(),
				ContractID:   c.ContractID,
				Kind:         escrow.KindRefund,
				Amount:       amount,
				GatewayTxnID: res.TransactionID,
				Reference:    ref,
				PeriodKey:    contract.PayrollCycle(now),
			}); err != nil {
				return err
			}
			if err := r.Lenders.ReleaseCapital(ctx, c.LenderID, c.Principal); err != nil {
				return err
			}
			if _, err := r.Deductions.Transition(ctx, contract.DeductionFilter{
				ContractID: c.ContractID,
				Statuses:   outstandingDeductions,
			}, contract.DeductionFailed); err != nil {
				return err
			}
			ev, err := notify(outbox.TypeNotifyContractCancelled, c, "your order was refunded: "+reason, now)
			if err != nil {
				return err
			}
			if err := r.Outbox.Enqueue(ctx, ev); err != nil {
				return err
			}
			out = &Result{ContractID: c.ContractID, Operation: OpRefund, State: c.State, Amount: amount, GatewayTxnID: res.TransactionID}
			return nil
		})
		if err != nil {
			return nil, err
		}
		u.Log.Info("contract refunded",
			zap.String("contract_id", contractID), zap.String("state", string(target)), zap.Float64("amount", amount))
		return out, nil
	})
}

func (u *Usecase) cancelBeforeHold(ctx context.Context, contractID, reason string) (*Result, error) {
	now := u.Now().UTC()
	var out *Result
	err := u.inContract(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
		if err := contract.Transition(c, contract.StateCancelled, reason, actor, now); err != nil {
			return err
		}
		if err := r.Contracts.Update(ctx, c); err != nil {
			return err
		}
		if err := r.Lenders.ReleaseCapital(ctx, c.LenderID, c.Principal); err != nil {
			return err
		}
		ev, err := notify(outbox.TypeNotifyContractCancelled, c, "your order was cancelled: "+reason, now)
		if err != nil {
			return err
		}
		if err := r.Outbox.Enqueue(ctx, ev); err != nil {
			return err
		}
		out = &Result{ContractID: c.ContractID, Operation: OpRefund, State: c.State}
		return nil
	})
	return out, err
}

// OpenDispute freezes a held or funded contract pending investigation.
func (u *Usecase) OpenDispute(ctx context.Context, contractID, reason, key string) (*Result, error) {
	return once(ctx, u, OpDispute, key, contractID, func() (*Result, error) {
		now := u.Now().UTC()
		var out *Result
		err := u.inContract(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
			if err := contract.Transition(c, contract.StateDisputed, reason, actor, now); err != nil {
				return err
			}
			if err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			out = &Result{ContractID: c.ContractID, Operation: OpDispute, State: c.State}
			return nil
		})
		return out, err
	})
}

// ResolveDispute returns a funded contract to repayment. Unfunded disputes
// end through Refund.
func (u *Usecase) ResolveDispute(ctx context.Context, contractID, note, key string) (*Result, error) {
	return once(ctx, u, OpResolve, key, contractID, func() (*Result, error) {
		now := u.Now().UTC()
		var out *Result
		err := u.inContract(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
			if c.State == contract.StateDisputed && !c.Funded() {
				return apperr.Invalid("contract_id", "dispute on an unfunded contract must be refunded")
			}
			if err := contract.Transition(c, contract.StateInRepayment, note, actor, now); err != nil {
				return err
			}
			if err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			out = &Result{ContractID: c.ContractID, Operation: OpResolve, State: c.State}
			return nil
		})
		return out, err
	})
}
