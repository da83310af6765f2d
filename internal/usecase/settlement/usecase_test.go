package settlement

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
	"payroll-bnpl/internal/domain/ledger"
	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/testutil/gatewaymock"
	"payroll-bnpl/internal/testutil/testdb"
	"payroll-bnpl/pkg/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	lenderID   = "lender-a"
	employerID = "employer-a"
	merchantID = "merchant-a"
)

type fixture struct {
	db        *gorm.DB
	uc        *Usecase
	esc       *gatewaymock.Escrow
	cache     *gatewaymock.Cache
	now       time.Time
	contracts *gormstore.ContractRepository
	lenders   *gormstore.LenderRepository
	ledger    *gormstore.LedgerRepository
	escrow    *gormstore.EscrowRepository
	deduct    *gormstore.DeductionRepository
	remit     *gormstore.RemittanceRepository
	outbox    *gormstore.OutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	f := &fixture{
		db:        db,
		esc:       &gatewaymock.Escrow{},
		cache:     gatewaymock.NewCache(),
		now:       time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		contracts: gormstore.NewContractRepository(db),
		lenders:   gormstore.NewLenderRepository(db),
		ledger:    gormstore.NewLedgerRepository(db),
		escrow:    gormstore.NewEscrowRepository(db),
		deduct:    gormstore.NewDeductionRepository(db),
		remit:     gormstore.NewRemittanceRepository(db),
		outbox:    gormstore.NewOutboxRepository(db),
	}
	f.uc = NewUsecase(Deps{
		UoW:         gormstore.NewGormUoW(db),
		Contracts:   f.contracts,
		Deductions:  f.deduct,
		Remittances: f.remit,
		Escrow:      f.esc,
		Cache:       f.cache,
		Now:         func() time.Time { return f.now },
	}, Config{PlatformFeeShare: 0.3, DefaultAfterDays: 90, IdempotencyTTL: time.Hour})

	require.NoError(t, f.lenders.Create(context.Background(), &lender.Lender{
		LenderID:        lenderID,
		Name:            "Lender A",
		CapitalLimit:    1_000_000,
		CapitalUtilized: 300_000,
		RiskAppetite:    lender.AppetiteModerate,
		IsActive:        true,
	}))
	return f
}

// seed stores a 300,000 / 90 day contract in the given state with its
// capital already reserved.
func (f *fixture) seed(t *testing.T, state contract.State) *contract.Contract {
	t.Helper()
	c := &contract.Contract{
		ContractID:     id.NewID32(),
		EmployeeID:     id.NewID32(),
		EmployerID:     employerID,
		MerchantID:     merchantID,
		LenderID:       lenderID,
		CustomerPhone:  "+254700000001",
		Principal:      300_000,
		TenorDays:      90,
		State:          state,
		StateUpdatedAt: f.now,
		IdempotencyKey: id.NewID32(),
		LedgerSync:     contract.LedgerSyncPending,
	}
	s, err := contract.BuildSchedule(c.Principal, 0.04, c.TenorDays, f.now)
	require.NoError(t, err)
	s.Apply(c)
	require.NoError(t, f.contracts.Create(context.Background(), c))
	return c
}

func (f *fixture) get(t *testing.T, cid string) *contract.Contract {
	t.Helper()
	c, err := f.contracts.GetByContractID(context.Background(), cid)
	require.NoError(t, err)
	return c
}

func (f *fixture) utilized(t *testing.T) float64 {
	t.Helper()
	l, err := f.lenders.GetByLenderID(context.Background(), lenderID)
	require.NoError(t, err)
	return l.CapitalUtilized
}

// fund runs hold and release so the contract is IN_REPAYMENT.
func (f *fixture) fund(t *testing.T) *contract.Contract {
	t.Helper()
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)
	_, err := f.uc.HoldFunds(ctx, c.ContractID, c.Principal, "hold-"+c.ContractID)
	require.NoError(t, err)
	_, err = f.uc.ReleaseFunds(ctx, c.ContractID, "release-"+c.ContractID)
	require.NoError(t, err)
	return f.get(t, c.ContractID)
}

func TestHoldAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)

	held, err := f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k-hold")
	require.NoError(t, err)
	assert.Equal(t, contract.StateEscrowHeld, held.State)
	assert.Equal(t, "hold-"+c.ContractID+":hold", held.GatewayTxnID)

	rel, err := f.uc.ReleaseFunds(ctx, c.ContractID, "k-release")
	require.NoError(t, err)
	assert.Equal(t, contract.StateInRepayment, rel.State)
	assert.Equal(t, 7_294.0, rel.PlatformFee)
	assert.Equal(t, 292_706.0, rel.MerchantPayout)
	assert.Equal(t, 3, rel.Deductions)
	assert.Equal(t, []string{
		"hold:" + c.ContractID + ":hold:300000.00",
		"release:" + c.ContractID + ":release:292706.00",
	}, f.esc.Calls)

	got := f.get(t, c.ContractID)
	require.NotNil(t, got.FundedAt)
	assert.Equal(t, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), got.Installments[0].DueDate.UTC())
	assert.Equal(t, "2026-04", got.Installments[0].PayrollCycle)
	assert.Len(t, got.Transitions, 3)

	entries, err := f.ledger.ListByContract(ctx, c.ContractID)
	require.NoError(t, err)
	require.NoError(t, ledger.CheckBalanced(entries))
	assert.True(t, ledger.Balance(entries, ledger.AccountEscrow).IsZero())
	assert.Equal(t, -300_000.0, ledger.Balance(entries, ledger.LenderAccount(lenderID)).InexactFloat64())
	assert.Equal(t, 292_706.0, ledger.Balance(entries, ledger.MerchantAccount(merchantID)).InexactFloat64())
	assert.Equal(t, 7_294.0, ledger.Balance(entries, ledger.AccountPlatformFee).InexactFloat64())

	txns, err := f.escrow.ListByContract(ctx, c.ContractID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, escrow.KindHold, txns[0].Kind)
	assert.Equal(t, escrow.KindRelease, txns[1].Kind)
	assert.Equal(t, 292_706.0, txns[1].Amount)

	ds, err := f.deduct.List(ctx, contract.DeductionFilter{ContractID: c.ContractID})
	require.NoError(t, err)
	require.Len(t, ds, 3)
	for _, d := range ds {
		assert.Equal(t, contract.DeductionPendingPayroll, d.Status)
		assert.Equal(t, employerID, d.EmployerID)
	}

	pending, err := f.outbox.List(ctx, outbox.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, outbox.TypeNotifyContractDisbursed, pending[0].Type)
}

func TestHoldFunds_ReplayAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)
	other := f.seed(t, contract.StateCustomerAuthorized)

	first, err := f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k1")
	require.NoError(t, err)
	again, err := f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, f.esc.CallCount())
	assert.Equal(t, gateway.MinIdempotencyTTL, f.cache.TTLs["settlement:hold:k1"])

	_, err = f.uc.HoldFunds(ctx, other.ContractID, 300_000, "k1")
	var conflict *apperr.IdempotencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, contract.StateCustomerAuthorized, f.get(t, other.ContractID).State)

	// a fresh key on an already held contract is refused by the state check
	_, err = f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k2")
	var ite *contract.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, 1, f.esc.CallCount())
}

func TestHoldFunds_GatewayFailureLeavesContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)
	f.esc.HoldFn = func(context.Context, float64, string) (gateway.EscrowResult, error) {
		return gateway.EscrowResult{}, gatewaymock.ErrDown
	}

	_, err := f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeGateway, apperr.CodeOf(err))
	assert.True(t, apperr.IsRetryable(err))
	assert.True(t, errors.Is(err, gatewaymock.ErrDown))
	assert.Equal(t, contract.StateCustomerAuthorized, f.get(t, c.ContractID).State)
	assert.Equal(t, 0, f.cache.Len())
	txns, err := f.escrow.ListByContract(ctx, c.ContractID)
	require.NoError(t, err)
	assert.Empty(t, txns)

	f.esc.HoldFn = nil
	res, err := f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k1")
	require.NoError(t, err)
	assert.Equal(t, contract.StateEscrowHeld, res.State)
}

func TestHoldFunds_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)
	early := f.seed(t, contract.StateOrderCreated)

	_, err := f.uc.HoldFunds(ctx, c.ContractID, 299_999, "k1")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = f.uc.HoldFunds(ctx, early.ContractID, 300_000, "k2")
	assert.Equal(t, apperr.CodeIllegalTransition, apperr.CodeOf(err))

	_, err = f.uc.HoldFunds(ctx, "missing", 300_000, "k3")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.uc.HoldFunds(ctx, c.ContractID, 300_000, "")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	assert.Equal(t, 0, f.esc.CallCount())
}

func TestReleaseFunds_RequiresHold(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, contract.StateCustomerAuthorized)
	_, err := f.uc.ReleaseFunds(context.Background(), c.ContractID, "k1")
	assert.Equal(t, apperr.CodeIllegalTransition, apperr.CodeOf(err))
	assert.Equal(t, 0, f.esc.CallCount())
}

func TestRefund_BeforeHoldCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)

	res, err := f.uc.Refund(ctx, c.ContractID, 0, "customer changed mind", "k1")
	require.NoError(t, err)
	assert.Equal(t, contract.StateCancelled, res.State)
	assert.Equal(t, 0, f.esc.CallCount())
	assert.Equal(t, 0.0, f.utilized(t))

	got := f.get(t, c.ContractID)
	require.NotNil(t, got.ClosedAt)
	entries, err := f.ledger.ListByContract(ctx, c.ContractID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefund_HeldMustBeFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seed(t, contract.StateCustomerAuthorized)
	_, err := f.uc.HoldFunds(ctx, c.ContractID, 300_000, "k-hold")
	require.NoError(t, err)

	_, err = f.uc.Refund(ctx, c.ContractID, 100_000, "partial", "k1")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	res, err := f.uc.Refund(ctx, c.ContractID, 0, "merchant cancelled", "k2")
	require.NoError(t, err)
	assert.Equal(t, contract.StateCancelled, res.State)
	assert.Equal(t, 300_000.0, res.Amount)
	assert.Equal(t, 0.0, f.utilized(t))

	entries, err := f.ledger.ListByContract(ctx, c.ContractID)
	require.NoError(t, err)
	assert.True(t, ledger.Balance(entries, ledger.AccountEscrow).IsZero())
	assert.True(t, ledger.Balance(entries, ledger.LenderAccount(lenderID)).IsZero())
}

func TestDispute_RefundAfterFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.fund(t)

	d, err := f.uc.OpenDispute(ctx, c.ContractID, "goods not delivered", "k-d")
	require.NoError(t, err)
	assert.Equal(t, contract.StateDisputed, d.State)

	res, err := f.uc.Refund(ctx, c.ContractID, 100_000, "partial refund", "k-r")
	require.NoError(t, err)
	assert.Equal(t, contract.StateRefunded, res.State)
	assert.Equal(t, 0.0, f.utilized(t))

	entries, err := f.ledger.ListByContract(ctx, c.ContractID)
	require.NoError(t, err)
	require.NoError(t, ledger.CheckBalanced(entries))
	assert.Equal(t, 192_706.0, ledger.Balance(entries, ledger.MerchantAccount(merchantID)).InexactFloat64())

	ds, err := f.deduct.List(ctx, contract.DeductionFilter{ContractID: c.ContractID})
	require.NoError(t, err)
	for _, d := range ds {
		assert.Equal(t, contract.DeductionFailed, d.Status)
	}

	_, err = f.uc.Refund(ctx, c.ContractID, 0, "again", "k-r2")
	assert.Equal(t, apperr.CodeIllegalTransition, apperr.CodeOf(err))
}

func TestDispute_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	funded := f.fund(t)
	_, err := f.uc.OpenDispute(ctx, funded.ContractID, "wrong size", "d1")
	require.NoError(t, err)
	res, err := f.uc.ResolveDispute(ctx, funded.ContractID, "exchanged", "r1")
	require.NoError(t, err)
	assert.Equal(t, contract.StateInRepayment, res.State)

	held := f.seed(t, contract.StateCustomerAuthorized)
	_, err = f.uc.HoldFunds(ctx, held.ContractID, 300_000, "h2")
	require.NoError(t, err)
	_, err = f.uc.OpenDispute(ctx, held.ContractID, "fraud", "d2")
	require.NoError(t, err)
	_, err = f.uc.ResolveDispute(ctx, held.ContractID, "ok", "r2")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	fresh := f.seed(t, contract.StateOrderCreated)
	_, err = f.uc.OpenDispute(ctx, fresh.ContractID, "x", "d3")
	assert.Equal(t, apperr.CodeIllegalTransition, apperr.CodeOf(err))
}
