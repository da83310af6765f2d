package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/gateway"
	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/domain/party"
	"payroll-bnpl/internal/domain/uow"
	"payroll-bnpl/internal/infrastructure/logger"
	"payroll-bnpl/internal/usecase/allocation"
	"payroll-bnpl/internal/usecase/credit"
	"payroll-bnpl/internal/usecase/settlement"
	"payroll-bnpl/pkg/authtoken"
	"payroll-bnpl/pkg/id"

	"go.uber.org/zap"
)

const actor = "checkout"

var errCapitalTaken = errors.New("lender capital reserved by a concurrent checkout")

type CreditEngine interface {
	Evaluate(in credit.Input) credit.Decision
}

type Allocator interface {
	Allocate(req allocation.Request, lenders []lender.Lender) *allocation.Allocation
}

type Tokens interface {
	Issue(contractID, phone string) (string, error)
	Verify(token, contractID string) (*authtoken.Claims, error)
}

// Holder places the escrow hold once the customer has authorized.
type Holder interface {
	HoldFunds(ctx context.Context, contractID string, amount float64, key string) (*settlement.Result, error)
}

type Config struct {
	MonthlyRate           float64
	Strategy              allocation.Strategy
	IdempotencyTTL        time.Duration
	MaxAllocationAttempts int
}

type Deps struct {
	UoW       uow.UnitOfWork
	Contracts contract.Repository
	Lenders   lender.Repository
	Employees party.EmployeeRepository
	Employers party.EmployerRepository
	Merchants party.MerchantRepository
	Crb       gateway.CrbService
	Cache     gateway.IdempotencyCache
	Credit    CreditEngine
	Allocator Allocator
	Tokens    Tokens
	Holder    Holder
	Log       *zap.Logger
	Now       func() time.Time
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
	if cfg.MaxAllocationAttempts <= 0 {
		cfg.MaxAllocationAttempts = 5
	}
	return &Usecase{Deps: d, cfg: cfg}
}

type Input struct {
	MerchantID     string  `json:"merchant_id" validate:"required,hex32"`
	CustomerPhone  string  `json:"customer_phone" validate:"required,phone"`
	OrderAmount    float64 `json:"order_amount" validate:"gt=0"`
	TenorDays      int     `json:"tenor_days" validate:"tenor"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required,max=128"`
	Strategy       string  `json:"allocation_strategy,omitempty" validate:"omitempty,oneof=ROUND_ROBIN RISK_WEIGHTED EMPLOYER_EXCLUSIVE PRIORITY"`
}

// hash fingerprints the payload so a reused key with a different body is caught.
func (in Input) hash() string {
	b, _ := json.Marshal(struct {
		MerchantID string  `json:"m"`
		Phone      string  `json:"p"`
		Amount     float64 `json:"a"`
		Tenor      int     `json:"t"`
		Strategy   string  `json:"s"`
	}{in.MerchantID, in.CustomerPhone, in.OrderAmount, in.TenorDays, strings.ToUpper(in.Strategy)})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type Result struct {
	ContractID         string         `json:"contract_id"`
	State              contract.State `json:"state"`
	RequestedAmount    float64        `json:"requested_amount"`
	ApprovedAmount     float64        `json:"approved_amount"`
	InstallmentAmount  float64        `json:"installment_amount"`
	InstallmentCount   int            `json:"installment_count"`
	TotalPayable       float64        `json:"total_payable"`
	ProcessingFee      float64        `json:"processing_fee"`
	TenorDays          int            `json:"tenor_days"`
	LenderID           string         `json:"lender_id"`
	AffordabilityScore float64        `json:"affordability_score"`
	ConfidenceScore    float64        `json:"confidence_score"`
	Reasoning          string         `json:"reasoning"`
	AuthToken          string         `json:"auth_token"`
}

type cacheEntry struct {
	Hash   string `json:"hash"`
	Result Result `json:"result"`
}

func cacheKey(key string) string { return "checkout:" + key }

// validate checks shape only; an out-of-range tenor is a credit decline.
func validate(in Input) error {
	switch {
	case strings.TrimSpace(in.MerchantID) == "":
		return apperr.Invalid("merchant_id", "is required")
	case strings.TrimSpace(in.CustomerPhone) == "":
		return apperr.Invalid("customer_phone", "is required")
	case in.OrderAmount <= 0:
		return apperr.Invalid("order_amount", "must be positive")
	case strings.TrimSpace(in.IdempotencyKey) == "":
		return apperr.Invalid("idempotency_key", "is required")
	}
	if in.Strategy != "" {
		if _, ok := allocation.ParseStrategy(in.Strategy); !ok {
			return apperr.Invalid("allocation_strategy", "is not a known strategy")
		}
	}
	return nil
}

// Authorize runs the credit decision, allocates a lender and creates the
// contract. Replays with the same key and payload return the same contract.
func (u *Usecase) Authorize(ctx context.Context, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	hash := in.hash()

	if hit, err := u.cached(ctx, in.IdempotencyKey, hash); err != nil || hit != nil {
		return hit, err
	}
	existing, err := u.Contracts.GetByIdempotencyKey(ctx, in.IdempotencyKey)
	switch {
	case err == nil:
		return u.replay(ctx, in, hash, existing)
	case !errors.Is(err, contract.ErrNotFound):
		return nil, err
	}

	merchant, err := u.Merchants.GetByMerchantID(ctx, in.MerchantID)
	if errors.Is(err, party.ErrMerchantNotFound) || (err == nil && !merchant.IsActive) {
		return nil, apperr.NotFound("merchant", in.MerchantID)
	}
	if err != nil {
		return nil, err
	}
	emp, err := u.Employees.GetByPhone(ctx, in.CustomerPhone)
	if errors.Is(err, party.ErrEmployeeNotFound) || (err == nil && !emp.IsActive) {
		return nil, apperr.NotFound("employee", in.CustomerPhone)
	}
	if err != nil {
		return nil, err
	}
	employer, err := u.Employers.GetByEmployerID(ctx, emp.EmployerID)
	if errors.Is(err, party.ErrEmployerNotFound) || (err == nil && !employer.IsActive) {
		return nil, apperr.NotFound("employer", emp.EmployerID)
	}
	if err != nil {
		return nil, err
	}

	decision, err := u.decide(ctx, in, emp)
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		u.Log.Info("checkout declined",
			zap.String("employee_id", emp.EmployeeID), zap.String("reason_code", decision.ReasonCode))
		return nil, &apperr.AffordabilityDeclinedError{
			ReasonCode: decision.ReasonCode,
			Reasoning:  decision.Reasoning,
			Confidence: decision.ConfidenceScore,
		}
	}

	c, err := u.allocateAndCreate(ctx, in, emp, employer, decision)
	if errors.Is(err, contract.ErrDuplicateIdempKey) {
		existing, gerr := u.Contracts.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if gerr != nil {
			return nil, gerr
		}
		return u.replay(ctx, in, hash, existing)
	}
	if err != nil {
		return nil, err
	}

	res, err := u.result(c)
	if err != nil {
		return nil, err
	}
	res.RequestedAmount = in.OrderAmount
	u.store(ctx, in.IdempotencyKey, hash, res)
	u.Log.Info("checkout authorized",
		zap.String("contract_id", c.ContractID), zap.String("lender_id", c.LenderID),
		zap.Float64("approved_amount", c.Principal))
	return res, nil
}

func (u *Usecase) cached(ctx context.Context, key, hash string) (*Result, error) {
	raw, hit, err := u.Cache.Get(ctx, cacheKey(key))
	if err != nil {
		u.Log.Warn("idempotency cache read failed", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	if !hit {
		return nil, nil
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil
	}
	if entry.Hash != hash {
		return nil, &apperr.IdempotencyConflictError{Key: key}
	}
	return &entry.Result, nil
}

func (u *Usecase) store(ctx context.Context, key, hash string, res *Result) {
	b, err := json.Marshal(cacheEntry{Hash: hash, Result: *res})
	if err == nil {
		err = u.Cache.Set(ctx, cacheKey(key), b, u.cfg.IdempotencyTTL)
	}
	if err != nil {
		u.Log.Warn("idempotency cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// replay answers a repeated key from the stored contract.
func (u *Usecase) replay(ctx context.Context, in Input, hash string, c *contract.Contract) (*Result, error) {
	if c.MerchantID != in.MerchantID || c.CustomerPhone != in.CustomerPhone || c.TenorDays > in.TenorDays {
		return nil, &apperr.IdempotencyConflictError{Key: in.IdempotencyKey}
	}
	res, err := u.result(c)
	if err != nil {
		return nil, err
	}
	res.RequestedAmount = in.OrderAmount
	u.store(ctx, in.IdempotencyKey, hash, res)
	return res, nil
}

func (u *Usecase) result(c *contract.Contract) (*Result, error) {
	token, err := u.Tokens.Issue(c.ContractID, c.CustomerPhone)
	if err != nil {
		return nil, err
	}
	return &Result{
		ContractID:         c.ContractID,
		State:              c.State,
		ApprovedAmount:     c.Principal,
		InstallmentAmount:  c.InstallmentAmount,
		InstallmentCount:   c.InstallmentCount,
		TotalPayable:       c.TotalPayable,
		ProcessingFee:      c.ProcessingFee,
		TenorDays:          c.TenorDays,
		LenderID:           c.LenderID,
		AffordabilityScore: c.AffordabilityScore,
		ConfidenceScore:    c.ConfidenceScore,
		Reasoning:          c.DecisionReasoning,
		AuthToken:          token,
	}, nil
}

func (u *Usecase) decide(ctx context.Context, in Input, emp *party.Employee) (credit.Decision, error) {
	report, err := u.Crb.Check(ctx, emp.NationalID, emp.Phone)
	if err != nil {
		u.Log.Warn("crb check failed", zap.String("employee_id", emp.EmployeeID), zap.Error(err))
		report = gateway.CrbReport{}
	}

	history, committed, err := u.exposure(ctx, emp.EmployeeID)
	if err != nil {
		return credit.Decision{}, err
	}

	tier := emp.RiskTier
	if tier == "" {
		tier = credit.TierForSalary(emp.NetSalary)
	}
	return u.Credit.Evaluate(credit.Input{
		NetSalary:                 emp.NetSalary,
		RiskTier:                  tier,
		ExistingMonthlyDeductions: emp.ExistingMonthlyDeductions + committed,
		DeductionLimit:            emp.DeductionLimit,
		RequestedAmount:           in.OrderAmount,
		RequestedTenorDays:        in.TenorDays,
		CrbScore:                  report.Score,
		History:                   history,
	}), nil
}

// exposure derives repayment history from settled contracts and the monthly
// deductions already committed by live ones.
func (u *Usecase) exposure(ctx context.Context, employeeID string) (credit.History, float64, error) {
	prior, err := u.Contracts.List(ctx, contract.Filter{EmployeeID: employeeID})
	if err != nil {
		return credit.History{}, 0, err
	}
	var h credit.History
	var committed float64
	for _, c := range prior {
		switch c.State {
		case contract.StateClosed:
			h.Total++
			if paidOnTime(&c) {
				h.OnTime++
			}
		case contract.StateDefaulted:
			h.Total++
		case contract.StateCancelled, contract.StateRefunded:
		default:
			committed += c.InstallmentAmount
		}
	}
	return h, committed, nil
}

func paidOnTime(c *contract.Contract) bool {
	for _, in := range c.Installments {
		if in.PaidAt == nil || in.PaidAt.After(in.DueDate.Add(24*time.Hour)) {
			return false
		}
	}
	return true
}

func (u *Usecase) allocateAndCreate(ctx context.Context, in Input, emp *party.Employee, employer *party.Employer, d credit.Decision) (*contract.Contract, error) {
	strategy := u.cfg.Strategy
	if s, ok := allocation.ParseStrategy(in.Strategy); ok {
		strategy = s
	}
	tier := emp.RiskTier
	if tier == "" {
		tier = credit.TierForSalary(emp.NetSalary)
	}
	req := allocation.Request{
		Amount:            d.ApprovedAmount,
		TenorDays:         d.EffectiveTenorDays,
		RiskTier:          tier,
		Strategy:          strategy,
		ExclusiveLenderID: employer.ExclusiveLenderID,
		Exclude:           map[string]bool{},
	}

	for attempt := 1; attempt <= u.cfg.MaxAllocationAttempts; attempt++ {
		lenders, err := u.Lenders.List(ctx, lender.Filter{ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		alloc := u.Allocator.Allocate(req, lenders)
		if alloc == nil {
			return nil, &apperr.NoEligibleLenderError{Amount: req.Amount, Reason: noLenderReason(req)}
		}

		c, err := u.newContract(in, emp, d, alloc, tier)
		if err != nil {
			return nil, err
		}
		err = u.UoW.WithinTx(ctx, func(r uow.Repos) error {
			ok, err := r.Lenders.ReserveCapital(ctx, alloc.LenderID, c.Principal)
			if err != nil {
				return err
			}
			if !ok {
				return errCapitalTaken
			}
			if err := r.Contracts.Create(ctx, c); err != nil {
				return err
			}
			events, err := createdEvents(c, u.Now())
			if err != nil {
				return err
			}
			return r.Outbox.Enqueue(ctx, events...)
		})
		if errors.Is(err, errCapitalTaken) {
			u.Log.Info("lender capital race lost, retrying allocation",
				zap.String("lender_id", alloc.LenderID), zap.Int("attempt", attempt))
			req.Exclude[alloc.LenderID] = true
			continue
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, &apperr.NoEligibleLenderError{Amount: req.Amount, Reason: "capital exhausted by concurrent checkouts"}
}

func noLenderReason(req allocation.Request) string {
	if len(req.Exclude) > 0 {
		return "remaining lenders lack capital"
	}
	return fmt.Sprintf("no active product fits %d days for %s", req.TenorDays, req.RiskTier)
}

func (u *Usecase) newContract(in Input, emp *party.Employee, d credit.Decision, alloc *allocation.Allocation, tier party.RiskTier) (*contract.Contract, error) {
	now := u.Now().UTC()
	c := &contract.Contract{
		ContractID:         id.NewID32(),
		EmployeeID:         emp.EmployeeID,
		EmployerID:         emp.EmployerID,
		MerchantID:         in.MerchantID,
		LenderID:           alloc.LenderID,
		ProductID:          alloc.ProductID,
		CustomerPhone:      in.CustomerPhone,
		Principal:          d.ApprovedAmount,
		TenorDays:          d.EffectiveTenorDays,
		RiskTier:           string(tier),
		AffordabilityScore: d.AffordabilityScore,
		ConfidenceScore:    d.ConfidenceScore,
		DecisionReasoning:  d.Reasoning,
		AllocationStrategy: string(alloc.StrategyUsed),
		AllocationReason:   alloc.Reason,
		IdempotencyKey:     in.IdempotencyKey,
		LedgerSync:         contract.LedgerSyncPending,
		State:              contract.StatePreApproved,
		StateUpdatedAt:     now,
	}
	s, err := contract.BuildSchedule(c.Principal, u.cfg.MonthlyRate, c.TenorDays, now)
	if err != nil {
		return nil, apperr.Invalid("order_amount", err.Error())
	}
	s.Apply(c)
	c.Transitions = []contract.TransitionRecord{{
		ContractID: c.ContractID,
		To:         contract.StatePreApproved,
		Reason:     d.Reasoning,
		Actor:      actor,
		OccurredAt: now,
	}}
	if err := contract.Transition(c, contract.StateOrderCreated, alloc.Reason, actor, now); err != nil {
		return nil, err
	}
	return c, nil
}

func createdEvents(c *contract.Contract, now time.Time) ([]*outbox.Event, error) {
	loan, err := outbox.New(outbox.TypeLoanCreate, c.ContractID, outbox.LoanCreatePayload{
		ContractID:   c.ContractID,
		LenderID:     c.LenderID,
		EmployeeID:   c.EmployeeID,
		Principal:    c.Principal,
		TenorDays:    c.TenorDays,
		InterestRate: c.InterestRate,
		TotalPayable: c.TotalPayable,
	}, now)
	if err != nil {
		return nil, err
	}
	note, err := outbox.New(outbox.TypeNotifyContractCreated, c.ContractID, outbox.NotificationPayload{
		ContractID: c.ContractID,
		Phone:      c.CustomerPhone,
		Message:    fmt.Sprintf("confirm your order of %.0f in %d installments of %.0f", c.Principal, c.InstallmentCount, c.InstallmentAmount),
	}, now)
	if err != nil {
		return nil, err
	}
	return []*outbox.Event{loan, note}, nil
}

// CustomerAuthorize records the customer's consent and places the escrow hold.
func (u *Usecase) CustomerAuthorize(ctx context.Context, contractID, token, key string) (*settlement.Result, error) {
	if key == "" {
		return nil, apperr.Invalid("idempotency_key", "is required")
	}
	c, err := u.Contracts.GetByContractID(ctx, contractID)
	if errors.Is(err, contract.ErrNotFound) {
		return nil, apperr.NotFound("contract", contractID)
	}
	if err != nil {
		return nil, err
	}
	claims, err := u.Tokens.Verify(token, contractID)
	if err != nil || claims.Phone != c.CustomerPhone {
		return nil, apperr.Invalid("auth_token", "is invalid or expired")
	}

	switch c.State {
	case contract.StateOrderCreated, contract.StateDeductionRequested:
		now := u.Now().UTC()
		err := u.UoW.WithinContractTx(ctx, contractID, func(r uow.Repos, c *contract.Contract) error {
			if c.State == contract.StateCustomerAuthorized {
				return nil
			}
			if err := contract.Transition(c, contract.StateCustomerAuthorized, "customer confirmed", actor, now); err != nil {
				return err
			}
			return r.Contracts.Update(ctx, c)
		})
		if err != nil {
			return nil, err
		}
	case contract.StateCustomerAuthorized, contract.StateEscrowHeld:
	default:
		return nil, &contract.IllegalTransitionError{ContractID: contractID, From: c.State, To: contract.StateCustomerAuthorized}
	}

	return u.Holder.HoldFunds(ctx, contractID, c.Principal, key+":hold")
}

func (u *Usecase) Get(ctx context.Context, contractID string) (*contract.Contract, error) {
	c, err := u.Contracts.GetByContractID(ctx, contractID)
	if errors.Is(err, contract.ErrNotFound) {
		return nil, apperr.NotFound("contract", contractID)
	}
	return c, err
}
