package gatewaymock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payroll-bnpl/internal/domain/gateway"
)

var (
	_ gateway.EscrowGateway     = (*Escrow)(nil)
	_ gateway.LoanLedgerGateway = (*Ledger)(nil)
	_ gateway.CrbService        = (*Crb)(nil)
	_ gateway.EventBus          = (*Bus)(nil)
	_ gateway.IdempotencyCache  = (*Cache)(nil)
)

var ErrDown = errors.New("gatewaymock: unavailable")

// Escrow succeeds with a reference-derived transaction id unless a func is set.
type Escrow struct {
	mu          sync.Mutex
	Calls       []string
	HoldFn      func(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error)
	ReleaseFn   func(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error)
	RefundFn    func(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error)
	StatementFn func(ctx context.Context, periodKey string) (gateway.EscrowStatement, error)
}

func (m *Escrow) record(op string, amount float64, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, fmt.Sprintf("%s:%s:%.2f", op, ref, amount))
}

// CallCount returns how many Hold/Release/Refund calls were made.
func (m *Escrow) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func ok(op, ref string) gateway.EscrowResult {
	return gateway.EscrowResult{TransactionID: op + "-" + ref, Status: "OK"}
}

func (m *Escrow) Hold(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error) {
	m.record("hold", amount, reference)
	if m.HoldFn != nil {
		return m.HoldFn(ctx, amount, reference)
	}
	return ok("hold", reference), nil
}

func (m *Escrow) Release(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error) {
	m.record("release", amount, reference)
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, amount, reference)
	}
	return ok("release", reference), nil
}

func (m *Escrow) Refund(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error) {
	m.record("refund", amount, reference)
	if m.RefundFn != nil {
		return m.RefundFn(ctx, amount, reference)
	}
	return ok("refund", reference), nil
}

func (m *Escrow) Statement(ctx context.Context, periodKey string) (gateway.EscrowStatement, error) {
	if m.StatementFn != nil {
		return m.StatementFn(ctx, periodKey)
	}
	return gateway.EscrowStatement{PeriodKey: periodKey}, nil
}

type Ledger struct {
	CreateLoanFn    func(ctx context.Context, req gateway.LoanRequest) (string, error)
	PostRepaymentFn func(ctx context.Context, loanID string, amount float64, reference string) error
	GetStatusFn     func(ctx context.Context, loanID string) (gateway.LoanStatus, error)
}

func (m *Ledger) CreateLoan(ctx context.Context, req gateway.LoanRequest) (string, error) {
	if m.CreateLoanFn != nil {
		return m.CreateLoanFn(ctx, req)
	}
	return "LN-" + req.ContractID, nil
}

func (m *Ledger) PostRepayment(ctx context.Context, loanID string, amount float64, reference string) error {
	if m.PostRepaymentFn != nil {
		return m.PostRepaymentFn(ctx, loanID, amount, reference)
	}
	return nil
}

func (m *Ledger) GetStatus(ctx context.Context, loanID string) (gateway.LoanStatus, error) {
	if m.GetStatusFn != nil {
		return m.GetStatusFn(ctx, loanID)
	}
	return gateway.LoanStatus{LoanID: loanID, Status: "ACTIVE"}, nil
}

// Crb returns Score for every subject unless CheckFn is set.
type Crb struct {
	Score   *int
	CheckFn func(ctx context.Context, nationalID, phone string) (gateway.CrbReport, error)
}

func (m *Crb) Check(ctx context.Context, nationalID, phone string) (gateway.CrbReport, error) {
	if m.CheckFn != nil {
		return m.CheckFn(ctx, nationalID, phone)
	}
	return gateway.CrbReport{Score: m.Score}, nil
}

// Bus records published events.
type Bus struct {
	mu        sync.Mutex
	Events    []gateway.Event
	PublishFn func(ctx context.Context, ev gateway.Event) error
}

func (m *Bus) Publish(ctx context.Context, ev gateway.Event) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *Bus) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Events))
	for _, ev := range m.Events {
		out = append(out, ev.Type)
	}
	return out
}

// Cache is an in-memory IdempotencyCache. TTLs are recorded, not enforced.
type Cache struct {
	mu   sync.Mutex
	data map[string][]byte
	TTLs map[string]time.Duration
	Err  error
}

func NewCache() *Cache {
	return &Cache{data: map[string][]byte{}, TTLs: map[string]time.Duration{}}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.data[key] = append([]byte(nil), value...)
	c.TTLs[key] = ttl
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
