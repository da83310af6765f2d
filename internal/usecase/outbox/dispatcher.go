// Package outbox delivers durable side effects recorded next to contract
// state changes: loan ledger calls and customer notifications.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/gateway"
	event "payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/infrastructure/logger"
	"payroll-bnpl/internal/pkg/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoHandler      = errors.New("no handler for event type")
	ErrLoanNotCreated = errors.New("loan not yet created in the loan ledger")
)

type Handler func(ctx context.Context, ev event.Event) error

type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Workers     int
	BatchSize   int
	Lease       time.Duration
}

type Deps struct {
	Outbox    event.Repository
	Contracts contract.Repository
	Ledger    gateway.LoanLedgerGateway
	Bus       gateway.EventBus
	Log       *zap.Logger
	Now       func() time.Time
}

type Dispatcher struct {
	Deps
	cfg      Config
	handlers map[string]Handler
}

func NewDispatcher(d Deps, cfg Config) *Dispatcher {
	d.Log = logger.OrNop(d.Log)
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	disp := &Dispatcher{Deps: d, cfg: cfg, handlers: map[string]Handler{}}
	disp.Handle(event.TypeLoanCreate, disp.createLoan)
	disp.Handle(event.TypeLoanRepayment, disp.postRepayment)
	disp.Handle("notify.*", disp.publish)
	return disp
}

// Handle registers h for typ. A type ending in ".*" matches by prefix.
func (d *Dispatcher) Handle(typ string, h Handler) { d.handlers[typ] = h }

func (d *Dispatcher) handler(typ string) Handler {
	if h, ok := d.handlers[typ]; ok {
		return h
	}
	for pattern, h := range d.handlers {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(typ, prefix) {
			return h
		}
	}
	return nil
}

// Backoff returns the delay before retry number attempts (1-based).
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type Stats struct {
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetried
	outcomeFailed
)

// RunOnce claims due events and processes them on the worker pool.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	events, err := d.Outbox.ClaimDue(ctx, d.Now(), d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Claimed: len(events)}
	if len(events) == 0 {
		return stats, nil
	}

	pool := worker.NewPool(d.cfg.Workers)
	defer pool.Stop()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ev := range events {
		wg.Add(1)
		ok := pool.Submit(func() {
			defer wg.Done()
			res := d.process(ctx, ev)
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeDone:
				stats.Done++
			case outcomeRetried:
				stats.Retried++
			case outcomeFailed:
				stats.Failed++
			}
		})
		if !ok {
			wg.Done()
		}
	}
	wg.Wait()
	return stats, nil
}

func (d *Dispatcher) process(ctx context.Context, ev event.Event) outcome {
	log := d.Log.With(zap.String("event_id", ev.EventID), zap.String("type", ev.Type), zap.String("aggregate_id", ev.AggregateID))

	h := d.handler(ev.Type)
	err := ErrNoHandler
	if h != nil {
		err = h(ctx, ev)
	}
	if err == nil {
		if err := d.Outbox.MarkDone(ctx, ev.EventID); err != nil {
			log.Error("mark outbox event done", zap.Error(err))
		}
		return outcomeDone
	}

	attempts := ev.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		if merr := d.Outbox.MarkFailed(ctx, ev.EventID, attempts, err.Error()); merr != nil {
			log.Error("mark outbox event failed", zap.Error(merr))
		}
		d.escalate(ctx, ev, attempts, err)
		return outcomeFailed
	}

	next := d.Now().Add(Backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, attempts))
	if rerr := d.Outbox.Reschedule(ctx, ev.EventID, attempts, next, err.Error()); rerr != nil {
		log.Error("reschedule outbox event", zap.Error(rerr))
	}
	log.Warn("outbox event failed, will retry", zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
	return outcomeRetried
}

// escalate flags the contract and raises an operational alert once retries
// are exhausted.
func (d *Dispatcher) escalate(ctx context.Context, ev event.Event, attempts int, cause error) {
	fields := []zap.Field{
		zap.String("event_id", ev.EventID),
		zap.String("type", ev.Type),
		zap.String("contract_id", ev.AggregateID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}
	if ev.IsLoanEvent() {
		if err := d.Contracts.SetLedgerSync(ctx, ev.AggregateID, contract.LedgerSyncFailed, ""); err != nil {
			d.Log.Error("flag contract ledger sync failed", append(fields, zap.NamedError("flag_error", err))...)
		}
	}
	d.Log.Error("operational alert: outbox event exhausted retries", fields...)

	alert, err := event.New(event.TypeOpsAlert, ev.AggregateID, event.AlertPayload{
		EventID:   ev.EventID,
		EventType: ev.Type,
		Aggregate: ev.AggregateID,
		Attempts:  attempts,
		LastError: cause.Error(),
	}, d.Now())
	if err != nil {
		return
	}
	if err := d.Bus.Publish(ctx, busEvent(*alert, d.Now())); err != nil {
		d.Log.Error("publish operational alert", append(fields, zap.NamedError("publish_error", err))...)
	}
}

func busEvent(ev event.Event, at time.Time) gateway.Event {
	eid := ev.EventID
	if eid == "" {
		eid = uuid.NewString()
	}
	return gateway.Event{
		ID:          eid,
		Type:        ev.Type,
		AggregateID: ev.AggregateID,
		Payload:     []byte(ev.Payload),
		OccurredAt:  at.UTC(),
	}
}

func (d *Dispatcher) createLoan(ctx context.Context, ev event.Event) error {
	var p event.LoanCreatePayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode loan.create: %w", err)
	}
	c, err := d.Contracts.GetByContractID(ctx, p.ContractID)
	if err != nil {
		return err
	}
	if c.ExternalLoanID != "" {
		return nil
	}
	loanID, err := d.Ledger.CreateLoan(ctx, gateway.LoanRequest{
		ContractID:   p.ContractID,
		LenderID:     p.LenderID,
		EmployeeID:   p.EmployeeID,
		Principal:    p.Principal,
		TenorDays:    p.TenorDays,
		InterestRate: p.InterestRate,
		TotalPayable: p.TotalPayable,
	})
	if err != nil {
		return err
	}
	return d.Contracts.SetLedgerSync(ctx, p.ContractID, contract.LedgerSyncConfirmed, loanID)
}

func (d *Dispatcher) postRepayment(ctx context.Context, ev event.Event) error {
	var p event.RepaymentPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode loan.repayment: %w", err)
	}
	c, err := d.Contracts.GetByContractID(ctx, p.ContractID)
	if err != nil {
		return err
	}
	if c.ExternalLoanID == "" {
		return ErrLoanNotCreated
	}
	return d.Ledger.PostRepayment(ctx, c.ExternalLoanID, p.Amount, p.Reference)
}

func (d *Dispatcher) publish(ctx context.Context, ev event.Event) error {
	at := ev.CreatedAt
	if at.IsZero() {
		at = d.Now()
	}
	return d.Bus.Publish(ctx, busEvent(ev, at))
}

// Run polls every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		stats, err := d.RunOnce(ctx)
		if err != nil {
			d.Log.Error("outbox dispatch", zap.Error(err))
		} else if stats.Claimed > 0 {
			d.Log.Info("outbox dispatched",
				zap.Int("claimed", stats.Claimed), zap.Int("done", stats.Done),
				zap.Int("retried", stats.Retried), zap.Int("failed", stats.Failed))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
