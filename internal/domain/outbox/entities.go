package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

const (
	TypeLoanCreate              = "loan.create"
	TypeLoanRepayment           = "loan.repayment"
	TypeNotifyContractCreated   = "notify.contract_created"
	TypeNotifyContractDisbursed = "notify.contract_disbursed"
	TypeNotifyContractClosed    = "notify.contract_closed"
	TypeNotifyContractCancelled = "notify.contract_cancelled"
	TypeOpsAlert                = "ops.alert"
)

// Event is a durable side effect written in the same transaction as the
// state change that caused it.
type Event struct {
	ID            uint64     `gorm:"primaryKey;column:id" json:"-"`
	EventID       string     `gorm:"size:36;uniqueIndex" json:"event_id"`
	Type          string     `gorm:"size:64;index" json:"type"`
	AggregateID   string     `gorm:"size:32;index" json:"aggregate_id"`
	Payload       string     `gorm:"type:text" json:"payload"`
	Status        Status     `gorm:"size:16;index:idx_outbox_due" json:"status"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `gorm:"index:idx_outbox_due" json:"next_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Event) TableName() string { return "outbox_events" }

// IsLoanEvent reports events whose failure leaves the contract unconfirmed downstream.
func (e Event) IsLoanEvent() bool { return strings.HasPrefix(e.Type, "loan.") }

func (e Event) Decode(v any) error { return json.Unmarshal([]byte(e.Payload), v) }

func New(typ, aggregateID string, payload any, now time.Time) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:       uuid.NewString(),
		Type:          typ,
		AggregateID:   aggregateID,
		Payload:       string(b),
		Status:        StatusPending,
		NextAttemptAt: now.UTC(),
	}, nil
}

type LoanCreatePayload struct {
	ContractID   string  `json:"contract_id"`
	LenderID     string  `json:"lender_id"`
	EmployeeID   string  `json:"employee_id"`
	Principal    float64 `json:"principal"`
	TenorDays    int     `json:"tenor_days"`
	InterestRate float64 `json:"interest_rate"`
	TotalPayable float64 `json:"total_payable"`
}

type RepaymentPayload struct {
	ContractID string  `json:"contract_id"`
	Amount     float64 `json:"amount"`
	Reference  string  `json:"reference"`
}

type NotificationPayload struct {
	ContractID string `json:"contract_id"`
	Phone      string `json:"phone,omitempty"`
	Message    string `json:"message"`
}

type AlertPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Aggregate string `json:"aggregate_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

type Repository interface {
	Enqueue(ctx context.Context, events ...*Event) error
	// ClaimDue leases up to limit pending events whose next attempt is due.
	// An event is handed to at most one caller per lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Event, error)
	MarkDone(ctx context.Context, eventID string) error
	Reschedule(ctx context.Context, eventID string, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, eventID string, attempts int, lastErr string) error
	List(ctx context.Context, status Status, limit int) ([]Event, error)
}
