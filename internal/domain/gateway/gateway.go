package gateway

import (
	"context"
	"time"
)

type EscrowResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

type EscrowStatement struct {
	PeriodKey string  `json:"period_key"`
	Gross     float64 `json:"gross"`
}

// EscrowGateway is the external escrow provider. reference is deterministic
// per logical operation so the provider can deduplicate retries.
type EscrowGateway interface {
	Hold(ctx context.Context, amount float64, reference string) (EscrowResult, error)
	Release(ctx context.Context, amount float64, reference string) (EscrowResult, error)
	Refund(ctx context.Context, amount float64, reference string) (EscrowResult, error)
	Statement(ctx context.Context, periodKey string) (EscrowStatement, error)
}

type LoanRequest struct {
	ContractID   string  `json:"contract_id"`
	LenderID     string  `json:"lender_id"`
	EmployeeID   string  `json:"employee_id"`
	Principal    float64 `json:"principal"`
	TenorDays    int     `json:"tenor_days"`
	InterestRate float64 `json:"interest_rate"`
	TotalPayable float64 `json:"total_payable"`
}

type LoanStatus struct {
	LoanID      string  `json:"loan_id"`
	Outstanding float64 `json:"outstanding"`
	Status      string  `json:"status"`
}

type LoanLedgerGateway interface {
	CreateLoan(ctx context.Context, req LoanRequest) (string, error)
	PostRepayment(ctx context.Context, loanID string, amount float64, reference string) error
	GetStatus(ctx context.Context, loanID string) (LoanStatus, error)
}

// CrbReport.Score is nil when the bureau has no score for the subject.
type CrbReport struct {
	Score *int `json:"score"`
}

type CrbService interface {
	Check(ctx context.Context, nationalID, phone string) (CrbReport, error)
}

type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	Payload     []byte    `json:"payload"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type EventBus interface {
	Publish(ctx context.Context, ev Event) error
}

type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MinIdempotencyTTL is the shortest retention for cached operation results.
const MinIdempotencyTTL = 24 * time.Hour
