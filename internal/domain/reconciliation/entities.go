package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Channel string

const (
	ChannelPayroll      Channel = "PAYROLL"
	ChannelLenderLedger Channel = "LENDER_LEDGER"
	ChannelEscrow       Channel = "ESCROW"
)

type Status string

const (
	StatusMatched  Status = "MATCHED"
	StatusVariance Status = "VARIANCE"
	StatusMissing  Status = "MISSING"
)

const ScopePeriod = "PERIOD"

var (
	ErrNotFound        = errors.New("reconciliation record not found")
	ErrAlreadyResolved = errors.New("reconciliation record already resolved")
)

// Record is immutable once written; only the resolution columns are set, once.
type Record struct {
	ID             uint64     `gorm:"primaryKey;column:id" json:"-"`
	RecordID       string     `gorm:"size:32;uniqueIndex" json:"record_id"`
	RunID          string     `gorm:"size:36;index" json:"run_id"`
	Channel        Channel    `gorm:"size:16;index" json:"channel"`
	PeriodKey      string     `gorm:"size:7;index" json:"period_key"`
	Scope          string     `gorm:"size:32" json:"scope"`
	ExpectedAmount float64    `gorm:"type:decimal(18,2)" json:"expected_amount"`
	ActualAmount   float64    `gorm:"type:decimal(18,2)" json:"actual_amount"`
	Variance       float64    `gorm:"type:decimal(18,2)" json:"variance"`
	Tolerance      float64    `json:"tolerance"`
	Status         Status     `gorm:"size:16;index" json:"status"`
	Note           string     `gorm:"type:text" json:"note,omitempty"`
	ResolutionNote string     `gorm:"type:text" json:"resolution_note,omitempty"`
	ResolvedBy     string     `gorm:"size:64" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Record) TableName() string { return "reconciliation_records" }

// Classify compares expected with actual. tolerance is a fraction of expected
// (0.01 = 1%); zero means exact.
func Classify(expected, actual, tolerance float64) (Status, float64) {
	exp := decimal.NewFromFloat(expected)
	act := decimal.NewFromFloat(actual)
	variance := exp.Sub(act)

	if act.IsZero() && exp.IsPositive() {
		return StatusMissing, variance.InexactFloat64()
	}
	limit := exp.Abs().Mul(decimal.NewFromFloat(tolerance))
	if variance.Abs().LessThanOrEqual(limit) {
		return StatusMatched, variance.InexactFloat64()
	}
	return StatusVariance, variance.InexactFloat64()
}

type Filter struct {
	PeriodKey string
	Channel   Channel
	RunID     string
}

type Repository interface {
	CreateBatch(ctx context.Context, recs []Record) error
	GetByRecordID(ctx context.Context, recordID string) (*Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	// Resolve sets the resolution columns only if the record is unresolved.
	Resolve(ctx context.Context, recordID, note, by string, at time.Time) error
}
