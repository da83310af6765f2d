package remittance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("remittance line not found")

type LineStatus string

const (
	LineApplied  LineStatus = "APPLIED"
	LineRejected LineStatus = "REJECTED"
)

// Line is one {contract, amount} row of an employer payroll remittance.
type Line struct {
	ID            uint64     `gorm:"primaryKey;column:id" json:"-"`
	LineID        string     `gorm:"size:32;uniqueIndex" json:"line_id"`
	RemittanceRef string     `gorm:"size:64;index" json:"remittance_ref"`
	EmployerID    string     `gorm:"size:32;index" json:"employer_id"`
	PeriodKey     string     `gorm:"size:7;index" json:"period_key"`
	LineIndex     int        `gorm:"column:line_index" json:"line_index"`
	ContractID    string     `gorm:"size:32;index" json:"contract_id"`
	Amount        float64    `gorm:"type:decimal(18,2)" json:"amount"`
	Applied       float64    `gorm:"type:decimal(18,2)" json:"applied"`
	Status        LineStatus `gorm:"size:16" json:"status"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
	// ApplyKey is set on applied lines only, so each (employer, ref, line)
	// is credited once while rejections may repeat.
	ApplyKey      *string    `gorm:"size:180;uniqueIndex" json:"-"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Line) TableName() string { return "remittance_lines" }

func AppliedKey(employerID, ref string, lineIndex int) string {
	return fmt.Sprintf("%s:%s:%d", employerID, ref, lineIndex)
}

type Repository interface {
	Create(ctx context.Context, l *Line) error
	ListByPeriod(ctx context.Context, periodKey string) ([]Line, error)
	ListByRef(ctx context.Context, ref string) ([]Line, error)
	// GetApplied returns the applied line for (employer, ref, index) or ErrNotFound.
	GetApplied(ctx context.Context, employerID, ref string, lineIndex int) (*Line, error)
}
