package contract

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("contract not found")
	ErrConcurrentUpdate  = errors.New("contract was modified concurrently")
	ErrDuplicateIdempKey = errors.New("contract already exists for idempotency key")
)

type Filter struct {
	EmployeeID string
	EmployerID string
	LenderID   string
	States     []State
	FundedOnly bool
}

type Repository interface {
	// Create persists the contract with its installments and transition history.
	Create(ctx context.Context, c *Contract) error
	// Update writes c if its version still matches, bumps the version and
	// persists new transitions and changed installments.
	Update(ctx context.Context, c *Contract) error
	GetByContractID(ctx context.Context, contractID string) (*Contract, error)
	GetByContractIDForUpdate(ctx context.Context, contractID string) (*Contract, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Contract, error)
	List(ctx context.Context, f Filter) ([]Contract, error)
	// SetLedgerSync records downstream confirmation without touching the version.
	SetLedgerSync(ctx context.Context, contractID string, sync LedgerSync, externalLoanID string) error
	SetInstallmentStatus(ctx context.Context, installmentID string, from []InstallmentStatus, to InstallmentStatus) error
}

type DeductionFilter struct {
	EmployerID   string
	ContractID   string
	PayrollCycle string
	Statuses     []DeductionStatus
}

type DeductionRepository interface {
	CreateBatch(ctx context.Context, items []DeductionInstruction) error
	List(ctx context.Context, f DeductionFilter) ([]DeductionInstruction, error)
	SetStatusByInstallment(ctx context.Context, installmentID string, status DeductionStatus) error
	// Transition moves every matching instruction to status and returns how many changed.
	Transition(ctx context.Context, f DeductionFilter, status DeductionStatus) (int64, error)
}
