package contractmock

import (
	"context"

	"payroll-bnpl/internal/domain/contract"
)

var _ contract.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies contract.Repository.
// Getters with no func return contract.ErrNotFound; writes are no-ops.
type Repo struct {
	CreateFn                   func(ctx context.Context, c *contract.Contract) error
	UpdateFn                   func(ctx context.Context, c *contract.Contract) error
	GetByContractIDFn          func(ctx context.Context, contractID string) (*contract.Contract, error)
	GetByContractIDForUpdateFn func(ctx context.Context, contractID string) (*contract.Contract, error)
	GetByIdempotencyKeyFn      func(ctx context.Context, key string) (*contract.Contract, error)
	ListFn                     func(ctx context.Context, f contract.Filter) ([]contract.Contract, error)
	SetLedgerSyncFn            func(ctx context.Context, contractID string, sync contract.LedgerSync, externalLoanID string) error
	SetInstallmentStatusFn     func(ctx context.Context, installmentID string, from []contract.InstallmentStatus, to contract.InstallmentStatus) error
}

func (m *Repo) Create(ctx context.Context, c *contract.Contract) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, c)
	}
	return nil
}

func (m *Repo) Update(ctx context.Context, c *contract.Contract) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, c)
	}
	return nil
}

func (m *Repo) GetByContractID(ctx context.Context, contractID string) (*contract.Contract, error) {
	if m.GetByContractIDFn != nil {
		return m.GetByContractIDFn(ctx, contractID)
	}
	return nil, contract.ErrNotFound
}

func (m *Repo) GetByContractIDForUpdate(ctx context.Context, contractID string) (*contract.Contract, error) {
	if m.GetByContractIDForUpdateFn != nil {
		return m.GetByContractIDForUpdateFn(ctx, contractID)
	}
	return nil, contract.ErrNotFound
}

func (m *Repo) GetByIdempotencyKey(ctx context.Context, key string) (*contract.Contract, error) {
	if m.GetByIdempotencyKeyFn != nil {
		return m.GetByIdempotencyKeyFn(ctx, key)
	}
	return nil, contract.ErrNotFound
}

func (m *Repo) List(ctx context.Context, f contract.Filter) ([]contract.Contract, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, f)
	}
	return nil, nil
}

func (m *Repo) SetLedgerSync(ctx context.Context, contractID string, sync contract.LedgerSync, externalLoanID string) error {
	if m.SetLedgerSyncFn != nil {
		return m.SetLedgerSyncFn(ctx, contractID, sync, externalLoanID)
	}
	return nil
}

func (m *Repo) SetInstallmentStatus(ctx context.Context, installmentID string, from []contract.InstallmentStatus, to contract.InstallmentStatus) error {
	if m.SetInstallmentStatusFn != nil {
		return m.SetInstallmentStatusFn(ctx, installmentID, from, to)
	}
	return nil
}
