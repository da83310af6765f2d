package uow

import (
	"context"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/escrow"
	"payroll-bnpl/internal/domain/ledger"
	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/domain/remittance"
)

// Repos are bound to one transaction.
type Repos struct {
	Contracts   contract.Repository
	Deductions  contract.DeductionRepository
	Lenders     lender.Repository
	Ledger      ledger.Repository
	Escrow      escrow.Repository
	Remittances remittance.Repository
	Outbox      outbox.Repository
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// lock the contract row first, then pass it in
	WithinContractTx(ctx context.Context, contractID string, fn func(r Repos, c *contract.Contract) error) error
}
