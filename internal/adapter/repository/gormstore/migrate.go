package gormstore

import (
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/escrow"
	"payroll-bnpl/internal/domain/ledger"
	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/outbox"
	"payroll-bnpl/internal/domain/party"
	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/domain/remittance"

	"gorm.io/gorm"
)

// Models lists every persisted entity in dependency order.
func Models() []any {
	return []any{
		&party.Employer{},
		&party.Employee{},
		&party.Merchant{},
		&lender.Lender{},
		&lender.Product{},
		&contract.Contract{},
		&contract.Installment{},
		&contract.TransitionRecord{},
		&contract.DeductionInstruction{},
		&ledger.Entry{},
		&escrow.Transaction{},
		&remittance.Line{},
		&reconciliation.Record{},
		&outbox.Event{},
	}
}

func Migrate(db *gorm.DB) error { return db.AutoMigrate(Models()...) }
