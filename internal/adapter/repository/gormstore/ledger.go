package gormstore

import (
	"context"
	"errors"

	"payroll-bnpl/internal/domain/escrow"
	"payroll-bnpl/internal/domain/ledger"
	"payroll-bnpl/internal/domain/remittance"

	"gorm.io/gorm"
)

type LedgerRepository struct{ db *gorm.DB }

func NewLedgerRepository(db *gorm.DB) *LedgerRepository { return &LedgerRepository{db: db} }

func (r *LedgerRepository) Append(ctx context.Context, entries []ledger.Entry) error {
	if err := ledger.CheckBalanced(entries); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *LedgerRepository) ListByContract(ctx context.Context, contractID string) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

type EscrowRepository struct{ db *gorm.DB }

func NewEscrowRepository(db *gorm.DB) *EscrowRepository { return &EscrowRepository{db: db} }

func (r *EscrowRepository) Create(ctx context.Context, t *escrow.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *EscrowRepository) ListByPeriod(ctx context.Context, periodKey string) ([]escrow.Transaction, error) {
	var out []escrow.Transaction
	err := r.db.WithContext(ctx).Where("period_key = ?", periodKey).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *EscrowRepository) ListByContract(ctx context.Context, contractID string) ([]escrow.Transaction, error) {
	var out []escrow.Transaction
	err := r.db.WithContext(ctx).Where("contract_id = ?", contractID).Order("id ASC").Find(&out).Error
	return out, err
}

type RemittanceRepository struct{ db *gorm.DB }

func NewRemittanceRepository(db *gorm.DB) *RemittanceRepository {
	return &RemittanceRepository{db: db}
}

func (r *RemittanceRepository) Create(ctx context.Context, l *remittance.Line) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *RemittanceRepository) ListByPeriod(ctx context.Context, periodKey string) ([]remittance.Line, error) {
	var out []remittance.Line
	err := r.db.WithContext(ctx).Where("period_key = ?", periodKey).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *RemittanceRepository) ListByRef(ctx context.Context, ref string) ([]remittance.Line, error) {
	var out []remittance.Line
	err := r.db.WithContext(ctx).Where("remittance_ref = ?", ref).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *RemittanceRepository) GetApplied(ctx context.Context, employerID, ref string, lineIndex int) (*remittance.Line, error) {
	var l remittance.Line
	err := r.db.WithContext(ctx).
		Where("apply_key = ?", remittance.AppliedKey(employerID, ref, lineIndex)).
		Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, remittance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
