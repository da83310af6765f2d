package gormstore

import (
	"context"
	"errors"

	"payroll-bnpl/internal/domain/contract"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContractRepository struct{ db *gorm.DB }

func NewContractRepository(db *gorm.DB) *ContractRepository { return &ContractRepository{db: db} }

func (r *ContractRepository) Create(ctx context.Context, c *contract.Contract) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Version == 0 {
			c.Version = 1
		}
		if err := tx.Create(c).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return contract.ErrDuplicateIdempKey
			}
			return err
		}
		if len(c.Installments) > 0 {
			if err := tx.Create(&c.Installments).Error; err != nil {
				return err
			}
		}
		if len(c.Transitions) > 0 {
			if err := tx.Create(&c.Transitions).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ContractRepository) Update(ctx context.Context, c *contract.Contract) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev := c.Version
		c.Version = prev + 1
		res := tx.Model(c).
			Where("version = ?", prev).
			Select("*").Omit("ID", "CreatedAt").
			Updates(c)
		if res.Error != nil {
			c.Version = prev
			return res.Error
		}
		if res.RowsAffected == 0 {
			c.Version = prev
			return contract.ErrConcurrentUpdate
		}

		for i := range c.Installments {
			in := &c.Installments[i]
			var err error
			if in.ID == 0 {
				err = tx.Create(in).Error
			} else {
				err = tx.Save(in).Error
			}
			if err != nil {
				return err
			}
		}
		for i := range c.Transitions {
			if c.Transitions[i].ID != 0 {
				continue
			}
			if err := tx.Create(&c.Transitions[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ContractRepository) GetByContractID(ctx context.Context, contractID string) (*contract.Contract, error) {
	return r.first(ctx, r.db.WithContext(ctx), "contract_id = ?", contractID)
}

// GetByContractIDForUpdate takes a row lock where the dialect supports one.
func (r *ContractRepository) GetByContractIDForUpdate(ctx context.Context, contractID string) (*contract.Contract, error) {
	q := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.first(ctx, q, "contract_id = ?", contractID)
}

func (r *ContractRepository) GetByIdempotencyKey(ctx context.Context, key string) (*contract.Contract, error) {
	return r.first(ctx, r.db.WithContext(ctx), "idempotency_key = ?", key)
}

func (r *ContractRepository) first(ctx context.Context, q *gorm.DB, where string, args ...any) (*contract.Contract, error) {
	var out contract.Contract
	if err := q.Where(where, args...).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contract.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadChildren(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ContractRepository) loadChildren(ctx context.Context, c *contract.Contract) error {
	if err := r.db.WithContext(ctx).
		Where("contract_id = ?", c.ContractID).
		Order("number ASC").
		Find(&c.Installments).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("contract_id = ?", c.ContractID).
		Order("occurred_at ASC, id ASC").
		Find(&c.Transitions).Error
}

func (r *ContractRepository) List(ctx context.Context, f contract.Filter) ([]contract.Contract, error) {
	q := r.db.WithContext(ctx).Model(&contract.Contract{})
	if f.EmployeeID != "" {
		q = q.Where("employee_id = ?", f.EmployeeID)
	}
	if f.EmployerID != "" {
		q = q.Where("employer_id = ?", f.EmployerID)
	}
	if f.LenderID != "" {
		q = q.Where("lender_id = ?", f.LenderID)
	}
	if len(f.States) > 0 {
		q = q.Where("state IN ?", f.States)
	}
	if f.FundedOnly {
		q = q.Where("funded_at IS NOT NULL")
	}
	var out []contract.Contract
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ContractRepository) SetLedgerSync(ctx context.Context, contractID string, sync contract.LedgerSync, externalLoanID string) error {
	updates := map[string]any{"ledger_sync": sync}
	if externalLoanID != "" {
		updates["external_loan_id"] = externalLoanID
	}
	res := r.db.WithContext(ctx).Model(&contract.Contract{}).
		Where("contract_id = ?", contractID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return contract.ErrNotFound
	}
	return nil
}

func (r *ContractRepository) SetInstallmentStatus(ctx context.Context, installmentID string, from []contract.InstallmentStatus, to contract.InstallmentStatus) error {
	q := r.db.WithContext(ctx).Model(&contract.Installment{}).Where("installment_id = ?", installmentID)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	return q.Update("status", to).Error
}

type DeductionRepository struct{ db *gorm.DB }

func NewDeductionRepository(db *gorm.DB) *DeductionRepository { return &DeductionRepository{db: db} }

func (r *DeductionRepository) CreateBatch(ctx context.Context, items []contract.DeductionInstruction) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *DeductionRepository) List(ctx context.Context, f contract.DeductionFilter) ([]contract.DeductionInstruction, error) {
	var out []contract.DeductionInstruction
	err := r.filter(r.db.WithContext(ctx).Model(&contract.DeductionInstruction{}), f).
		Order("contract_id ASC, installment_number ASC").
		Find(&out).Error
	return out, err
}

func (r *DeductionRepository) SetStatusByInstallment(ctx context.Context, installmentID string, status contract.DeductionStatus) error {
	return r.db.WithContext(ctx).Model(&contract.DeductionInstruction{}).
		Where("installment_id = ?", installmentID).
		Update("status", status).Error
}

func (r *DeductionRepository) Transition(ctx context.Context, f contract.DeductionFilter, status contract.DeductionStatus) (int64, error) {
	res := r.filter(r.db.WithContext(ctx).Model(&contract.DeductionInstruction{}), f).Update("status", status)
	return res.RowsAffected, res.Error
}

func (r *DeductionRepository) filter(q *gorm.DB, f contract.DeductionFilter) *gorm.DB {
	if f.EmployerID != "" {
		q = q.Where("employer_id = ?", f.EmployerID)
	}
	if f.ContractID != "" {
		q = q.Where("contract_id = ?", f.ContractID)
	}
	if f.PayrollCycle != "" {
		q = q.Where("payroll_cycle = ?", f.PayrollCycle)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	return q
}
