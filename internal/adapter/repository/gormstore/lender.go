package gormstore

import (
	"context"
	"errors"

	"payroll-bnpl/internal/domain/lender"

	"gorm.io/gorm"
)

type LenderRepository struct{ db *gorm.DB }

func NewLenderRepository(db *gorm.DB) *LenderRepository { return &LenderRepository{db: db} }

// Create inserts the lender together with its products.
func (r *LenderRepository) Create(ctx context.Context, l *lender.Lender) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// Update saves lender attributes. Capital counters only move through
// ReserveCapital and ReleaseCapital.
func (r *LenderRepository) Update(ctx context.Context, l *lender.Lender) error {
	return r.db.WithContext(ctx).Model(l).
		Select("name", "capital_limit", "risk_appetite", "is_active").
		Updates(l).Error
}

func (r *LenderRepository) GetByLenderID(ctx context.Context, lenderID string) (*lender.Lender, error) {
	var out lender.Lender
	res := r.db.WithContext(ctx).
		Preload("Products").
		Where("lender_id = ?", lenderID).
		First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, lender.ErrNotFound
	}
	return &out, res.Error
}

func (r *LenderRepository) List(ctx context.Context, f lender.Filter) ([]lender.Lender, error) {
	q := r.db.WithContext(ctx).Preload("Products")
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []lender.Lender
	err := q.Order("lender_id ASC").Find(&out).Error
	return out, err
}

func (r *LenderRepository) ReserveCapital(ctx context.Context, lenderID string, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&lender.Lender{}).
		Where("lender_id = ? AND is_active = ? AND capital_utilized + ? <= capital_limit", lenderID, true, amount).
		Update("capital_utilized", gorm.Expr("capital_utilized + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *LenderRepository) ReleaseCapital(ctx context.Context, lenderID string, amount float64) error {
	res := r.db.WithContext(ctx).Model(&lender.Lender{}).
		Where("lender_id = ?", lenderID).
		Update("capital_utilized", gorm.Expr("CASE WHEN capital_utilized > ? THEN capital_utilized - ? ELSE 0 END", amount, amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lender.ErrNotFound
	}
	return nil
}
