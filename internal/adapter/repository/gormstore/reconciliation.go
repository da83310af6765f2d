package gormstore

import (
	"context"
	"errors"
	"time"

	"payroll-bnpl/internal/domain/reconciliation"

	"gorm.io/gorm"
)

type ReconciliationRepository struct{ db *gorm.DB }

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) CreateBatch(ctx context.Context, recs []reconciliation.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&recs).Error
}

func (r *ReconciliationRepository) GetByRecordID(ctx context.Context, recordID string) (*reconciliation.Record, error) {
	var out reconciliation.Record
	res := r.db.WithContext(ctx).Where("record_id = ?", recordID).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, reconciliation.ErrNotFound
	}
	return &out, res.Error
}

func (r *ReconciliationRepository) List(ctx context.Context, f reconciliation.Filter) ([]reconciliation.Record, error) {
	q := r.db.WithContext(ctx)
	if f.PeriodKey != "" {
		q = q.Where("period_key = ?", f.PeriodKey)
	}
	if f.Channel != "" {
		q = q.Where("channel = ?", f.Channel)
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	var out []reconciliation.Record
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

func (r *ReconciliationRepository) Resolve(ctx context.Context, recordID, note, by string, at time.Time) error {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&reconciliation.Record{}).
		Where("record_id = ? AND resolved_at IS NULL", recordID).
		Updates(map[string]any{
			"resolution_note": note,
			"resolved_by":     by,
			"resolved_at":     &at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.GetByRecordID(ctx, recordID); err != nil {
		return err
	}
	return reconciliation.ErrAlreadyResolved
}
