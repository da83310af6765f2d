package gormstore

import (
	"context"
	"time"

	"payroll-bnpl/internal/domain/outbox"

	"gorm.io/gorm"
)

type OutboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) *OutboxRepository { return &OutboxRepository{db: db} }

func (r *OutboxRepository) Enqueue(ctx context.Context, events ...*outbox.Event) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(events).Error
}

func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]outbox.Event, error) {
	now = now.UTC()
	var candidates []outbox.Event
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", outbox.StatusPending, now).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Order("next_attempt_at ASC, id ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	until := now.Add(lease)
	claimed := make([]outbox.Event, 0, len(candidates))
	for _, ev := range candidates {
		// conditional update: only one claimer wins the lease
		res := r.db.WithContext(ctx).Model(&outbox.Event{}).
			Where("id = ? AND status = ?", ev.ID, outbox.StatusPending).
			Where("locked_until IS NULL OR locked_until < ?", now).
			Update("locked_until", &until)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			ev.LockedUntil = &until
			claimed = append(claimed, ev)
		}
	}
	return claimed, nil
}

func (r *OutboxRepository) MarkDone(ctx context.Context, eventID string) error {
	return r.db.WithContext(ctx).Model(&outbox.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       outbox.StatusDone,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_until": nil,
			"last_error":   "",
		}).Error
}

func (r *OutboxRepository) Reschedule(ctx context.Context, eventID string, attempts int, next time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Model(&outbox.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": next.UTC(),
			"locked_until":    nil,
			"last_error":      lastErr,
		}).Error
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID string, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&outbox.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       outbox.StatusFailed,
			"attempts":     attempts,
			"locked_until": nil,
			"last_error":   lastErr,
		}).Error
}

func (r *OutboxRepository) List(ctx context.Context, status outbox.Status, limit int) ([]outbox.Event, error) {
	q := r.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []outbox.Event
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}
