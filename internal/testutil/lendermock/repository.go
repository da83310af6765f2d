package lendermock

import (
	"context"

	"payroll-bnpl/internal/domain/lender"
)

var _ lender.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies lender.Repository.
type Repo struct {
	CreateFn         func(ctx context.Context, l *lender.Lender) error
	UpdateFn         func(ctx context.Context, l *lender.Lender) error
	GetByLenderIDFn  func(ctx context.Context, lenderID string) (*lender.Lender, error)
	ListFn           func(ctx context.Context, f lender.Filter) ([]lender.Lender, error)
	ReserveCapitalFn func(ctx context.Context, lenderID string, amount float64) (bool, error)
	ReleaseCapitalFn func(ctx context.Context, lenderID string, amount float64) error
}

func (m *Repo) Create(ctx context.Context, l *lender.Lender) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, l)
	}
	return nil
}

func (m *Repo) Update(ctx context.Context, l *lender.Lender) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, l)
	}
	return nil
}

func (m *Repo) GetByLenderID(ctx context.Context, lenderID string) (*lender.Lender, error) {
	if m.GetByLenderIDFn != nil {
		return m.GetByLenderIDFn(ctx, lenderID)
	}
	return nil, lender.ErrNotFound
}

func (m *Repo) List(ctx context.Context, f lender.Filter) ([]lender.Lender, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, f)
	}
	return nil, nil
}

// ReserveCapital defaults to a successful reservation.
func (m *Repo) ReserveCapital(ctx context.Context, lenderID string, amount float64) (bool, error) {
	if m.ReserveCapitalFn != nil {
		return m.ReserveCapitalFn(ctx, lenderID, amount)
	}
	return true, nil
}

func (m *Repo) ReleaseCapital(ctx context.Context, lenderID string, amount float64) error {
	if m.ReleaseCapitalFn != nil {
		return m.ReleaseCapitalFn(ctx, lenderID, amount)
	}
	return nil
}
