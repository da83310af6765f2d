package lender

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("lender not found")

type Filter struct {
	ActiveOnly bool
}

type Repository interface {
	Create(ctx context.Context, l *Lender) error
	Update(ctx context.Context, l *Lender) error
	GetByLenderID(ctx context.Context, lenderID string) (*Lender, error)
	List(ctx context.Context, f Filter) ([]Lender, error)
	// ReserveCapital atomically adds amount to capitalUtilized only if the
	// lender is active and the result stays within capitalLimit.
	ReserveCapital(ctx context.Context, lenderID string, amount float64) (bool, error)
	// ReleaseCapital returns amount to the lender, never going below zero.
	ReleaseCapital(ctx context.Context, lenderID string, amount float64) error
}
