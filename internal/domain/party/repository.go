package party

import (
	"context"
	"errors"
)

var (
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrEmployerNotFound = errors.New("employer not found")
	ErrMerchantNotFound = errors.New("merchant not found")
)

type EmployeeFilter struct {
	EmployerID string
	ActiveOnly bool
}

type EmployeeRepository interface {
	Create(ctx context.Context, e *Employee) error
	Update(ctx context.Context, e *Employee) error
	GetByEmployeeID(ctx context.Context, employeeID string) (*Employee, error)
	GetByPhone(ctx context.Context, phone string) (*Employee, error)
	List(ctx context.Context, f EmployeeFilter) ([]Employee, error)
}

type EmployerRepository interface {
	Create(ctx context.Context, e *Employer) error
	Update(ctx context.Context, e *Employer) error
	GetByEmployerID(ctx context.Context, employerID string) (*Employer, error)
	List(ctx context.Context, activeOnly bool) ([]Employer, error)
}

type MerchantRepository interface {
	Create(ctx context.Context, m *Merchant) error
	Update(ctx context.Context, m *Merchant) error
	GetByMerchantID(ctx context.Context, merchantID string) (*Merchant, error)
	List(ctx context.Context, activeOnly bool) ([]Merchant, error)
}
