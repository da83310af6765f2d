package gormstore

import (
	"context"
	"errors"

	"payroll-bnpl/internal/domain/party"

	"gorm.io/gorm"
)

type EmployeeRepository struct{ db *gorm.DB }

func NewEmployeeRepository(db *gorm.DB) *EmployeeRepository { return &EmployeeRepository{db: db} }

func (r *EmployeeRepository) Create(ctx context.Context, e *party.Employee) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *EmployeeRepository) Update(ctx context.Context, e *party.Employee) error {
	return r.db.WithContext(ctx).Save(e).Error
}

func (r *EmployeeRepository) GetByEmployeeID(ctx context.Context, employeeID string) (*party.Employee, error) {
	var out party.Employee
	res := r.db.WithContext(ctx).Where("employee_id = ?", employeeID).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, party.ErrEmployeeNotFound
	}
	return &out, res.Error
}

func (r *EmployeeRepository) GetByPhone(ctx context.Context, phone string) (*party.Employee, error) {
	var out party.Employee
	res := r.db.WithContext(ctx).Where("phone = ?", phone).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, party.ErrEmployeeNotFound
	}
	return &out, res.Error
}

func (r *EmployeeRepository) List(ctx context.Context, f party.EmployeeFilter) ([]party.Employee, error) {
	q := r.db.WithContext(ctx)
	if f.EmployerID != "" {
		q = q.Where("employer_id = ?", f.EmployerID)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []party.Employee
	err := q.Order("employee_id ASC").Find(&out).Error
	return out, err
}

type EmployerRepository struct{ db *gorm.DB }

func NewEmployerRepository(db *gorm.DB) *EmployerRepository { return &EmployerRepository{db: db} }

func (r *EmployerRepository) Create(ctx context.Context, e *party.Employer) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *EmployerRepository) Update(ctx context.Context, e *party.Employer) error {
	return r.db.WithContext(ctx).Save(e).Error
}

func (r *EmployerRepository) GetByEmployerID(ctx context.Context, employerID string) (*party.Employer, error) {
	var out party.Employer
	res := r.db.WithContext(ctx).Where("employer_id = ?", employerID).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, party.ErrEmployerNotFound
	}
	return &out, res.Error
}

func (r *EmployerRepository) List(ctx context.Context, activeOnly bool) ([]party.Employer, error) {
	q := r.db.WithContext(ctx)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []party.Employer
	err := q.Order("employer_id ASC").Find(&out).Error
	return out, err
}

type MerchantRepository struct{ db *gorm.DB }

func NewMerchantRepository(db *gorm.DB) *MerchantRepository { return &MerchantRepository{db: db} }

func (r *MerchantRepository) Create(ctx context.Context, m *party.Merchant) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MerchantRepository) Update(ctx context.Context, m *party.Merchant) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *MerchantRepository) GetByMerchantID(ctx context.Context, merchantID string) (*party.Merchant, error) {
	var out party.Merchant
	res := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, party.ErrMerchantNotFound
	}
	return &out, res.Error
}

func (r *MerchantRepository) List(ctx context.Context, activeOnly bool) ([]party.Merchant, error) {
	q := r.db.WithContext(ctx)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []party.Merchant
	err := q.Order("merchant_id ASC").Find(&out).Error
	return out, err
}
