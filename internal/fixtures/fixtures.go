// Package fixtures loads reference data (lenders, employers, employees,
// merchants) from a yaml file and upserts it through the repository ports.
package fixtures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/party"
	"payroll-bnpl/internal/infrastructure/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type File struct {
	Lenders   []Lender   `yaml:"lenders" validate:"dive"`
	Employers []Employer `yaml:"employers" validate:"dive"`
	Employees []Employee `yaml:"employees" validate:"dive"`
	Merchants []Merchant `yaml:"merchants" validate:"dive"`
}

type Lender struct {
	LenderID     string    `yaml:"lender_id" validate:"required,max=32"`
	Name         string    `yaml:"name" validate:"required"`
	CapitalLimit float64   `yaml:"capital_limit" validate:"gt=0"`
	RiskAppetite string    `yaml:"risk_appetite" validate:"omitempty,oneof=CONSERVATIVE MODERATE AGGRESSIVE"`
	Active       *bool     `yaml:"active"`
	Products     []Product `yaml:"products" validate:"dive"`
}

type Product struct {
	ProductID  string   `yaml:"product_id" validate:"required,max=32"`
	Name       string   `yaml:"name"`
	MinAmount  float64  `yaml:"min_amount" validate:"gte=0"`
	MaxAmount  float64  `yaml:"max_amount" validate:"gtfield=MinAmount"`
	TenorLimit int      `yaml:"tenor_limit" validate:"gt=0"`
	RiskTiers  []string `yaml:"risk_tiers" validate:"required,min=1,dive,oneof=TIER_1 TIER_2 TIER_3"`
	Active     *bool    `yaml:"active"`
}

type Employer struct {
	EmployerID        string `yaml:"employer_id" validate:"required,max=32"`
	Name              string `yaml:"name" validate:"required"`
	ExclusiveLenderID string `yaml:"exclusive_lender_id" validate:"omitempty,max=32"`
	Active            *bool  `yaml:"active"`
}

type Employee struct {
	EmployeeID                string  `yaml:"employee_id" validate:"required,max=32"`
	EmployerID                string  `yaml:"employer_id" validate:"required,max=32"`
	NationalID                string  `yaml:"national_id" validate:"required"`
	Phone                     string  `yaml:"phone" validate:"required,e164|numeric"`
	FullName                  string  `yaml:"full_name"`
	NetSalary                 float64 `yaml:"net_salary" validate:"gt=0"`
	RiskTier                  string  `yaml:"risk_tier" validate:"required,oneof=TIER_1 TIER_2 TIER_3"`
	ExistingMonthlyDeductions float64 `yaml:"existing_monthly_deductions" validate:"gte=0"`
	DeductionLimit            float64 `yaml:"deduction_limit" validate:"gte=0"`
	Active                    *bool   `yaml:"active"`
}

// Merchant ids go on the wire as 32-char hex.
type Merchant struct {
	MerchantID        string `yaml:"merchant_id" validate:"required,len=32,hexadecimal,lowercase"`
	Name              string `yaml:"name" validate:"required"`
	SettlementAccount string `yaml:"settlement_account" validate:"required"`
	Active            *bool  `yaml:"active"`
}

func active(b *bool) bool { return b == nil || *b }

// Parse decodes and validates a fixtures document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

type Seeder struct {
	Lenders   lender.Repository
	Employers party.EmployerRepository
	Employees party.EmployeeRepository
	Merchants party.MerchantRepository
	Log       *zap.Logger
}

type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (s *Stats) add(created bool) {
	if created {
		s.Created++
	} else {
		s.Updated++
	}
}

// Apply upserts everything in f in dependency order, so a reference may
// point at a row from the same file or one already stored. Existing lenders keep their products and
// capital counters; only descriptive attributes and limits are updated.
func (s *Seeder) Apply(ctx context.Context, f *File) (Stats, error) {
	log := logger.OrNop(s.Log)
	var st Stats

	for _, in := range f.Lenders {
		created, err := s.lender(ctx, in)
		if err != nil {
			return st, fmt.Errorf("lender %s: %w", in.LenderID, err)
		}
		st.add(created)
	}
	for _, in := range f.Employers {
		created, err := s.employer(ctx, in)
		if err != nil {
			return st, fmt.Errorf("employer %s: %w", in.EmployerID, err)
		}
		st.add(created)
	}
	for _, in := range f.Employees {
		created, err := s.employee(ctx, in)
		if err != nil {
			return st, fmt.Errorf("employee %s: %w", in.EmployeeID, err)
		}
		st.add(created)
	}
	for _, in := range f.Merchants {
		created, err := s.merchant(ctx, in)
		if err != nil {
			return st, fmt.Errorf("merchant %s: %w", in.MerchantID, err)
		}
		st.add(created)
	}

	log.Info("fixtures applied", zap.Int("created", st.Created), zap.Int("updated", st.Updated))
	return st, nil
}

func (s *Seeder) lender(ctx context.Context, in Lender) (bool, error) {
	appetite := lender.RiskAppetite(in.RiskAppetite)
	if appetite == "" {
		appetite = lender.AppetiteModerate
	}
	cur, err := s.Lenders.GetByLenderID(ctx, in.LenderID)
	switch {
	case errors.Is(err, lender.ErrNotFound):
		l := &lender.Lender{
			LenderID:     in.LenderID,
			Name:         in.Name,
			CapitalLimit: in.CapitalLimit,
			RiskAppetite: appetite,
			IsActive:     active(in.Active),
		}
		for _, p := range in.Products {
			l.Products = append(l.Products, product(in.LenderID, p))
		}
		return true, s.Lenders.Create(ctx, l)
	case err != nil:
		return false, err
	}
	if in.CapitalLimit < cur.CapitalUtilized {
		return false, fmt.Errorf("capital_limit %.2f below utilized %.2f", in.CapitalLimit, cur.CapitalUtilized)
	}
	cur.Name = in.Name
	cur.CapitalLimit = in.CapitalLimit
	cur.RiskAppetite = appetite
	cur.IsActive = active(in.Active)
	return false, s.Lenders.Update(ctx, cur)
}

func product(lenderID string, p Product) lender.Product {
	tiers := make([]party.RiskTier, 0, len(p.RiskTiers))
	for _, t := range p.RiskTiers {
		tiers = append(tiers, party.RiskTier(t))
	}
	return lender.Product{
		ProductID:           p.ProductID,
		LenderID:            lenderID,
		Name:                p.Name,
		MinAmount:           p.MinAmount,
		MaxAmount:           p.MaxAmount,
		TenorLimit:          p.TenorLimit,
		RiskTierEligibility: tiers,
		IsActive:            active(p.Active),
	}
}

func (s *Seeder) employer(ctx context.Context, in Employer) (bool, error) {
	if in.ExclusiveLenderID != "" {
		if _, err := s.Lenders.GetByLenderID(ctx, in.ExclusiveLenderID); err != nil {
			return false, fmt.Errorf("exclusive lender %s: %w", in.ExclusiveLenderID, err)
		}
	}
	cur, err := s.Employers.GetByEmployerID(ctx, in.EmployerID)
	switch {
	case errors.Is(err, party.ErrEmployerNotFound):
		return true, s.Employers.Create(ctx, &party.Employer{
			EmployerID:        in.EmployerID,
			Name:              in.Name,
			ExclusiveLenderID: in.ExclusiveLenderID,
			IsActive:          active(in.Active),
		})
	case err != nil:
		return false, err
	}
	cur.Name = in.Name
	cur.ExclusiveLenderID = in.ExclusiveLenderID
	cur.IsActive = active(in.Active)
	return false, s.Employers.Update(ctx, cur)
}

func (s *Seeder) employee(ctx context.Context, in Employee) (bool, error) {
	if _, err := s.Employers.GetByEmployerID(ctx, in.EmployerID); err != nil {
		return false, fmt.Errorf("employer %s: %w", in.EmployerID, err)
	}
	cur, err := s.Employees.GetByEmployeeID(ctx, in.EmployeeID)
	switch {
	case errors.Is(err, party.ErrEmployeeNotFound):
		cur = &party.Employee{EmployeeID: in.EmployeeID}
	case err != nil:
		return false, err
	}
	cur.EmployerID = in.EmployerID
	cur.NationalID = in.NationalID
	cur.Phone = in.Phone
	cur.FullName = in.FullName
	cur.NetSalary = in.NetSalary
	cur.RiskTier = party.RiskTier(in.RiskTier)
	cur.ExistingMonthlyDeductions = in.ExistingMonthlyDeductions
	cur.DeductionLimit = in.DeductionLimit
	cur.IsActive = active(in.Active)
	if cur.ID == 0 {
		return true, s.Employees.Create(ctx, cur)
	}
	return false, s.Employees.Update(ctx, cur)
}

func (s *Seeder) merchant(ctx context.Context, in Merchant) (bool, error) {
	cur, err := s.Merchants.GetByMerchantID(ctx, in.MerchantID)
	switch {
	case errors.Is(err, party.ErrMerchantNotFound):
		return true, s.Merchants.Create(ctx, &party.Merchant{
			MerchantID:        in.MerchantID,
			Name:              in.Name,
			SettlementAccount: in.SettlementAccount,
			IsActive:          active(in.Active),
		})
	case err != nil:
		return false, err
	}
	cur.Name = in.Name
	cur.SettlementAccount = in.SettlementAccount
	cur.IsActive = active(in.Active)
	return false, s.Merchants.Update(ctx, cur)
}
