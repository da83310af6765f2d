package party

import "time"

type RiskTier string

const (
	Tier1 RiskTier = "TIER_1"
	Tier2 RiskTier = "TIER_2"
	Tier3 RiskTier = "TIER_3"
)

func (t RiskTier) Valid() bool {
	switch t {
	case Tier1, Tier2, Tier3:
		return true
	}
	return false
}

type Employee struct {
	ID                        uint64    `gorm:"primaryKey;column:id" json:"-"`
	EmployeeID                string    `gorm:"size:32;uniqueIndex" json:"employee_id"`
	EmployerID                string    `gorm:"size:32;index" json:"employer_id"`
	NationalID                string    `gorm:"size:32" json:"national_id"`
	Phone                     string    `gorm:"size:20;uniqueIndex" json:"phone"`
	FullName                  string    `gorm:"size:128" json:"full_name"`
	NetSalary                 float64   `gorm:"type:decimal(18,2)" json:"net_salary"`
	RiskTier                  RiskTier  `gorm:"size:8" json:"risk_tier"`
	ExistingMonthlyDeductions float64   `gorm:"type:decimal(18,2)" json:"existing_monthly_deductions"`
	DeductionLimit            float64   `gorm:"type:decimal(18,2)" json:"deduction_limit"`
	IsActive                  bool      `gorm:"not null" json:"is_active"`
	CreatedAt                 time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Employee) TableName() string { return "employees" }

type Employer struct {
	ID                uint64    `gorm:"primaryKey;column:id" json:"-"`
	EmployerID        string    `gorm:"size:32;uniqueIndex" json:"employer_id"`
	Name              string    `gorm:"size:128" json:"name"`
	ExclusiveLenderID string    `gorm:"size:32" json:"exclusive_lender_id,omitempty"`
	IsActive          bool      `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Employer) TableName() string { return "employers" }

type Merchant struct {
	ID                uint64    `gorm:"primaryKey;column:id" json:"-"`
	MerchantID        string    `gorm:"size:32;uniqueIndex" json:"merchant_id"`
	Name              string    `gorm:"size:128" json:"name"`
	SettlementAccount string    `gorm:"size:64" json:"settlement_account"`
	IsActive          bool      `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Merchant) TableName() string { return "merchants" }
