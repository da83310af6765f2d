package lender

import (
	"time"

	"payroll-bnpl/internal/domain/party"
)

type RiskAppetite string

const (
	AppetiteConservative RiskAppetite = "CONSERVATIVE"
	AppetiteModerate     RiskAppetite = "MODERATE"
	AppetiteAggressive   RiskAppetite = "AGGRESSIVE"
)

// Lender is an independent capital provider. 0 <= CapitalUtilized <= CapitalLimit.
type Lender struct {
	ID              uint64       `gorm:"primaryKey;column:id" json:"-"`
	LenderID        string       `gorm:"size:32;uniqueIndex" json:"lender_id"`
	Name            string       `gorm:"size:128" json:"name"`
	CapitalLimit    float64      `gorm:"type:decimal(18,2)" json:"capital_limit"`
	CapitalUtilized float64      `gorm:"type:decimal(18,2)" json:"capital_utilized"`
	RiskAppetite    RiskAppetite `gorm:"size:16" json:"risk_appetite"`
	IsActive        bool         `gorm:"not null" json:"is_active"`
	Products        []Product    `gorm:"foreignKey:LenderID;references:LenderID" json:"products"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lender) TableName() string { return "lenders" }

func (l Lender) Available() float64 { return l.CapitalLimit - l.CapitalUtilized }

func (l Lender) Utilization() float64 {
	if l.CapitalLimit <= 0 {
		return 1
	}
	return l.CapitalUtilized / l.CapitalLimit
}

type Product struct {
	ID                  uint64           `gorm:"primaryKey;column:id" json:"-"`
	ProductID           string           `gorm:"size:32;uniqueIndex" json:"product_id"`
	LenderID            string           `gorm:"size:32;index" json:"lender_id"`
	Name                string           `gorm:"size:128" json:"name"`
	MinAmount           float64          `gorm:"type:decimal(18,2)" json:"min_amount"`
	MaxAmount           float64          `gorm:"type:decimal(18,2)" json:"max_amount"`
	TenorLimit          int              `json:"tenor_limit"`
	RiskTierEligibility []party.RiskTier `gorm:"serializer:json;type:text" json:"risk_tier_eligibility"`
	IsActive            bool             `gorm:"not null" json:"is_active"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string { return "lender_products" }

func (p Product) EligibleTier(t party.RiskTier) bool {
	for _, et := range p.RiskTierEligibility {
		if et == t {
			return true
		}
	}
	return false
}

// Fits reports whether the product can fund amount over tenorDays for tier.
func (p Product) Fits(amount float64, tenorDays int, tier party.RiskTier) bool {
	return p.IsActive &&
		p.MinAmount <= amount && amount <= p.MaxAmount &&
		p.TenorLimit >= tenorDays &&
		p.EligibleTier(tier)
}
