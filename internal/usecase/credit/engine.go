package credit

import (
	"fmt"
	"math"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/party"
)

// Decline reason codes.
const (
	ReasonApproved            = "APPROVED"
	ReasonNonPositiveSalary   = "NON_POSITIVE_SALARY"
	ReasonInvalidAmount       = "INVALID_AMOUNT"
	ReasonTenorOutOfRange     = "TENOR_OUT_OF_RANGE"
	ReasonCrbScoreMissing     = "CRB_SCORE_MISSING"
	ReasonInvalidRiskTier     = "INVALID_RISK_TIER"
	ReasonNoDeductionCapacity = "NO_DEDUCTION_CAPACITY"
	ReasonLowAffordability    = "LOW_AFFORDABILITY"
)

const (
	MinTenorDays  = 30
	MaxTenorDays  = 180
	minScore      = 40.0
	daysPerMonth  = 30
	noHistoryConf = 50.0
)

var deductionRatio = map[party.RiskTier]float64{
	party.Tier1: 0.40,
	party.Tier2: 0.30,
	party.Tier3: 0.20,
}

var maxTenor = map[party.RiskTier]int{
	party.Tier1: 180,
	party.Tier2: 120,
	party.Tier3: 90,
}

type Config struct {
	MonthlyRate float64
}

// History counts prior settled contracts. OnTime <= Total.
type History struct {
	Total  int
	OnTime int
}

type Input struct {
	NetSalary                 float64
	RiskTier                  party.RiskTier
	ExistingMonthlyDeductions float64
	DeductionLimit            float64
	RequestedAmount           float64
	RequestedTenorDays        int
	CrbScore                  *int
	History                   History
}

type Decision struct {
	Approved           bool    `json:"approved"`
	ReasonCode         string  `json:"reason_code"`
	Reasoning          string  `json:"reasoning"`
	ConfidenceScore    float64 `json:"confidence_score"`
	AvailableCapacity  float64 `json:"available_capacity"`
	EffectiveTenorDays int     `json:"effective_tenor_days"`
	MaxPrincipal       float64 `json:"max_principal"`
	CrbAdjustment      float64 `json:"crb_adjustment"`
	HistoryAdjustment  float64 `json:"history_adjustment"`
	EligibleAmount     float64 `json:"eligible_amount"`
	ApprovedAmount     float64 `json:"approved_amount"`
	MonthlyPayment     float64 `json:"monthly_payment"`
	AffordabilityScore float64 `json:"affordability_score"`
}

// Engine is pure: same input, same decision.
type Engine struct{ cfg Config }

func NewEngine(cfg Config) *Engine { return &Engine{cfg: cfg} }

func decline(code, reasoning string) Decision {
	return Decision{ReasonCode: code, Reasoning: reasoning, ConfidenceScore: 100}
}

// Evaluate never panics and never errors; bad input yields a declined decision.
func (e *Engine) Evaluate(in Input) Decision {
	switch {
	case in.NetSalary <= 0 || math.IsNaN(in.NetSalary):
		return decline(ReasonNonPositiveSalary, fmt.Sprintf("net salary %.2f is not positive", in.NetSalary))
	case in.RequestedAmount <= 0 || math.IsNaN(in.RequestedAmount):
		return decline(ReasonInvalidAmount, fmt.Sprintf("requested amount %.2f is not positive", in.RequestedAmount))
	case in.RequestedTenorDays < MinTenorDays || in.RequestedTenorDays > MaxTenorDays:
		return decline(ReasonTenorOutOfRange, fmt.Sprintf("tenor %d days outside [%d,%d]", in.RequestedTenorDays, MinTenorDays, MaxTenorDays))
	case !in.RiskTier.Valid():
		return decline(ReasonInvalidRiskTier, fmt.Sprintf("unknown risk tier %q", in.RiskTier))
	case in.CrbScore == nil:
		return decline(ReasonCrbScoreMissing, "credit bureau returned no score")
	}
	crb := clamp(float64(*in.CrbScore), 0, 1000)

	capacity := in.NetSalary*deductionRatio[in.RiskTier] - in.ExistingMonthlyDeductions
	if capacity <= 0 {
		d := decline(ReasonNoDeductionCapacity, fmt.Sprintf(
			"%s allows %.0f%% of salary %.0f; existing deductions %.0f leave no capacity",
			in.RiskTier, deductionRatio[in.RiskTier]*100, in.NetSalary, in.ExistingMonthlyDeductions))
		d.AvailableCapacity = capacity
		return d
	}

	tenor := in.RequestedTenorDays
	if limit := maxTenor[in.RiskTier]; tenor > limit {
		tenor = limit
	}
	months := float64(tenor) / daysPerMonth
	maxPrincipal := contract.AnnuityPresentValue(capacity, e.cfg.MonthlyRate, months)

	crbAdj := CrbAdjustment(crb)
	histAdj := HistoryAdjustment(in.History)
	final := maxPrincipal * crbAdj * histAdj
	if in.DeductionLimit > 0 && in.DeductionLimit < final {
		final = in.DeductionLimit
	}

	eligible := math.Max(0, math.Floor(final))
	approved := math.Floor(math.Min(eligible, in.RequestedAmount))

	// priced on what is lent; on the uncapped amount the payment equals capacity
	payment := contract.AnnuityPayment(approved, e.cfg.MonthlyRate, months)
	score := 0.0
	if payment > 0 {
		score = math.Min(100, capacity/payment*20*crb/1000)
	}

	d := Decision{
		AvailableCapacity:  capacity,
		EffectiveTenorDays: tenor,
		MaxPrincipal:       maxPrincipal,
		CrbAdjustment:      crbAdj,
		HistoryAdjustment:  histAdj,
		EligibleAmount:     eligible,
		MonthlyPayment:     payment,
		AffordabilityScore: score,
		ConfidenceScore:    confidence(crb, in.History, score),
	}
	basis := fmt.Sprintf(
		"capacity %.0f/month over %d days; max principal %.0f x crb %.2f x history %.2f = %.0f; payment %.0f; score %.1f",
		capacity, tenor, maxPrincipal, crbAdj, histAdj, eligible, payment, score)

	if eligible > 0 && score >= minScore {
		d.Approved = true
		d.ApprovedAmount = approved
		d.ReasonCode = ReasonApproved
		d.Reasoning = fmt.Sprintf("approved %.0f: %s", approved, basis)
		if approved < in.RequestedAmount {
			d.Reasoning += fmt.Sprintf(" (requested %.0f capped)", in.RequestedAmount)
		}
		return d
	}
	d.ReasonCode = ReasonLowAffordability
	d.Reasoning = fmt.Sprintf("declined, affordability below %.0f: %s", minScore, basis)
	return d
}

// CrbAdjustment maps a bureau score onto the lending multiplier band.
func CrbAdjustment(score float64) float64 {
	switch {
	case score >= 800:
		return 1.0
	case score >= 650:
		return 0.9
	case score >= 500:
		return 0.7
	}
	return 0.5
}

func HistoryAdjustment(h History) float64 {
	if h.Total <= 0 {
		return 1.0
	}
	onTime := clamp(float64(h.OnTime), 0, float64(h.Total))
	return 0.8 + 0.2*onTime/float64(h.Total)
}

// TierForSalary derives a tier from salary bands when none is recorded.
func TierForSalary(netSalary float64) party.RiskTier {
	switch {
	case netSalary >= 2_000_000:
		return party.Tier1
	case netSalary >= 800_000:
		return party.Tier2
	}
	return party.Tier3
}

func confidence(crb float64, h History, score float64) float64 {
	hist := noHistoryConf
	if h.Total > 0 {
		hist = clamp(float64(h.OnTime)/float64(h.Total)*100, 0, 100)
	}
	c := 0.4*crb/10 + 0.2*hist + 0.4*score
	return math.Round(clamp(c, 0, 100)*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
