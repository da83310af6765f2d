package allocation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/party"
)

type Strategy string

const (
	RoundRobin        Strategy = "ROUND_ROBIN"
	RiskWeighted      Strategy = "RISK_WEIGHTED"
	EmployerExclusive Strategy = "EMPLOYER_EXCLUSIVE"
	Priority          Strategy = "PRIORITY"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case RoundRobin, RiskWeighted, EmployerExclusive, Priority:
		return st, true
	}
	return "", false
}

type Request struct {
	Amount            float64
	TenorDays         int
	RiskTier          party.RiskTier
	Strategy          Strategy
	ExclusiveLenderID string
	// Exclude holds lenders that already lost a capital race for this request.
	Exclude map[string]bool
}

type Allocation struct {
	LenderID       string   `json:"lender_id"`
	ProductID      string   `json:"product_id"`
	AssignedAmount float64  `json:"assigned_amount"`
	StrategyUsed   Strategy `json:"strategy_used"`
	Reason         string   `json:"reason"`
}

type candidate struct {
	lender  lender.Lender
	product lender.Product
}

type Engine struct{ fallback Strategy }

// NewEngine uses def when a request names no strategy.
func NewEngine(def Strategy) *Engine {
	if _, ok := ParseStrategy(string(def)); !ok {
		def = RoundRobin
	}
	return &Engine{fallback: def}
}

// Allocate picks one lender for the request, or nil when none is eligible.
// It reads lenders only; capital is reserved by the caller.
func (e *Engine) Allocate(req Request, lenders []lender.Lender) *Allocation {
	cands := eligible(req, lenders)
	if len(cands) == 0 {
		return nil
	}
	strategy := req.Strategy
	if _, ok := ParseStrategy(string(strategy)); !ok {
		strategy = e.fallback
	}

	switch strategy {
	case EmployerExclusive:
		if req.ExclusiveLenderID != "" {
			for _, c := range cands {
				if c.lender.LenderID == req.ExclusiveLenderID {
					return result(req, c, EmployerExclusive, "employer exclusive lender")
				}
			}
		}
		c := cands[0]
		return result(req, c, RoundRobin, "exclusive lender unavailable, fell back to round robin")

	case RiskWeighted:
		best, bestScore := cands[0], math.Inf(-1)
		for _, c := range cands {
			// strict > keeps the lowest id on ties
			if s := riskScore(req.RiskTier, c.lender, cands); s > bestScore {
				best, bestScore = c, s
			}
		}
		return result(req, best, RiskWeighted, fmt.Sprintf("highest %s risk score %.3f", req.RiskTier, bestScore))

	case Priority:
		best := cands[0]
		for _, c := range cands[1:] {
			if c.lender.Utilization() < best.lender.Utilization() {
				best = c
			}
		}
		return result(req, best, Priority, fmt.Sprintf("lowest utilization %.3f", best.lender.Utilization()))

	default:
		return result(req, cands[0], RoundRobin, "first eligible lender by id")
	}
}

// Eligible lists the ids of lenders that could fund req, sorted.
func Eligible(req Request, lenders []lender.Lender) []string {
	cands := eligible(req, lenders)
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.lender.LenderID)
	}
	return out
}

func eligible(req Request, lenders []lender.Lender) []candidate {
	var out []candidate
	for _, l := range lenders {
		if !l.IsActive || req.Exclude[l.LenderID] {
			continue
		}
		if l.Available() < req.Amount {
			continue
		}
		if req.RiskTier == party.Tier3 && l.RiskAppetite == lender.AppetiteConservative {
			continue
		}
		p, ok := pickProduct(l, req)
		if !ok {
			continue
		}
		out = append(out, candidate{lender: l, product: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lender.LenderID < out[j].lender.LenderID })
	return out
}

// pickProduct returns the fitting product with the smallest id.
func pickProduct(l lender.Lender, req Request) (lender.Product, bool) {
	var (
		best  lender.Product
		found bool
	)
	for _, p := range l.Products {
		if !p.Fits(req.Amount, req.TenorDays, req.RiskTier) {
			continue
		}
		if !found || p.ProductID < best.ProductID {
			best, found = p, true
		}
	}
	return best, found
}

func appetiteWeight(tier party.RiskTier, a lender.RiskAppetite) float64 {
	switch tier {
	case party.Tier1:
		switch a {
		case lender.AppetiteAggressive:
			return 1
		case lender.AppetiteModerate:
			return 0.6
		}
		return 0.2
	case party.Tier2:
		if a == lender.AppetiteModerate {
			return 1
		}
		return 0.5
	default:
		switch a {
		case lender.AppetiteConservative:
			return 1
		case lender.AppetiteModerate:
			return 0.6
		}
		return 0.2
	}
}

func riskScore(tier party.RiskTier, l lender.Lender, cands []candidate) float64 {
	u := l.Utilization()
	w := appetiteWeight(tier, l.RiskAppetite)
	switch tier {
	case party.Tier1:
		return 0.6*u + 0.4*w
	case party.Tier2:
		return 0.5*(1-math.Abs(u-0.5)*2) + 0.5*w
	default:
		maxLimit := 0.0
		for _, c := range cands {
			maxLimit = math.Max(maxLimit, c.lender.CapitalLimit)
		}
		size := 0.0
		if maxLimit > 0 {
			size = l.CapitalLimit / maxLimit
		}
		return 0.6*size + 0.4*w
	}
}

func result(req Request, c candidate, used Strategy, reason string) *Allocation {
	return &Allocation{
		LenderID:       c.lender.LenderID,
		ProductID:      c.product.ProductID,
		AssignedAmount: req.Amount,
		StrategyUsed:   used,
		Reason:         reason,
	}
}
