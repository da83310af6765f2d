package portfolio

import (
	"context"
	"errors"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/lender"

	"github.com/shopspring/decimal"
)

// Summary is a lender's capital position and the health of its book.
type Summary struct {
	LenderID           string  `json:"lender_id"`
	CapitalLimit       float64 `json:"capital_limit"`
	CapitalUtilized    float64 `json:"capital_utilized"`
	Available          float64 `json:"available"`
	UtilizationRatio   float64 `json:"utilization_ratio"`
	ContractCount      int     `json:"contract_count"`
	ActiveCount        int     `json:"active_count"`
	Outstanding        float64 `json:"outstanding"`
	OverdueOutstanding float64 `json:"overdue_outstanding"`
	PAR                float64 `json:"par"`
}

type Usecase struct {
	contracts contract.Repository
	lenders   lender.Repository
}

func NewUsecase(contracts contract.Repository, lenders lender.Repository) *Usecase {
	return &Usecase{contracts: contracts, lenders: lenders}
}

var active = []contract.State{contract.StateDisbursed, contract.StateInRepayment, contract.StateDisputed}

func isActive(s contract.State) bool {
	for _, a := range active {
		if s == a {
			return true
		}
	}
	return false
}

// Get computes the summary for lenderID. PAR is the share of outstanding
// balance on contracts that have at least one overdue installment.
func (u *Usecase) Get(ctx context.Context, lenderID string) (*Summary, error) {
	l, err := u.lenders.GetByLenderID(ctx, lenderID)
	if errors.Is(err, lender.ErrNotFound) {
		return nil, apperr.NotFound("lender", lenderID)
	}
	if err != nil {
		return nil, err
	}

	cs, err := u.contracts.List(ctx, contract.Filter{LenderID: lenderID})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		LenderID:         l.LenderID,
		CapitalLimit:     l.CapitalLimit,
		CapitalUtilized:  l.CapitalUtilized,
		Available:        l.Available(),
		UtilizationRatio: l.Utilization(),
		ContractCount:    len(cs),
	}
	outstanding, overdue := decimal.Zero, decimal.Zero
	for _, c := range cs {
		if !isActive(c.State) {
			continue
		}
		s.ActiveCount++
		due := decimal.NewFromFloat(c.TotalDue)
		outstanding = outstanding.Add(due)
		if c.HasOverdue() {
			overdue = overdue.Add(due)
		}
	}
	s.Outstanding = outstanding.InexactFloat64()
	s.OverdueOutstanding = overdue.InexactFloat64()
	if outstanding.IsPositive() {
		s.PAR = overdue.Div(outstanding).Round(4).InexactFloat64()
	}
	return s, nil
}
