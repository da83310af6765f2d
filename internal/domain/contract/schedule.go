package contract

import (
	"errors"
	"math"
	"time"

	"payroll-bnpl/pkg/id"

	"github.com/shopspring/decimal"
)

const daysPerMonth = 30

var ErrInvalidTerms = errors.New("principal and tenor must be positive")

type Schedule struct {
	InterestRate      float64
	ProcessingFee     float64
	TotalPayable      float64
	InstallmentAmount float64
	InstallmentCount  int
	Installments      []Installment
}

// AnnuityPayment is the level monthly payment that amortises principal over n months.
func AnnuityPayment(principal, monthlyRate, months float64) float64 {
	if months <= 0 {
		return 0
	}
	if monthlyRate == 0 {
		return principal / months
	}
	return principal * monthlyRate / (1 - math.Pow(1+monthlyRate, -months))
}

// AnnuityPresentValue is the principal that a level monthly payment can service over n months.
func AnnuityPresentValue(payment, monthlyRate, months float64) float64 {
	if monthlyRate == 0 {
		return payment * months
	}
	return payment * (1 - math.Pow(1+monthlyRate, -months)) / monthlyRate
}

func InstallmentCountFor(tenorDays int) int {
	return (tenorDays + daysPerMonth - 1) / daysPerMonth
}

func PayrollCycle(t time.Time) string { return t.UTC().Format("2006-01") }

// BuildSchedule prices a contract and splits totalPayable into monthly
// installments whose amounts sum to it exactly. The last installment takes
// the rounding remainder.
func BuildSchedule(principal, monthlyRate float64, tenorDays int, start time.Time) (Schedule, error) {
	if principal <= 0 || tenorDays <= 0 {
		return Schedule{}, ErrInvalidTerms
	}
	months := float64(tenorDays) / daysPerMonth
	payment := AnnuityPayment(principal, monthlyRate, months)
	fee := math.Max(0, math.Round(payment*months-principal))

	total := decimal.NewFromFloat(principal).Add(decimal.NewFromFloat(fee))
	count := InstallmentCountFor(tenorDays)
	base := total.Div(decimal.NewFromInt(int64(count))).Floor()
	last := total.Sub(base.Mul(decimal.NewFromInt(int64(count - 1))))

	start = start.UTC().Truncate(24 * time.Hour)
	items := make([]Installment, 0, count)
	for n := 1; n <= count; n++ {
		amt := base
		if n == count {
			amt = last
		}
		due := start.AddDate(0, n, 0)
		items = append(items, Installment{
			InstallmentID: id.NewID32(),
			Number:        n,
			DueDate:       due,
			AmountDue:     amt.InexactFloat64(),
			Status:        InstallmentPending,
			PayrollCycle:  PayrollCycle(due),
		})
	}

	return Schedule{
		InterestRate:      monthlyRate,
		ProcessingFee:     fee,
		TotalPayable:      total.InexactFloat64(),
		InstallmentAmount: base.InexactFloat64(),
		InstallmentCount:  count,
		Installments:      items,
	}, nil
}

// Apply copies pricing and installments onto c.
func (s Schedule) Apply(c *Contract) {
	c.InterestRate = s.InterestRate
	c.ProcessingFee = s.ProcessingFee
	c.TotalPayable = s.TotalPayable
	c.TotalDue = s.TotalPayable
	c.InstallmentAmount = s.InstallmentAmount
	c.InstallmentCount = s.InstallmentCount
	c.Installments = s.Installments
	for i := range c.Installments {
		c.Installments[i].ContractID = c.ContractID
	}
}

// RebaseDueDates re-anchors the schedule on the funding date.
func RebaseDueDates(c *Contract, fundedAt time.Time) {
	start := fundedAt.UTC().Truncate(24 * time.Hour)
	for i := range c.Installments {
		due := start.AddDate(0, c.Installments[i].Number, 0)
		c.Installments[i].DueDate = due
		c.Installments[i].PayrollCycle = PayrollCycle(due)
	}
}

// SumDue returns the exact sum of installment amounts.
func SumDue(items []Installment) decimal.Decimal {
	sum := decimal.Zero
	for _, in := range items {
		sum = sum.Add(decimal.NewFromFloat(in.AmountDue))
	}
	return sum
}
