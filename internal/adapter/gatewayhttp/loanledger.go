package gatewayhttp

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"payroll-bnpl/internal/domain/gateway"
)

var _ gateway.LoanLedgerGateway = (*LoanLedger)(nil)

type LoanLedger struct{ c client }

func NewLoanLedger(o Options) *LoanLedger { return &LoanLedger{c: newClient(o)} }

func (l *LoanLedger) CreateLoan(ctx context.Context, req gateway.LoanRequest) (string, error) {
	var out struct {
		LoanID string `json:"loan_id"`
	}
	if err := l.c.do(ctx, "ledger.create_loan", http.MethodPost, "/loans", req, &out,
		map[string]string{"Idempotency-Key": "loan:" + req.ContractID}); err != nil {
		return "", err
	}
	if out.LoanID == "" {
		return "", errors.New("ledger.create_loan: empty loan_id in response")
	}
	return out.LoanID, nil
}

func (l *LoanLedger) PostRepayment(ctx context.Context, loanID string, amount float64, reference string) error {
	return l.c.do(ctx, "ledger.post_repayment", http.MethodPost, "/loans/"+url.PathEscape(loanID)+"/repayments",
		moneyRequest{Amount: amount, Reference: reference}, nil,
		map[string]string{"Idempotency-Key": reference})
}

func (l *LoanLedger) GetStatus(ctx context.Context, loanID string) (gateway.LoanStatus, error) {
	var out gateway.LoanStatus
	err := l.c.do(ctx, "ledger.get_status", http.MethodGet, "/loans/"+url.PathEscape(loanID), nil, &out, nil)
	return out, err
}
