package gatewayhttp

import (
	"context"
	"net/http"
	"net/url"

	"payroll-bnpl/internal/domain/gateway"
)

var _ gateway.EscrowGateway = (*Escrow)(nil)

type Escrow struct{ c client }

func NewEscrow(o Options) *Escrow { return &Escrow{c: newClient(o)} }

type moneyRequest struct {
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference"`
}

// The reference doubles as the provider's idempotency key.
func (e *Escrow) move(ctx context.Context, op, path string, amount float64, reference string) (gateway.EscrowResult, error) {
	var out gateway.EscrowResult
	err := e.c.do(ctx, op, http.MethodPost, path, moneyRequest{Amount: amount, Reference: reference}, &out,
		map[string]string{"Idempotency-Key": reference})
	return out, err
}

func (e *Escrow) Hold(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error) {
	return e.move(ctx, "escrow.hold", "/holds", amount, reference)
}

func (e *Escrow) Release(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error) {
	return e.move(ctx, "escrow.release", "/releases", amount, reference)
}

func (e *Escrow) Refund(ctx context.Context, amount float64, reference string) (gateway.EscrowResult, error) {
	return e.move(ctx, "escrow.refund", "/refunds", amount, reference)
}

func (e *Escrow) Statement(ctx context.Context, periodKey string) (gateway.EscrowStatement, error) {
	var out gateway.EscrowStatement
	err := e.c.do(ctx, "escrow.statement", http.MethodGet, "/statements/"+url.PathEscape(periodKey), nil, &out, nil)
	return out, err
}
