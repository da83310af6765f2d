package gatewayhttp

import (
	"context"
	"errors"
	"net/http"

	"payroll-bnpl/internal/domain/gateway"
)

var _ gateway.CrbService = (*Crb)(nil)

type Crb struct{ c client }

func NewCrb(o Options) *Crb { return &Crb{c: newClient(o)} }

type crbRequest struct {
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
}

// Check returns a report with a nil score when the bureau has no file on the subject.
func (b *Crb) Check(ctx context.Context, nationalID, phone string) (gateway.CrbReport, error) {
	var out gateway.CrbReport
	err := b.c.do(ctx, "crb.check", http.MethodPost, "/checks", crbRequest{NationalID: nationalID, Phone: phone}, &out, nil)
	if errors.Is(err, ErrNotFound) {
		return gateway.CrbReport{}, nil
	}
	return out, err
}
