package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/usecase/checkout"
	"payroll-bnpl/internal/usecase/portfolio"
	ucrecon "payroll-bnpl/internal/usecase/reconciliation"
	"payroll-bnpl/internal/usecase/settlement"

	"github.com/labstack/echo/v4"
)

const cid = "0123456789abcdef0123456789abcdef"

func newEchoWithValidator() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func mustJSON(v any) *bytes.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func call(t *testing.T, e *echo.Echo, method, path string, body io.Reader, key string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("bad json %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

type fakeCheckout struct {
	AuthorizeFn         func(ctx context.Context, in checkout.Input) (*checkout.Result, error)
	CustomerAuthorizeFn func(ctx context.Context, contractID, token, key string) (*settlement.Result, error)
	GetFn               func(ctx context.Context, contractID string) (*contract.Contract, error)
}

func (f *fakeCheckout) Authorize(ctx context.Context, in checkout.Input) (*checkout.Result, error) {
	return f.AuthorizeFn(ctx, in)
}
func (f *fakeCheckout) CustomerAuthorize(ctx context.Context, contractID, token, key string) (*settlement.Result, error) {
	return f.CustomerAuthorizeFn(ctx, contractID, token, key)
}
func (f *fakeCheckout) Get(ctx context.Context, contractID string) (*contract.Contract, error) {
	return f.GetFn(ctx, contractID)
}

type fakeSettlement struct {
	ReleaseFundsFn   func(ctx context.Context, contractID, key string) (*settlement.Result, error)
	RefundFn         func(ctx context.Context, contractID string, amount float64, reason, key string) (*settlement.Result, error)
	OpenDisputeFn    func(ctx context.Context, contractID, reason, key string) (*settlement.Result, error)
	ResolveDisputeFn func(ctx context.Context, contractID, note, key string) (*settlement.Result, error)
	RemittanceFn     func(ctx context.Context, rem settlement.Remittance, key string) (*settlement.RemittanceResult, error)
	DispatchFn       func(ctx context.Context, employerID, cycle string) ([]contract.DeductionInstruction, error)
}

func (f *fakeSettlement) ReleaseFunds(ctx context.Context, contractID, key string) (*settlement.Result, error) {
	return f.ReleaseFundsFn(ctx, contractID, key)
}
func (f *fakeSettlement) Refund(ctx context.Context, contractID string, amount float64, reason, key string) (*settlement.Result, error) {
	return f.RefundFn(ctx, contractID, amount, reason, key)
}
func (f *fakeSettlement) OpenDispute(ctx context.Context, contractID, reason, key string) (*settlement.Result, error) {
	return f.OpenDisputeFn(ctx, contractID, reason, key)
}
func (f *fakeSettlement) ResolveDispute(ctx context.Context, contractID, note, key string) (*settlement.Result, error) {
	return f.ResolveDisputeFn(ctx, contractID, note, key)
}
func (f *fakeSettlement) PostPayrollRemittance(ctx context.Context, rem settlement.Remittance, key string) (*settlement.RemittanceResult, error) {
	return f.RemittanceFn(ctx, rem, key)
}
func (f *fakeSettlement) DispatchDeductions(ctx context.Context, employerID, cycle string) ([]contract.DeductionInstruction, error) {
	return f.DispatchFn(ctx, employerID, cycle)
}

type fakePortfolio struct {
	GetFn func(ctx context.Context, lenderID string) (*portfolio.Summary, error)
}

func (f *fakePortfolio) Get(ctx context.Context, lenderID string) (*portfolio.Summary, error) {
	return f.GetFn(ctx, lenderID)
}

type fakeRecon struct {
	RunFn      func(ctx context.Context, period string) (*ucrecon.Report, error)
	ContractFn func(ctx context.Context, contractID string) (*reconciliation.Record, error)
	ResolveFn  func(ctx context.Context, recordID, note, by string) (*reconciliation.Record, error)
	ListFn     func(ctx context.Context, f reconciliation.Filter) ([]reconciliation.Record, error)
}

func (f *fakeRecon) Run(ctx context.Context, period string) (*ucrecon.Report, error) {
	return f.RunFn(ctx, period)
}
func (f *fakeRecon) ReconcileContract(ctx context.Context, contractID string) (*reconciliation.Record, error) {
	return f.ContractFn(ctx, contractID)
}
func (f *fakeRecon) Resolve(ctx context.Context, recordID, note, by string) (*reconciliation.Record, error) {
	return f.ResolveFn(ctx, recordID, note, by)
}
func (f *fakeRecon) ListRecords(ctx context.Context, fl reconciliation.Filter) ([]reconciliation.Record, error) {
	return f.ListFn(ctx, fl)
}

// passThrough stands in for the idempotency middleware.
func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

type fakes struct {
	checkout   *fakeCheckout
	settlement *fakeSettlement
	portfolio  *fakePortfolio
	recon      *fakeRecon
}

func newRouter(f fakes) *echo.Echo {
	e := newEchoWithValidator()
	Register(e, Handlers{
		Health:   NewHandler(),
		Checkout: NewCheckoutHandler(f.checkout, nil),
		Orders:   NewOrderHandler(f.settlement, nil),
		Employer: NewEmployerHandler(f.settlement, nil),
		Lender:   NewLenderHandler(f.portfolio, nil),
		Admin:    NewAdminHandler(f.recon, nil),
	}, passThrough)
	return e
}
