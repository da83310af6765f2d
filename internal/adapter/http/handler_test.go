package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/usecase/portfolio"

	"github.com/labstack/echo/v4"
)

func TestHealth_ReturnsOKWithRFC3339NanoUTC(t *testing.T) {
	e := echo.New()
	h := NewHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	start := time.Now().UTC()

	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	ct := rec.Header().Get(echo.HeaderContentType)
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	var body struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v; raw=%s", err, rec.Body.String())
	}

	if body.Status != "ok" {
		t.Fatalf(`expected status "ok", got %q`, body.Status)
	}

	// Time is RFC3339Nano and UTC (with 'Z')
	parsed, err := time.Parse(time.RFC3339Nano, body.Time)
	if err != nil {
		t.Fatalf("time not RFC3339Nano: %v (value=%q)", err, body.Time)
	}
	if parsed.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", parsed.Location())
	}
	now := time.Now().UTC()
	if parsed.Before(start.Add(-2*time.Second)) || parsed.After(now.Add(2*time.Second)) {
		t.Fatalf("time not within expected window: parsed=%v start=%v now=%v", parsed, start, now)
	}
}

func TestRegister_GuardsOnlyMutatingRoutes(t *testing.T) {
	guarded := map[string]bool{}
	idem := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			guarded[c.Request().Method+" "+c.Path()] = true
			return next(c)
		}
	}
	e := newEchoWithValidator()
	f := fakes{
		checkout:   &fakeCheckout{},
		settlement: &fakeSettlement{},
		portfolio: &fakePortfolio{GetFn: func(_ context.Context, id string) (*portfolio.Summary, error) {
			return nil, apperr.NotFound("lender", id)
		}},
		recon: &fakeRecon{ListFn: func(context.Context, reconciliation.Filter) ([]reconciliation.Record, error) {
			return nil, nil
		}},
	}
	Register(e, Handlers{
		Health:   NewHandler(),
		Checkout: NewCheckoutHandler(f.checkout, nil),
		Orders:   NewOrderHandler(f.settlement, nil),
		Employer: NewEmployerHandler(f.settlement, nil),
		Lender:   NewLenderHandler(f.portfolio, nil),
		Admin:    NewAdminHandler(f.recon, nil),
	}, idem)

	var routes []string
	for _, r := range e.Routes() {
		if r.Path == "" || strings.HasSuffix(r.Path, "*") {
			continue
		}
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			continue
		}
		routes = append(routes, r.Method+" "+r.Path)
	}
	sort.Strings(routes)
	want := []string{
		"GET /admin/reconciliation/records",
		"GET /health",
		"GET /lender/:id/portfolio",
		"GET /orders/:id",
		"POST /admin/reconciliation/contracts/:id",
		"POST /admin/reconciliation/records/:id/resolve",
		"POST /admin/reconciliation/run",
		"POST /checkout/authorize",
		"POST /employer/:id/deductions/dispatch",
		"POST /employer/:id/remittance",
		"POST /orders/:id/authorize",
		"POST /orders/:id/confirm-delivery",
		"POST /orders/:id/dispute",
		"POST /orders/:id/dispute/resolve",
		"POST /orders/:id/refund",
	}
	if strings.Join(routes, "\n") != strings.Join(want, "\n") {
		t.Fatalf("routes:\n%s", strings.Join(routes, "\n"))
	}

	// a bad id or body stops every POST before its usecase is reached
	for _, r := range want {
		method, path, _ := strings.Cut(r, " ")
		path = strings.ReplaceAll(path, ":id", "x")
		req := httptest.NewRequest(method, path, strings.NewReader("{"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}
	for _, r := range want {
		if strings.HasPrefix(r, "POST ") != guarded[r] {
			t.Fatalf("%s guarded=%v", r, guarded[r])
		}
	}
}
