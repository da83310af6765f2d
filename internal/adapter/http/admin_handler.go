package http

import (
	"context"
	"net/http"

	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/usecase/portfolio"
	ucrecon "payroll-bnpl/internal/usecase/reconciliation"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Portfolio interface {
	Get(ctx context.Context, lenderID string) (*portfolio.Summary, error)
}

type LenderHandler struct {
	base
	uc Portfolio
}

func NewLenderHandler(uc Portfolio, log *zap.Logger) *LenderHandler {
	return &LenderHandler{base: newBase(log), uc: uc}
}

// Portfolio: GET /lender/:id/portfolio
func (h *LenderHandler) Portfolio(c echo.Context) error {
	lenderID := c.Param("id")
	if lenderID == "" {
		return invalid(c, &requestError{msg: "missing id path param"})
	}
	s, err := h.uc.Get(c.Request().Context(), lenderID)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, s)
}

type Reconciliation interface {
	Run(ctx context.Context, period string) (*ucrecon.Report, error)
	ReconcileContract(ctx context.Context, contractID string) (*reconciliation.Record, error)
	Resolve(ctx context.Context, recordID, note, by string) (*reconciliation.Record, error)
	ListRecords(ctx context.Context, f reconciliation.Filter) ([]reconciliation.Record, error)
}

type AdminHandler struct {
	base
	uc Reconciliation
}

func NewAdminHandler(uc Reconciliation, log *zap.Logger) *AdminHandler {
	return &AdminHandler{base: newBase(log), uc: uc}
}

type runReq struct {
	PeriodKey string `json:"period_key" validate:"required,periodkey"`
}

// RunReconciliation: POST /admin/reconciliation/run
func (h *AdminHandler) RunReconciliation(c echo.Context) error {
	var req runReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	rep, err := h.uc.Run(c.Request().Context(), req.PeriodKey)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, rep)
}

// ReconcileContract: POST /admin/reconciliation/contracts/:id
func (h *AdminHandler) ReconcileContract(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	rec, err := h.uc.ReconcileContract(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, rec)
}

type resolveReq struct {
	Note       string `json:"note" validate:"required,max=1024"`
	ResolvedBy string `json:"resolved_by" validate:"required,max=64"`
}

// ResolveRecord: POST /admin/reconciliation/records/:id/resolve
func (h *AdminHandler) ResolveRecord(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	var req resolveReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	rec, err := h.uc.Resolve(c.Request().Context(), id, req.Note, req.ResolvedBy)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, rec)
}

// ListRecords: GET /admin/reconciliation/records?period_key=&channel=&run_id=
func (h *AdminHandler) ListRecords(c echo.Context) error {
	f := reconciliation.Filter{
		PeriodKey: c.QueryParam("period_key"),
		Channel:   reconciliation.Channel(c.QueryParam("channel")),
		RunID:     c.QueryParam("run_id"),
	}
	recs, err := h.uc.ListRecords(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	if recs == nil {
		recs = []reconciliation.Record{}
	}
	return ok(c, http.StatusOK, recs)
}
