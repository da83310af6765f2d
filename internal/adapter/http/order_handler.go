package http

import (
	"context"
	"net/http"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/usecase/settlement"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Settlement interface {
	ReleaseFunds(ctx context.Context, contractID, key string) (*settlement.Result, error)
	Refund(ctx context.Context, contractID string, amount float64, reason, key string) (*settlement.Result, error)
	OpenDispute(ctx context.Context, contractID, reason, key string) (*settlement.Result, error)
	ResolveDispute(ctx context.Context, contractID, note, key string) (*settlement.Result, error)
	PostPayrollRemittance(ctx context.Context, rem settlement.Remittance, key string) (*settlement.RemittanceResult, error)
	DispatchDeductions(ctx context.Context, employerID, cycle string) ([]contract.DeductionInstruction, error)
}

type OrderHandler struct {
	base
	uc Settlement
}

func NewOrderHandler(uc Settlement, log *zap.Logger) *OrderHandler {
	return &OrderHandler{base: newBase(log), uc: uc}
}

// ConfirmDelivery: POST /orders/:id/confirm-delivery
func (h *OrderHandler) ConfirmDelivery(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	res, err := h.uc.ReleaseFunds(c.Request().Context(), id, idempotencyKey(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

type refundReq struct {
	Amount float64 `json:"amount" validate:"gte=0"`
	Reason string  `json:"reason" validate:"required,max=512"`
}

// Refund: POST /orders/:id/refund. amount 0 means the full principal.
func (h *OrderHandler) Refund(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	var req refundReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	res, err := h.uc.Refund(c.Request().Context(), id, req.Amount, req.Reason, idempotencyKey(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

type disputeReq struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// Dispute: POST /orders/:id/dispute
func (h *OrderHandler) Dispute(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	var req disputeReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	res, err := h.uc.OpenDispute(c.Request().Context(), id, req.Reason, idempotencyKey(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

type resolveDisputeReq struct {
	Note string `json:"note" validate:"required,max=512"`
}

// ResolveDispute: POST /orders/:id/dispute/resolve
func (h *OrderHandler) ResolveDispute(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	var req resolveDisputeReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	res, err := h.uc.ResolveDispute(c.Request().Context(), id, req.Note, idempotencyKey(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

type EmployerHandler struct {
	base
	uc Settlement
}

func NewEmployerHandler(uc Settlement, log *zap.Logger) *EmployerHandler {
	return &EmployerHandler{base: newBase(log), uc: uc}
}

type remittanceReq struct {
	Ref       string                      `json:"remittance_ref" validate:"required,max=64"`
	PeriodKey string                      `json:"period_key" validate:"required,periodkey"`
	Lines     []settlement.RemittanceLine `json:"lines" validate:"required,min=1,dive"`
}

// Remittance: POST /employer/:id/remittance
func (h *EmployerHandler) Remittance(c echo.Context) error {
	employerID := c.Param("id")
	if employerID == "" {
		return invalid(c, &requestError{msg: "missing id path param"})
	}
	var req remittanceReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	res, err := h.uc.PostPayrollRemittance(c.Request().Context(), settlement.Remittance{
		Ref:        req.Ref,
		EmployerID: employerID,
		PeriodKey:  req.PeriodKey,
		Lines:      req.Lines,
	}, idempotencyKey(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

type dispatchReq struct {
	PayrollCycle string `json:"payroll_cycle" validate:"required,periodkey"`
}

type dispatchResp struct {
	EmployerID   string                          `json:"employer_id"`
	PayrollCycle string                          `json:"payroll_cycle"`
	Count        int                             `json:"count"`
	Instructions []contract.DeductionInstruction `json:"instructions"`
}

// DispatchDeductions: POST /employer/:id/deductions/dispatch
func (h *EmployerHandler) DispatchDeductions(c echo.Context) error {
	employerID := c.Param("id")
	if employerID == "" {
		return invalid(c, &requestError{msg: "missing id path param"})
	}
	var req dispatchReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	items, err := h.uc.DispatchDeductions(c.Request().Context(), employerID, req.PayrollCycle)
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []contract.DeductionInstruction{}
	}
	return ok(c, http.StatusOK, dispatchResp{
		EmployerID: employerID, PayrollCycle: req.PayrollCycle, Count: len(items), Instructions: items,
	})
}
