package http

import (
	"context"
	"net/http"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/usecase/checkout"
	"payroll-bnpl/internal/usecase/settlement"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Checkout interface {
	Authorize(ctx context.Context, in checkout.Input) (*checkout.Result, error)
	CustomerAuthorize(ctx context.Context, contractID, token, key string) (*settlement.Result, error)
	Get(ctx context.Context, contractID string) (*contract.Contract, error)
}

type CheckoutHandler struct {
	base
	uc Checkout
}

func NewCheckoutHandler(uc Checkout, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{base: newBase(log), uc: uc}
}

type authorizeReq struct {
	MerchantID     string  `json:"merchant_id" validate:"required,hex32"`
	CustomerPhone  string  `json:"customer_phone" validate:"required,phone"`
	OrderAmount    float64 `json:"order_amount" validate:"gt=0"`
	TenorDays      int     `json:"tenor_days" validate:"tenor"`
	IdempotencyKey string  `json:"idempotency_key" validate:"omitempty,max=128"`
	Strategy       string  `json:"allocation_strategy" validate:"omitempty,oneof=ROUND_ROBIN RISK_WEIGHTED EMPLOYER_EXCLUSIVE PRIORITY"`
}

// Authorize: POST /checkout/authorize
func (h *CheckoutHandler) Authorize(c echo.Context) error {
	var req authorizeReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotencyKey(c)
	}
	res, err := h.uc.Authorize(c.Request().Context(), checkout.Input{
		MerchantID:     req.MerchantID,
		CustomerPhone:  req.CustomerPhone,
		OrderAmount:    req.OrderAmount,
		TenorDays:      req.TenorDays,
		IdempotencyKey: req.IdempotencyKey,
		Strategy:       req.Strategy,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, res)
}

type customerAuthorizeReq struct {
	AuthToken string `json:"auth_token" validate:"required"`
}

// CustomerAuthorize: POST /orders/:id/authorize
func (h *CheckoutHandler) CustomerAuthorize(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	var req customerAuthorizeReq
	if err := bindAndValidate(c, &req); err != nil {
		return invalid(c, err)
	}
	res, err := h.uc.CustomerAuthorize(c.Request().Context(), id, req.AuthToken, idempotencyKey(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

// GetOrder: GET /orders/:id
func (h *CheckoutHandler) GetOrder(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return invalid(c, err)
	}
	ct, err := h.uc.Get(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, ct)
}
