package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handler struct{}

func NewHandler() *Handler { return &Handler{} }

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Handlers groups everything the router mounts.
type Handlers struct {
	Health   *Handler
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Employer *EmployerHandler
	Lender   *LenderHandler
	Admin    *AdminHandler
}

// Register mounts every route. idem guards the mutating ones.
func Register(e *echo.Echo, h Handlers, idem echo.MiddlewareFunc) {
	e.GET("/health", h.Health.Health)

	e.GET("/orders/:id", h.Checkout.GetOrder)
	e.GET("/lender/:id/portfolio", h.Lender.Portfolio)
	e.GET("/admin/reconciliation/records", h.Admin.ListRecords)

	m := e.Group("", idem)
	m.POST("/checkout/authorize", h.Checkout.Authorize)
	m.POST("/orders/:id/authorize", h.Checkout.CustomerAuthorize)
	m.POST("/orders/:id/confirm-delivery", h.Orders.ConfirmDelivery)
	m.POST("/orders/:id/refund", h.Orders.Refund)
	m.POST("/orders/:id/dispute", h.Orders.Dispute)
	m.POST("/orders/:id/dispute/resolve", h.Orders.ResolveDispute)
	m.POST("/employer/:id/remittance", h.Employer.Remittance)
	m.POST("/employer/:id/deductions/dispatch", h.Employer.DispatchDeductions)
	m.POST("/admin/reconciliation/run", h.Admin.RunReconciliation)
	m.POST("/admin/reconciliation/contracts/:id", h.Admin.ReconcileContract)
	m.POST("/admin/reconciliation/records/:id/resolve", h.Admin.ResolveRecord)
}
