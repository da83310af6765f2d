package http

import (
	"errors"
	"net/http"

	"payroll-bnpl/internal/domain/apperr"
	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/reconciliation"
	"payroll-bnpl/internal/infrastructure/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	codeConcurrentUpdate = "CONCURRENT_UPDATE"
	codeAlreadyResolved  = "ALREADY_RESOLVED"
)

// Envelope is the body of every response.
type Envelope struct {
	Success    bool         `json:"success"`
	Data       any          `json:"data,omitempty"`
	Error      string       `json:"error,omitempty"`
	Code       string       `json:"code,omitempty"`
	Retryable  bool         `json:"retryable,omitempty"`
	ReasonCode string       `json:"reason_code,omitempty"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Details    []FieldError `json:"details,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

func badRequest(c echo.Context, msg string, details []FieldError) error {
	return c.JSON(http.StatusBadRequest, Envelope{Error: msg, Code: apperr.CodeValidation, Details: details})
}

// statusOf maps an error onto its HTTP status and API code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, contract.ErrConcurrentUpdate):
		return http.StatusConflict, codeConcurrentUpdate
	case errors.Is(err, reconciliation.ErrAlreadyResolved):
		return http.StatusConflict, codeAlreadyResolved
	}
	code := apperr.CodeOf(err)
	switch code {
	case apperr.CodeValidation:
		return http.StatusUnprocessableEntity, code
	case apperr.CodeNotFound:
		return http.StatusNotFound, code
	case apperr.CodeIllegalTransition, apperr.CodeIdempotencyConflict:
		return http.StatusConflict, code
	case apperr.CodeAffordability, apperr.CodeNoEligibleLender:
		return http.StatusUnprocessableEntity, code
	case apperr.CodeGateway:
		return http.StatusBadGateway, code
	}
	return http.StatusInternalServerError, apperr.CodeInternal
}

// base carries what every handler needs to report failures.
type base struct{ log *zap.Logger }

func newBase(log *zap.Logger) base { return base{log: logger.OrNop(log)} }

// fail writes err in the envelope. Internal errors are logged, not echoed.
func (b base) fail(c echo.Context, err error) error {
	status, code := statusOf(err)
	env := Envelope{Error: err.Error(), Code: code}
	switch code {
	case codeConcurrentUpdate, apperr.CodeGateway:
		env.Retryable = true
	case apperr.CodeInternal:
		env.Retryable = true
		env.Error = "internal error"
		b.log.Error("request failed", zap.String("method", c.Request().Method),
			zap.String("path", c.Path()), zap.Error(err))
	}
	var declined *apperr.AffordabilityDeclinedError
	if errors.As(err, &declined) {
		env.ReasonCode = declined.ReasonCode
		env.Reasoning = declined.Reasoning
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		env.Details = []FieldError{{Field: ve.Field, Message: ve.Reason}}
	}
	return c.JSON(status, env)
}
