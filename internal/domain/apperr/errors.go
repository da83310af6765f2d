package apperr

import (
	"errors"
	"fmt"
)

// Stable codes surfaced to API callers.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeIllegalTransition   = "ILLEGAL_TRANSITION"
	CodeAffordability       = "AFFORDABILITY_DECLINED"
	CodeNoEligibleLender    = "NO_ELIGIBLE_LENDER"
	CodeGateway             = "GATEWAY_ERROR"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// Coded is implemented by every business error that maps to an API code.
type Coded interface {
	error
	Code() string
}

// ValidationError: malformed or out-of-range request. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}
func (e *ValidationError) Code() string { return CodeValidation }

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// NotFoundError: unknown merchant, employee, contract, lender...
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Entity, e.ID) }
func (e *NotFoundError) Code() string  { return CodeNotFound }

func NotFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

// AffordabilityDeclinedError carries the credit engine's reasoning.
type AffordabilityDeclinedError struct {
	ReasonCode string
	Reasoning  string
	Confidence float64
}

func (e *AffordabilityDeclinedError) Error() string {
	return "affordability declined: " + e.Reasoning
}
func (e *AffordabilityDeclinedError) Code() string { return CodeAffordability }

// NoEligibleLenderError is a hard decline, not an infrastructure failure.
type NoEligibleLenderError struct {
	Amount float64
	Reason string
}

func (e *NoEligibleLenderError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no eligible lender for %.0f: %s", e.Amount, e.Reason)
	}
	return fmt.Sprintf("no eligible lender for %.0f", e.Amount)
}
func (e *NoEligibleLenderError) Code() string { return CodeNoEligibleLender }

// ExternalGatewayError wraps a failed escrow / ledger / bureau call.
type ExternalGatewayError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *ExternalGatewayError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Gateway, e.Op, e.Err)
}
func (e *ExternalGatewayError) Unwrap() error { return e.Err }
func (e *ExternalGatewayError) Code() string  { return CodeGateway }

func Gateway(gateway, op string, err error) error {
	return &ExternalGatewayError{Gateway: gateway, Op: op, Err: err}
}

// IdempotencyConflictError: a key was reused with a different payload.
type IdempotencyConflictError struct{ Key string }

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q reused with a different payload", e.Key)
}
func (e *IdempotencyConflictError) Code() string { return CodeIdempotencyConflict }

// CodeOf returns the API code for err, or CodeInternal.
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeGateway, CodeInternal:
		return true
	}
	return false
}
