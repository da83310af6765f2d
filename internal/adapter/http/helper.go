package http

import (
	"errors"

	"payroll-bnpl/internal/adapter/middleware"

	"github.com/labstack/echo/v4"
)

// ---- request helpers ----

// idempotencyKey prefers the key accepted by the middleware.
func idempotencyKey(c echo.Context) string {
	if k := middleware.IdempotencyKey(c); k != "" {
		return k
	}
	return c.Request().Header.Get(middleware.HeaderIdempotencyKey)
}

// requestError is a malformed request detected before the usecase runs.
type requestError struct {
	msg     string
	details []FieldError
}

func (e *requestError) Error() string { return e.msg }

// invalid writes a 400 for a requestError.
func invalid(c echo.Context, err error) error {
	var re *requestError
	if errors.As(err, &re) {
		return badRequest(c, re.msg, re.details)
	}
	return badRequest(c, err.Error(), nil)
}

// bindAndValidate decodes the body into req and runs the struct validator.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return &requestError{msg: "invalid body"}
	}
	if err := c.Validate(req); err != nil {
		return &requestError{msg: "validation failed", details: ToFieldErrors(err)}
	}
	return nil
}

// idParam reads a 32-hex path parameter.
func idParam(c echo.Context, name string) (string, error) {
	id := c.Param(name)
	if id == "" {
		return "", &requestError{msg: "missing " + name + " path param"}
	}
	if !reHex32.MatchString(id) {
		return "", &requestError{msg: "invalid " + name + " path param",
			details: []FieldError{{Field: name, Message: "must be 32-char lowercase hex"}}}
	}
	return id, nil
}
