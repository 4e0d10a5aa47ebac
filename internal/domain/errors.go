package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports caller-supplied data that violates a business rule.
type ValidationError struct {
	msg string
}

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.msg }

// NotFoundError reports a missing project, document, or session.
type NotFoundError struct {
	msg string
}

func NotFoundf(format string, args ...any) *NotFoundError {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Error() string { return e.msg }

// ExternalError reports an upstream dependency failure (HTTP, vector store,
// SQL). The message carries the diagnostic string assembled by the caller.
type ExternalError struct {
	msg   string
	cause error
}

func Externalf(format string, args ...any) *ExternalError {
	return &ExternalError{msg: fmt.Sprintf(format, args...)}
}

// WrapExternal attaches an upstream cause so errors.Is/As keep working
// through the domain boundary.
func WrapExternal(cause error, format string, args ...any) *ExternalError {
	return &ExternalError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *ExternalError) Error() string { return e.msg }

func (e *ExternalError) Unwrap() error { return e.cause }

// CancelledError reports that a cooperative cancel fired before the
// operation completed.
type CancelledError struct {
	msg string
}

func Cancelledf(format string, args ...any) *CancelledError {
	return &CancelledError{msg: fmt.Sprintf(format, args...)}
}

func (e *CancelledError) Error() string { return e.msg }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsExternal(err error) bool {
	var target *ExternalError
	return errors.As(err, &target)
}

func IsCancelled(err error) bool {
	var target *CancelledError
	return errors.As(err, &target)
}

// StatusCancelled is the non-standard status used when a cooperative cancel
// wins the race against in-flight work (nginx's 499 "client closed request").
const StatusCancelled = 499

// HTTPStatus maps a domain error onto its transport status. Unrecognized
// errors map to 400, matching the generic domain catch-all.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsExternal(err):
		return http.StatusBadGateway
	case IsCancelled(err):
		return StatusCancelled
	default:
		return http.StatusBadRequest
	}
}
