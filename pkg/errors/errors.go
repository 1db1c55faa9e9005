package errors

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// HTTP status codes carried by kratos errors
const (
	// Client errors (4xx)
	StatusBadRequest      = 400
	StatusUnauthorized    = 401
	StatusPaymentRequired = 402
	StatusForbidden       = 403
	StatusNotFound        = 404
	StatusConflict        = 409
	StatusUnprocessable   = 422
	StatusTooManyRequests = 429

	// Server errors (5xx)
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
	StatusGatewayTimeout      = 504
)

// Common errors
var (
	ErrBadRequest          = errors.BadRequest("BAD_REQUEST", "Bad request")
	ErrUnauthorized        = errors.Unauthorized("UNAUTHORIZED", "Unauthorized")
	ErrForbidden           = errors.Forbidden("FORBIDDEN", "Forbidden")
	ErrNotFound            = errors.NotFound("NOT_FOUND", "Resource not found")
	ErrConflict            = errors.Conflict("CONFLICT", "Resource conflict")
	ErrInternalServerError = errors.InternalServer("INTERNAL_SERVER_ERROR", "Internal server error")
	ErrServiceUnavailable  = errors.ServiceUnavailable("SERVICE_UNAVAILABLE", "Service unavailable")
)

// NewBadRequest creates a new bad request error.
func NewBadRequest(reason, message string) *errors.Error {
	return errors.BadRequest(reason, message)
}

// NewUnauthorized creates a new unauthorized error.
func NewUnauthorized(reason, message string) *errors.Error {
	return errors.Unauthorized(reason, message)
}

// NewPaymentRequired creates a new payment required error.
func NewPaymentRequired(reason, message string) *errors.Error {
	return errors.New(StatusPaymentRequired, reason, message)
}

// NewForbidden creates a new forbidden error.
func NewForbidden(reason, message string) *errors.Error {
	return errors.Forbidden(reason, message)
}

// NewNotFound creates a new not found error.
func NewNotFound(reason, message string) *errors.Error {
	return errors.NotFound(reason, message)
}

// NewConflict creates a new conflict error.
func NewConflict(reason, message string) *errors.Error {
	return errors.Conflict(reason, message)
}

// NewServiceUnavailable creates a new service unavailable error.
func NewServiceUnavailable(reason, message string) *errors.Error {
	return errors.ServiceUnavailable(reason, message)
}

// NewInternalServerError creates a new internal server error.
func NewInternalServerError(reason, message string) *errors.Error {
	return errors.InternalServer(reason, message)
}

// FromError converts any error into a kratos error.
func FromError(err error) *errors.Error {
	return errors.FromError(err)
}

// NewUnprocessable creates a new unprocessable entity error.
func NewUnprocessable(reason, message string) *errors.Error {
	return errors.New(StatusUnprocessable, reason, message)
}

// NewTooManyRequests creates a new too many requests error.
func NewTooManyRequests(reason, message string) *errors.Error {
	return errors.New(StatusTooManyRequests, reason, message)
}
