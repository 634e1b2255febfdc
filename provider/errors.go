package provider

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Typed errors below match them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrSignature          = errors.New("signature verification failed")
	ErrGateway            = errors.New("gateway error")
	ErrPrecondition       = errors.New("precondition failed")
	ErrMethodNotSupported = errors.New("payment method not supported")
	ErrNotFound           = errors.New("not found")
)

// ValidationError reports bad input detected before any network call
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SignatureError reports an inbound payload that failed authentication
type SignatureError struct {
	Gateway string
	Reason  string
}

func (e *SignatureError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: invalid signature", e.Gateway)
	}
	return fmt.Sprintf("%s: invalid signature: %s", e.Gateway, e.Reason)
}

func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// GatewayError describes a failed exchange with a gateway. Adapters convert it
// into a failed result; it does not cross the adapter boundary.
type GatewayError struct {
	Gateway    string
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Gateway, e.Operation, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: HTTP %d", e.Gateway, e.Operation, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s: gateway error", e.Gateway, e.Operation)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// PreconditionError rejects an operation the order's state does not allow
type PreconditionError struct {
	OrderID int64
	Reason  string
}

// NewPreconditionError creates a PreconditionError for an order
func NewPreconditionError(orderID int64, format string, args ...any) *PreconditionError {
	return &PreconditionError{OrderID: orderID, Reason: fmt.Sprintf(format, args...)}
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("order %d: %s", e.OrderID, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }
