package domain

import (
	"errors"
	"fmt"
)

// Error is a ledger error with a stable machine-readable code. Sentinels are
// compared with errors.Is; callers add context with fmt.Errorf("%w: ...").
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrInvalidState            = NewError("INVALID_STATE", "operation not allowed in current state")
	ErrInsufficientStock       = NewError("INSUFFICIENT_STOCK", "insufficient stock")
	ErrInsufficientPayment     = NewError("INSUFFICIENT_PAYMENT", "payment is less than total")
	ErrExcessiveReturnQuantity = NewError("EXCESSIVE_RETURN_QUANTITY", "return exceeds remaining returnable quantity")
	ErrDrawerAlreadyOpen       = NewError("DRAWER_ALREADY_OPEN", "cashier already has an open drawer")
	ErrDrawerNotFound          = NewError("DRAWER_NOT_FOUND", "cash drawer not found")
	ErrDuplicateSync           = NewError("DUPLICATE_SYNC", "sale already synced to cash ledger")
	ErrNotFound                = NewError("NOT_FOUND", "not found")
	ErrConcurrencyConflict     = NewError("CONCURRENCY_CONFLICT", "resource was modified concurrently, retry")
	ErrInvalidInput            = NewError("INVALID_INPUT", "invalid input")
	ErrForbidden               = NewError("FORBIDDEN", "forbidden")
)

// Invalidf wraps ErrInvalidInput with a formatted detail.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller may transparently retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// CodeOf returns the code of the first domain error in the chain, or "".
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
