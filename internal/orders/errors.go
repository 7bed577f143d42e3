package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is; the concrete *Error carries the message.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
)

// ErrIdempotencyConflict is returned by Tx.InsertOrder when another transaction stored the same
// idempotency key first. CreateOrder answers it by replaying that order.
var ErrIdempotencyConflict = errors.New("idempotency key already used")

type Error struct {
	Kind    error
	Message string
	// IDs lists the offending identifiers when a failure names more than one.
	IDs []string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func orderNotFound(id string) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("order %s not found", id), IDs: []string{id}}
}

func productUnavailable(id string) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("product %s not found or inactive", id), IDs: []string{id}}
}

func usersNotFound(ids []string) error {
	return &Error{Kind: ErrNotFound, Message: "users not found: " + strings.Join(ids, ", "), IDs: ids}
}

func insufficientStock(productName string) error {
	return &Error{Kind: ErrInsufficientStock, Message: "insufficient stock for product " + productName}
}

// Outcome classifies err into a low-cardinality label for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
