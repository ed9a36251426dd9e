package order

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrNotFound         = errors.New("order not found")
	ErrForbidden        = errors.New("order belongs to another customer")
	ErrDuplicateNumber  = errors.New("duplicate order number")
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

// InvalidTransitionError indicates a status write the state machine forbids.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// ValidationError reports invalid request fields, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return "invalid fields: " + strings.Join(keys, ", ")
}

type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
