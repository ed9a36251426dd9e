// Package inventory defines the stock ledger contract.
//
// Every oversell guarantee reduces to Ledger.Adjust being atomic per product:
// the check "quantity + delta >= 0" and the write happen as one step.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrInsufficientStock matches any *InsufficientStockError via errors.Is.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnknownProduct is returned when the ledger has no counter for a product.
	ErrUnknownProduct = errors.New("unknown product")
)

// InsufficientStockError reports a rejected adjustment. Nothing was applied.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) hold.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Shortfall is the number of units missing to satisfy the request.
func (e *InsufficientStockError) Shortfall() int {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// Ledger is the authoritative per-product stock counter.
type Ledger interface {
	// Adjust applies delta to the product's quantity iff the result stays
	// non-negative and returns the new quantity. Negative delta reserves,
	// positive delta restores. A rejected adjustment returns
	// *InsufficientStockError and leaves the counter untouched.
	Adjust(ctx context.Context, productID string, delta int) (int, error)
}

// Adjustment is a single pending ledger change.
type Adjustment struct {
	ProductID string
	Delta     int
}

// ApplyAll applies adjustments in order. If one fails, the ones already
// applied are reverted in reverse order and the original error is returned.
// Revert failures are reported through onRevertError and do not mask the
// original error.
func ApplyAll(ctx context.Context, l Ledger, adjs []Adjustment, onRevertError func(Adjustment, error)) error {
	for i, a := range adjs {
		if _, err := l.Adjust(ctx, a.ProductID, a.Delta); err != nil {
			RevertAll(ctx, l, adjs[:i], onRevertError)
			return err
		}
	}
	return nil
}

// RevertAll applies the inverse of adjs in reverse order.
func RevertAll(ctx context.Context, l Ledger, adjs []Adjustment, onError func(Adjustment, error)) {
	// Compensation must run even if the request context is already done.
	ctx = context.WithoutCancel(ctx)
	for i := len(adjs) - 1; i >= 0; i-- {
		a := adjs[i]
		if _, err := l.Adjust(ctx, a.ProductID, -a.Delta); err != nil && onError != nil {
			onError(a, err)
		}
	}
}
