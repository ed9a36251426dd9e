package cart

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned by repositories when a customer has no cart.
var ErrNotFound = errors.New("cart not found")

// InvalidQuantityError indicates a quantity outside the allowed range.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// LineNotFoundError indicates the cart has no line for the product.
type LineNotFoundError struct {
	ProductID string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("product %s is not in the cart", e.ProductID)
}
