package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the read-only view of a catalog item consumed by carts and orders.
type Product struct {
	ID                   string
	Name                 string
	Category             string
	Price                decimal.Decimal
	IsActive             bool
	PrescriptionRequired bool
	Stock                Stock
}

// Stock holds the inventory counters of a product.
type Stock struct {
	Quantity int
	MinStock int
	MaxStock int
}

// Available reports whether the product can be sold in the given quantity.
func (p *Product) Available(quantity int) bool {
	return p.IsActive && p.Stock.Quantity >= quantity
}

// Reader defines read operations on the product catalog.
type Reader interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products matching ids. Missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Index maps products by ID.
func Index(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}

// UnavailableError indicates a product that is missing from the catalog or
// no longer sold.
type UnavailableError struct {
	ProductID string
}

func (e *UnavailableError) Error() string {
	return "product " + e.ProductID + " is unavailable"
}
