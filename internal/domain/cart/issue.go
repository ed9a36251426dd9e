package cart

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacy-api/internal/domain/catalog"
)

// IssueKind classifies a cart line that no longer matches the catalog.
type IssueKind string

const (
	IssueUnavailable       IssueKind = "unavailable"
	IssueInsufficientStock IssueKind = "insufficient_stock"
	IssuePriceChanged      IssueKind = "price_changed"
)

// Issue describes one stale cart line.
type Issue struct {
	ProductID string
	Kind      IssueKind
	Requested int
	Available int
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
}

// Inspect compares cart lines with catalog products. A line yields at most
// one issue; unavailability wins over stock, stock wins over price.
func Inspect(c *Cart, products map[string]catalog.Product) []Issue {
	var issues []Issue
	for _, l := range c.Lines {
		p, ok := products[l.ProductID]
		switch {
		case !ok || !p.IsActive || p.Stock.Quantity == 0:
			issues = append(issues, Issue{
				ProductID: l.ProductID,
				Kind:      IssueUnavailable,
				Requested: l.Quantity,
			})
		case p.Stock.Quantity < l.Quantity:
			issues = append(issues, Issue{
				ProductID: l.ProductID,
				Kind:      IssueInsufficientStock,
				Requested: l.Quantity,
				Available: p.Stock.Quantity,
				OldPrice:  l.UnitPrice,
				NewPrice:  p.Price,
			})
		case !p.Price.Equal(l.UnitPrice):
			issues = append(issues, Issue{
				ProductID: l.ProductID,
				Kind:      IssuePriceChanged,
				Requested: l.Quantity,
				Available: p.Stock.Quantity,
				OldPrice:  l.UnitPrice,
				NewPrice:  p.Price,
			})
		}
	}
	return issues
}
