package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
)

// Service is the cart store. It serializes mutations per customer and
// recomputes totals on every change. Methods return snapshots that callers
// may keep without affecting stored carts.
type Service struct {
	repo     Repository
	products catalog.Reader
	locks    *keyedMutex
	now      func() time.Time
}

// NewService creates a cart Service backed by repo. products is used by the
// catalog-aware operations (AddProduct, SetProductQuantity, Validate, Fix).
func NewService(repo Repository, products catalog.Reader) *Service {
	return &Service{
		repo:     repo,
		products: products,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// Get returns the customer's cart, or an empty one if none exists yet.
func (s *Service) Get(ctx context.Context, customerID string) (*Cart, error) {
	c, err := s.view(ctx, customerID)
	if err != nil {
		return nil, err
	}
	snap := c.Snapshot()
	return &snap, nil
}

// Snapshot returns an immutable copy of the cart for checkout.
func (s *Service) Snapshot(ctx context.Context, customerID string) (Cart, error) {
	c, err := s.load(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}
	return c.Snapshot(), nil
}

// AddLine merges quantity into the product's line at unitPrice, creating the
// line (and the cart) when needed.
func (s *Service) AddLine(ctx context.Context, customerID, productID string, quantity int, unitPrice decimal.Decimal) (*Cart, error) {
	return s.mutate(ctx, customerID, func(c *Cart, now time.Time) error {
		return c.add(productID, quantity, unitPrice, now)
	})
}

// UpdateLineQuantity overwrites the line quantity and price. Quantity 0
// removes the line. Callers must pass a freshly read catalog price.
func (s *Service) UpdateLineQuantity(ctx context.Context, customerID, productID string, quantity int, unitPrice decimal.Decimal) (*Cart, error) {
	return s.mutate(ctx, customerID, func(c *Cart, now time.Time) error {
		return c.setQuantity(productID, quantity, unitPrice, now)
	})
}

// RemoveLine deletes the product's line.
func (s *Service) RemoveLine(ctx context.Context, customerID, productID string) (*Cart, error) {
	return s.mutate(ctx, customerID, func(c *Cart, now time.Time) error {
		return c.remove(productID, now)
	})
}

// Clear empties the cart. The cart itself is kept.
func (s *Service) Clear(ctx context.Context, customerID string) (*Cart, error) {
	return s.mutate(ctx, customerID, func(c *Cart, now time.Time) error {
		c.clear(now)
		return nil
	})
}

// Checkout runs place with a snapshot of the customer's cart while holding
// the customer's cart lock, then clears the cart if place succeeded. Cart
// edits and concurrent checkouts by the same customer wait until it returns,
// so one cart is never placed twice.
//
// A failure to clear the cart is logged and not returned: the order exists
// at that point and the leftover lines are harmless.
func (s *Service) Checkout(ctx context.Context, customerID string, place func(c Cart) error) error {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	c, err := s.load(ctx, customerID)
	if err != nil {
		return err
	}
	if err := place(c.Snapshot()); err != nil {
		return err
	}

	c.clear(s.now())
	if err := s.repo.Save(context.WithoutCancel(ctx), c); err != nil {
		zctx.From(ctx).Warn("Clear cart after checkout",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
	}
	return nil
}

// AddProduct adds quantity units of a catalog product at its current price.
// The resulting line quantity may not exceed the product's stock.
func (s *Service) AddProduct(ctx context.Context, customerID, productID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, customerID, func(c *Cart, now time.Time) error {
		want := quantity
		if l, ok := c.Line(productID); ok {
			want += l.Quantity
		}
		if !p.Available(want) {
			return &inventory.InsufficientStockError{
				ProductID: productID,
				Requested: want,
				Available: p.Stock.Quantity,
			}
		}
		return c.add(productID, quantity, p.Price, now)
	})
}

// SetProductQuantity sets the line quantity using the current catalog price.
// Quantity 0 removes the line without consulting the catalog.
func (s *Service) SetProductQuantity(ctx context.Context, customerID, productID string, quantity int) (*Cart, error) {
	if quantity == 0 {
		return s.UpdateLineQuantity(ctx, customerID, productID, 0, decimal.Zero)
	}
	if quantity < 0 {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Available(quantity) {
		return nil, &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: p.Stock.Quantity,
		}
	}
	return s.UpdateLineQuantity(ctx, customerID, productID, quantity, p.Price)
}

// Validate checks every line against the catalog without changing the cart.
func (s *Service) Validate(ctx context.Context, customerID string) (*Cart, []Issue, error) {
	c, err := s.view(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	products, err := s.lookup(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	snap := c.Snapshot()
	return &snap, Inspect(c, products), nil
}

// Fix repairs the cart against the catalog: unavailable lines are removed,
// quantities are clamped to stock and prices are refreshed. It returns the
// repaired cart and the issues that were resolved.
func (s *Service) Fix(ctx context.Context, customerID string) (*Cart, []Issue, error) {
	var issues []Issue
	c, err := s.mutate(ctx, customerID, func(c *Cart, now time.Time) error {
		products, err := s.lookup(ctx, c)
		if err != nil {
			return err
		}
		issues = Inspect(c, products)
		for _, is := range issues {
			switch is.Kind {
			case IssueUnavailable:
				err = c.remove(is.ProductID, now)
			case IssueInsufficientStock:
				p := products[is.ProductID]
				err = c.setQuantity(is.ProductID, is.Available, p.Price, now)
			case IssuePriceChanged:
				l, _ := c.Line(is.ProductID)
				err = c.setQuantity(is.ProductID, l.Quantity, is.NewPrice, now)
			}
			if err != nil {
				return errors.Wrapf(err, "fix line %s", is.ProductID)
			}
		}
		c.touch(now)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return c, issues, nil
}

func (s *Service) mutate(ctx context.Context, customerID string, fn func(c *Cart, now time.Time) error) (*Cart, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	c, err := s.load(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := fn(c, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	snap := c.Snapshot()
	return &snap, nil
}

// load reads the latest stored cart. Locked read-modify-write paths use it.
func (s *Service) load(ctx context.Context, customerID string) (*Cart, error) {
	return s.read(ctx, customerID, s.repo.Get)
}

// view reads the cart for display. It may use the repository's shared read.
func (s *Service) view(ctx context.Context, customerID string) (*Cart, error) {
	if v, ok := s.repo.(Viewer); ok {
		return s.read(ctx, customerID, v.View)
	}
	return s.load(ctx, customerID)
}

func (s *Service) read(ctx context.Context, customerID string, get func(context.Context, string) (*Cart, error)) (*Cart, error) {
	c, err := get(ctx, customerID)
	if errors.Is(err, ErrNotFound) {
		return New(customerID, s.now()), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	c.Recompute()
	return c, nil
}

func (s *Service) product(ctx context.Context, productID string) (*catalog.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, &catalog.UnavailableError{ProductID: productID}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", productID)
	}
	if !p.IsActive {
		return nil, &catalog.UnavailableError{ProductID: productID}
	}
	return p, nil
}

func (s *Service) lookup(ctx context.Context, c *Cart) (map[string]catalog.Product, error) {
	if c.IsEmpty() {
		return map[string]catalog.Product{}, nil
	}
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	return catalog.Index(products), nil
}
