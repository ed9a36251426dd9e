package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Line is a single product entry in a cart. Subtotal is always derived from
// Quantity and UnitPrice.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	AddedAt   time.Time
}

// Cart is the mutable per-customer line collection. Lines keep insertion
// order and hold at most one entry per product.
type Cart struct {
	CustomerID  string
	Lines       []Line
	TotalItems  int
	TotalAmount decimal.Decimal
	UpdatedAt   time.Time
}

// New returns an empty cart for the customer.
func New(customerID string, now time.Time) *Cart {
	return &Cart{
		CustomerID:  customerID,
		TotalAmount: decimal.Zero,
		UpdatedAt:   now,
	}
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Line returns the line for productID.
func (c *Cart) Line(productID string) (Line, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.Lines[i], true
	}
	return Line{}, false
}

// Snapshot returns a deep copy that shares no memory with c.
func (c *Cart) Snapshot() Cart {
	cp := *c
	if c.Lines != nil {
		cp.Lines = make([]Line, len(c.Lines))
		copy(cp.Lines, c.Lines)
	}
	return cp
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) add(productID string, quantity int, price decimal.Decimal, now time.Time) error {
	if quantity < 1 {
		return &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	if i := c.indexOf(productID); i >= 0 {
		c.Lines[i].Quantity += quantity
		c.Lines[i].UnitPrice = price
	} else {
		c.Lines = append(c.Lines, Line{
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: price,
			AddedAt:   now,
		})
	}
	c.touch(now)
	return nil
}

func (c *Cart) setQuantity(productID string, quantity int, price decimal.Decimal, now time.Time) error {
	if quantity < 0 {
		return &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	i := c.indexOf(productID)
	if i < 0 {
		return &LineNotFoundError{ProductID: productID}
	}
	if quantity == 0 {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	} else {
		c.Lines[i].Quantity = quantity
		c.Lines[i].UnitPrice = price
	}
	c.touch(now)
	return nil
}

func (c *Cart) remove(productID string, now time.Time) error {
	i := c.indexOf(productID)
	if i < 0 {
		return &LineNotFoundError{ProductID: productID}
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	c.touch(now)
	return nil
}

func (c *Cart) clear(now time.Time) {
	c.Lines = nil
	c.touch(now)
}

func (c *Cart) touch(now time.Time) {
	c.Recompute()
	c.UpdatedAt = now
}

// Recompute derives line subtotals and cart totals from quantities and
// prices. Repositories call it after loading so stored totals never win.
func (c *Cart) Recompute() {
	items := 0
	amount := decimal.Zero
	for i := range c.Lines {
		l := &c.Lines[i]
		l.Subtotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		items += l.Quantity
		amount = amount.Add(l.Subtotal)
	}
	c.TotalItems = items
	c.TotalAmount = amount
}

// Repository persists carts keyed by customer.
type Repository interface {
	// Get returns ErrNotFound when the customer has no cart yet.
	Get(ctx context.Context, customerID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}

// Viewer is an optional Repository extension for read-only paths. A view
// may be shared with concurrent readers and must never be saved back.
type Viewer interface {
	View(ctx context.Context, customerID string) (*Cart, error)
}
