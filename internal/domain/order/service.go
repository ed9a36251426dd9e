package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
)

// numberAttempts bounds retries when a generated order number collides.
const numberAttempts = 3

// CartSource hands out the customer's cart for checkout and clears it once
// the order is placed.
type CartSource interface {
	Checkout(ctx context.Context, customerID string, place func(c cart.Cart) error) error
}

// Coupons validates and redeems promotional codes.
type Coupons interface {
	Validate(ctx context.Context, code string, lines []coupon.Line) (*coupon.Discount, error)
	Redeem(ctx context.Context, code string) error
}

// CreateRequest holds the checkout input. Lines come from the cart.
type CreateRequest struct {
	CustomerID      string
	ShippingAddress Address
	// BillingAddress defaults to ShippingAddress when empty.
	BillingAddress Address
	PaymentMethod  PaymentMethod
	Notes          string
	CouponCode     string
}

func (r *CreateRequest) validate() error {
	errs := fieldErrors{}
	r.ShippingAddress.validate("shippingAddress", errs)
	if !r.BillingAddress.isZero() {
		r.BillingAddress.validate("billingAddress", errs)
	}
	if !r.PaymentMethod.Valid() {
		errs.add("paymentMethod", "unsupported payment method")
	}
	if len(r.Notes) > 1000 {
		errs.add("notes", "must be at most 1000 characters")
	}
	return errs.err()
}

// Service implements checkout and the order lifecycle. It owns every
// derived value (totals, numbers, history); the Repository only stores.
type Service struct {
	carts    CartSource
	products catalog.Reader
	ledger   inventory.Ledger
	orders   Repository
	coupons  Coupons
	pricing  Pricing
	metrics  *Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records lifecycle counters on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPricing overrides DefaultPricing.
func WithPricing(p Pricing) Option {
	return func(s *Service) { s.pricing = p }
}

// WithCoupons enables coupon codes at checkout. Without it any code is
// rejected with coupon.ErrInvalidCoupon.
func WithCoupons(c Coupons) Option {
	return func(s *Service) { s.coupons = c }
}

// NewService creates an order Service.
func NewService(
	carts CartSource,
	products catalog.Reader,
	ledger inventory.Ledger,
	orders Repository,
	opts ...Option,
) *Service {
	s := &Service{
		carts:    carts,
		products: products,
		ledger:   ledger,
		orders:   orders,
		pricing:  DefaultPricing(),
		metrics:  noopMetrics(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateOrder converts the customer's cart into a pending order.
//
// Stock for every line is reserved before the order is stored. Either all
// reservations and the order persist, or none of them do. The cart is
// cleared only after the order is stored.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.CustomerID == "" {
		return nil, auth.ErrUnauthorized
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.BillingAddress.isZero() {
		req.BillingAddress = req.ShippingAddress
	}

	var placed *Order
	err := s.carts.Checkout(ctx, req.CustomerID, func(c cart.Cart) error {
		o, err := s.place(ctx, req, c)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if placed.CouponCode != "" {
		if err := s.coupons.Redeem(context.WithoutCancel(ctx), placed.CouponCode); err != nil {
			zctx.From(ctx).Error("Redeem coupon",
				zap.String("order_id", placed.ID),
				zap.String("coupon", placed.CouponCode),
				zap.Error(err),
			)
		}
	}

	s.metrics.orderCreated(ctx, placed.PaymentMethod)
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("number", placed.Number),
		zap.String("customer_id", placed.CustomerID),
		zap.Stringer("total", placed.Summary.Total),
	)
	return placed, nil
}

func (s *Service) place(ctx context.Context, req CreateRequest, c cart.Cart) (*Order, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	lines, err := s.snapshotLines(ctx, c)
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			s.metrics.stockRejection(ctx)
		}
		return nil, err
	}

	discount := decimal.Zero
	code := ""
	if req.CouponCode != "" {
		d, err := s.discount(ctx, req.CouponCode, lines)
		if err != nil {
			return nil, err
		}
		discount, code = d.Amount, d.Code
	}

	now := s.now()
	o := &Order{
		ID:              uuid.NewString(),
		CustomerID:      req.CustomerID,
		Lines:           lines,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Summary:         s.pricing.Summarize(lines, discount),
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		History: []HistoryEntry{{
			Status:  StatusPending,
			At:      now,
			Note:    "order created",
			ActorID: req.CustomerID,
		}},
		Notes:      strings.TrimSpace(req.Notes),
		CouponCode: code,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, l := range lines {
		if l.PrescriptionRequired {
			o.RequiresPrescription = true
			break
		}
	}

	reservations := reserve(lines)
	if err := inventory.ApplyAll(ctx, s.ledger, reservations, s.onRestoreError(ctx, o.ID)); err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			s.metrics.stockRejection(ctx)
			return nil, err
		}
		return nil, errors.Wrap(err, "reserve stock")
	}

	if err := s.persist(ctx, o, now); err != nil {
		inventory.RevertAll(ctx, s.ledger, reservations, s.onRestoreError(ctx, o.ID))
		return nil, err
	}
	return o, nil
}

// snapshotLines re-validates cart lines against the live catalog and
// freezes them at the current catalog price.
func (s *Service) snapshotLines(ctx context.Context, c cart.Cart) ([]Line, error) {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := catalog.Index(products)

	lines := make([]Line, 0, len(c.Lines))
	for _, cl := range c.Lines {
		p, ok := byID[cl.ProductID]
		if !ok || !p.IsActive {
			return nil, &catalog.UnavailableError{ProductID: cl.ProductID}
		}
		if !p.Available(cl.Quantity) {
			return nil, &inventory.InsufficientStockError{
				ProductID: cl.ProductID,
				Requested: cl.Quantity,
				Available: p.Stock.Quantity,
			}
		}
		price := p.Price.Round(2)
		lines = append(lines, Line{
			ProductID:            p.ID,
			Name:                 p.Name,
			Quantity:             cl.Quantity,
			Price:                price,
			Subtotal:             lineSubtotal(price, cl.Quantity),
			PrescriptionRequired: p.PrescriptionRequired,
		})
	}
	return lines, nil
}

func (s *Service) discount(ctx context.Context, code string, lines []Line) (*coupon.Discount, error) {
	if s.coupons == nil {
		return nil, coupon.ErrInvalidCoupon
	}
	cl := make([]coupon.Line, len(lines))
	for i, l := range lines {
		cl[i] = coupon.Line{ProductID: l.ProductID, Price: l.Price, Quantity: l.Quantity}
	}
	return s.coupons.Validate(ctx, code, cl)
}

// persist stores o, regenerating the order number on collision.
func (s *Service) persist(ctx context.Context, o *Order, now time.Time) error {
	var err error
	for range numberAttempts {
		o.Number = newNumber(now)
		err = s.orders.Create(ctx, o)
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
		zctx.From(ctx).Warn("Order number collision", zap.String("number", o.Number))
	}
	if err != nil {
		return errors.Wrap(err, "create order")
	}
	return nil
}

func (s *Service) onRestoreError(ctx context.Context, orderID string) func(inventory.Adjustment, error) {
	return func(a inventory.Adjustment, err error) {
		zctx.From(ctx).Error("Restore stock",
			zap.String("order_id", orderID),
			zap.String("product_id", a.ProductID),
			zap.Int("quantity", -a.Delta),
			zap.Error(err),
		)
	}
}

// reserve returns the ledger adjustments that take stock for lines.
func reserve(lines []Line) []inventory.Adjustment {
	adjs := make([]inventory.Adjustment, len(lines))
	for i, l := range lines {
		adjs[i] = inventory.Adjustment{ProductID: l.ProductID, Delta: -l.Quantity}
	}
	return adjs
}

// newNumber returns a human-readable order number, e.g. RX-20250615-1A2B3C4D.
func newNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "RX-" + now.UTC().Format("20060102") + "-" + suffix
}

// GetOrder returns the order if p may see it.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !p.CanAccess(o.CustomerID) {
		return nil, ErrForbidden
	}
	return o, nil
}

// Page is one page of orders.
type Page struct {
	Orders   []Order
	Total    int
	Page     int
	PageSize int
}

// Pages returns the number of pages for Total.
func (p Page) Pages() int {
	if p.PageSize == 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOrders returns a page of orders visible to p. Customers only see their
// own orders; admins may filter by customer.
func (s *Service) ListOrders(ctx context.Context, p auth.Principal, q ListQuery) (*Page, error) {
	if !p.IsAdmin {
		q.CustomerID = p.CustomerID
	}
	if q.CustomerID == "" && !p.IsAdmin {
		return nil, auth.ErrUnauthorized
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize < 1:
		q.PageSize = defaultPageSize
	case q.PageSize > maxPageSize:
		q.PageSize = maxPageSize
	}

	orders, total, err := s.orders.List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{
		Orders:   orders,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}
