package order

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
)

// --- Mock implementations ---

type mockLedger struct {
	mu  sync.Mutex
	qty map[string]int
}

func (m *mockLedger) Adjust(_ context.Context, productID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.qty[productID]
	if !ok {
		return 0, inventory.ErrUnknownProduct
	}
	if q+delta < 0 {
		return q, &inventory.InsufficientStockError{ProductID: productID, Requested: -delta, Available: q}
	}
	m.qty[productID] = q + delta
	return q + delta, nil
}

func (m *mockLedger) stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qty[productID]
}

// mockCatalog reports live ledger stock unless a stale value is set.
type mockCatalog struct {
	products map[string]catalog.Product
	ledger   *mockLedger
	stale    map[string]int
	err      error
}

func (m *mockCatalog) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	ps, err := m.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, catalog.ErrNotFound
	}
	return &ps[0], nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Product
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok {
			continue
		}
		p.Stock.Quantity = m.ledger.stock(id)
		if q, ok := m.stale[id]; ok {
			p.Stock.Quantity = q
		}
		out = append(out, p)
	}
	return out, nil
}

type mockCarts struct {
	mu    sync.Mutex
	carts map[string]cart.Cart
}

func (m *mockCarts) put(customerID string, lines ...cart.Line) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cart.New(customerID, time.Time{})
	c.Lines = lines
	c.Recompute()
	m.carts[customerID] = *c
}

func (m *mockCarts) get(customerID string) cart.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[customerID]
}

func (m *mockCarts) Checkout(_ context.Context, customerID string, place func(cart.Cart) error) error {
	m.mu.Lock()
	c := m.carts[customerID]
	c.Lines = slices.Clone(c.Lines)
	m.mu.Unlock()

	if err := place(c); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := m.carts[customerID]
	cleared.Lines = nil
	cleared.Recompute()
	m.carts[customerID] = cleared
	return nil
}

type mockOrderRepo struct {
	mu         sync.Mutex
	byID       map[string]*Order
	numbers    map[string]bool
	createErrs []error
	creates    int
	updateErr  error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{byID: map[string]*Order{}, numbers: map[string]bool{}}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if m.numbers[o.Number] {
		return ErrDuplicateNumber
	}
	m.numbers[o.Number] = true
	m.byID[o.ID] = o.Clone()
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.byID[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != o.Version {
		return ErrConcurrentUpdate
	}
	o.Version++
	m.byID[o.ID] = o.Clone()
	return nil
}

func (m *mockOrderRepo) List(_ context.Context, q ListQuery) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Order
	for _, o := range m.byID {
		if q.CustomerID != "" && o.CustomerID != q.CustomerID {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		all = append(all, *o.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := min(q.Offset(), len(all))
	end := min(start+q.PageSize, len(all))
	return all[start:end], len(all), nil
}

func (m *mockOrderRepo) StatusTotals(_ context.Context, r Range) ([]StatusTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := map[Status]*StatusTotal{}
	for _, o := range m.byID {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		t, ok := agg[o.Status]
		if !ok {
			t = &StatusTotal{Status: o.Status, Revenue: decimal.Zero}
			agg[o.Status] = t
		}
		t.Count++
		t.Revenue = t.Revenue.Add(o.Summary.Total)
	}
	var out []StatusTotal
	for _, t := range agg {
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockOrderRepo) TopProducts(_ context.Context, r Range, limit int) ([]ProductSales, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := map[string]*ProductSales{}
	for _, o := range m.byID {
		if !r.Contains(o.CreatedAt) || o.Status.IsTerminal() {
			continue
		}
		for _, l := range o.Lines {
			ps, ok := agg[l.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: l.ProductID, Name: l.Name, Revenue: decimal.Zero}
				agg[l.ProductID] = ps
			}
			ps.Quantity += l.Quantity
			ps.Revenue = ps.Revenue.Add(l.Subtotal)
		}
	}
	var out []ProductSales
	for _, ps := range agg {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity > out[j].Quantity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockCoupons struct {
	discount  *coupon.Discount
	err       error
	redeemErr error
	redeemed  []string
}

func (m *mockCoupons) Validate(context.Context, string, []coupon.Line) (*coupon.Discount, error) {
	return m.discount, m.err
}

func (m *mockCoupons) Redeem(_ context.Context, code string) error {
	m.redeemed = append(m.redeemed, code)
	return m.redeemErr
}

// --- Helpers ---

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	ledger  *mockLedger
	catalog *mockCatalog
	carts   *mockCarts
	orders  *mockOrderRepo
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ledger := &mockLedger{qty: map[string]int{"A": 5, "B": 1, "RX": 10}}
	cat := &mockCatalog{
		ledger: ledger,
		products: map[string]catalog.Product{
			"A":   {ID: "A", Name: "Paracetamol 500mg", Price: dec("10.00"), IsActive: true},
			"B":   {ID: "B", Name: "Vitamin D3", Price: dec("20.00"), IsActive: true},
			"RX":  {ID: "RX", Name: "Amoxicillin", Price: dec("12.50"), IsActive: true, PrescriptionRequired: true},
			"OLD": {ID: "OLD", Name: "Discontinued", Price: dec("1.00")},
		},
	}
	carts := &mockCarts{carts: map[string]cart.Cart{}}
	orders := newMockOrderRepo()
	svc := NewService(carts, cat, ledger, orders, opts...)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, ledger: ledger, catalog: cat, carts: carts, orders: orders}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(productID string, qty int, price string) cart.Line {
	return cart.Line{ProductID: productID, Quantity: qty, UnitPrice: dec(price)}
}

func validRequest(customerID string) CreateRequest {
	return CreateRequest{
		CustomerID: customerID,
		ShippingAddress: Address{
			FullName:   "Jane Doe",
			Street:     "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
		PaymentMethod: PaymentCard,
	}
}

func customer(id string) auth.Principal { return auth.Principal{CustomerID: id} }

var admin = auth.Principal{CustomerID: "ops", IsAdmin: true}

// --- Tests ---

func TestCreateOrder_TwoProducts(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 2, "10.00"), line("B", 1, "20.00"))

	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)

	assert.True(t, dec("40.00").Equal(o.Summary.Subtotal), "subtotal %s", o.Summary.Subtotal)
	assert.True(t, dec("4.00").Equal(o.Summary.Tax))
	assert.True(t, dec("5.99").Equal(o.Summary.Shipping))
	assert.True(t, dec("49.99").Equal(o.Summary.Total))
	assert.Equal(t, 3, f.ledger.stock("A"))
	assert.Equal(t, 0, f.ledger.stock("B"))

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	require.Len(t, o.History, 1)
	assert.Equal(t, StatusPending, o.History[0].Status)
	assert.Regexp(t, `^RX-20250615-[0-9A-F]{8}$`, o.Number)
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)
	assert.False(t, o.RequiresPrescription)

	assert.Empty(t, f.carts.get("c1").Lines)
	stored, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)
}

func TestCreateOrder_UsesLiveCatalogPrice(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "7.00"))

	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)
	assert.True(t, dec("10.00").Equal(o.Lines[0].Price))
	assert.Equal(t, "Paracetamol 500mg", o.Lines[0].Name)
}

func TestCreateOrder_StockDroppedConcurrently(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 2, "10.00"), line("B", 1, "20.00"))
	// The catalog still reports one unit of B but the ledger has none left.
	f.catalog.stale = map[string]int{"B": 1}
	f.ledger.qty["B"] = 0

	_, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "B", stockErr.ProductID)
	assert.Equal(t, 5, f.ledger.stock("A"))
	assert.Equal(t, 0, f.ledger.stock("B"))
	assert.Len(t, f.carts.get("c1").Lines, 2, "cart must survive a failed checkout")
	assert.Zero(t, f.orders.creates)
}

func TestCreateOrder_InsufficientStockAtValidation(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 7, "10.00"))

	_, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 7, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 2, stockErr.Shortfall())
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		lines []cart.Line
		req   func(r *CreateRequest)
		check func(t *testing.T, err error)
	}{
		{
			name: "empty cart",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrEmptyCart)
			},
		},
		{
			name:  "inactive product",
			lines: []cart.Line{line("OLD", 1, "1.00")},
			check: func(t *testing.T, err error) {
				var ue *catalog.UnavailableError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, "OLD", ue.ProductID)
			},
		},
		{
			name:  "unknown product",
			lines: []cart.Line{line("GONE", 1, "1.00")},
			check: func(t *testing.T, err error) {
				var ue *catalog.UnavailableError
				require.ErrorAs(t, err, &ue)
			},
		},
		{
			name:  "missing address fields",
			lines: []cart.Line{line("A", 1, "10.00")},
			req: func(r *CreateRequest) {
				r.ShippingAddress.City = ""
				r.BillingAddress = Address{Street: "x"}
			},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, "shippingAddress.city")
				assert.Contains(t, ve.Fields, "billingAddress.fullName")
			},
		},
		{
			name:  "unsupported payment method",
			lines: []cart.Line{line("A", 1, "10.00")},
			req:   func(r *CreateRequest) { r.PaymentMethod = "barter" },
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, "paymentMethod")
			},
		},
		{
			name:  "coupon without coupon service",
			lines: []cart.Line{line("A", 1, "10.00")},
			req:   func(r *CreateRequest) { r.CouponCode = "SAVE" },
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.carts.put("c1", tt.lines...)
			req := validRequest("c1")
			if tt.req != nil {
				tt.req(&req)
			}

			_, err := f.svc.CreateOrder(context.Background(), req)
			tt.check(t, err)
			assert.Equal(t, 5, f.ledger.stock("A"))
			assert.Len(t, f.carts.get("c1").Lines, len(tt.lines))
		})
	}
}

func TestCreateOrder_PersistFailureRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 2, "10.00"), line("B", 1, "20.00"))
	f.orders.createErrs = []error{errors.New("connection reset")}

	_, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")

	assert.Equal(t, 5, f.ledger.stock("A"))
	assert.Equal(t, 1, f.ledger.stock("B"))
	assert.Len(t, f.carts.get("c1").Lines, 2)
}

func TestCreateOrder_RetriesDuplicateNumber(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"))
	f.orders.createErrs = []error{ErrDuplicateNumber, ErrDuplicateNumber}

	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.orders.creates)
	assert.NotEmpty(t, o.Number)
	assert.Equal(t, 4, f.ledger.stock("A"))
}

func TestCreateOrder_DuplicateNumberExhausted(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"))
	f.orders.createErrs = []error{ErrDuplicateNumber, ErrDuplicateNumber, ErrDuplicateNumber}

	_, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.ErrorIs(t, err, ErrDuplicateNumber)
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestCreateOrder_Coupon(t *testing.T) {
	coupons := &mockCoupons{discount: &coupon.Discount{Code: "SAVE5", Amount: dec("5.00")}}
	f := newFixture(t, WithCoupons(coupons))
	f.carts.put("c1", line("A", 3, "10.00"))

	req := validRequest("c1")
	req.CouponCode = "save5"
	o, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	// 30.00 + 3.00 tax + 5.99 shipping - 5.00
	assert.True(t, dec("33.99").Equal(o.Summary.Total), "total %s", o.Summary.Total)
	assert.True(t, dec("5.00").Equal(o.Summary.Discount))
	assert.Equal(t, "SAVE5", o.CouponCode)
	assert.Equal(t, []string{"SAVE5"}, coupons.redeemed)
}

func TestCreateOrder_CouponRedeemFailureKeepsOrder(t *testing.T) {
	coupons := &mockCoupons{
		discount:  &coupon.Discount{Code: "SAVE5", Amount: dec("5.00")},
		redeemErr: coupon.ErrUsageLimitReached,
	}
	f := newFixture(t, WithCoupons(coupons))
	f.carts.put("c1", line("A", 1, "10.00"))

	req := validRequest("c1")
	req.CouponCode = "SAVE5"
	o, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "SAVE5", o.CouponCode)
}

func TestCreateOrder_InvalidCouponReservesNothing(t *testing.T) {
	f := newFixture(t, WithCoupons(&mockCoupons{err: coupon.ErrCouponExpired}))
	f.carts.put("c1", line("A", 1, "10.00"))

	req := validRequest("c1")
	req.CouponCode = "OLD"
	_, err := f.svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrCouponExpired)
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestCreateOrder_PrescriptionFlag(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"), line("RX", 4, "12.50"))

	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)
	assert.True(t, o.RequiresPrescription)
	assert.True(t, o.Lines[1].PrescriptionRequired)
	// 60.00 reaches the free shipping threshold.
	assert.True(t, o.Summary.Shipping.IsZero())
}

func TestCreateOrder_NoOversell(t *testing.T) {
	f := newFixture(t)
	const customers = 20
	for i := range customers {
		f.carts.put(customerName(i), line("A", 1, "10.00"))
	}

	var (
		wg       sync.WaitGroup
		placed   atomic.Int32
		rejected atomic.Int32
	)
	for i := range customers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), validRequest(customerName(i)))
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, inventory.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, placed.Load())
	assert.EqualValues(t, customers-5, rejected.Load())
	assert.Equal(t, 0, f.ledger.stock("A"))
}

func TestCreateOrder_WholeStockContention(t *testing.T) {
	tests := []struct {
		name  string
		stale bool
	}{
		{name: "live catalog"},
		// Every checkout passes the catalog check and the ledger decides.
		{name: "stale catalog", stale: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			const (
				customers = 8
				stock     = 5
			)
			if tt.stale {
				f.catalog.stale = map[string]int{"A": stock}
			}
			for i := range customers {
				f.carts.put(customerName(i), line("A", stock, "10.00"))
			}

			var (
				wg       sync.WaitGroup
				start    = make(chan struct{})
				placed   atomic.Int32
				rejected atomic.Int32
			)
			for i := range customers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.svc.CreateOrder(context.Background(), validRequest(customerName(i)))
					switch {
					case err == nil:
						placed.Add(1)
					case errors.Is(err, inventory.ErrInsufficientStock):
						rejected.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.EqualValues(t, 1, placed.Load())
			assert.EqualValues(t, customers-1, rejected.Load())
			assert.Equal(t, 0, f.ledger.stock("A"))
			assert.Equal(t, 1, len(f.orders.byID))

			kept := 0
			for i := range customers {
				if len(f.carts.get(customerName(i)).Lines) == 1 {
					kept++
				}
			}
			assert.Equal(t, customers-1, kept, "rejected carts are kept")
		})
	}
}

func customerName(i int) string {
	return "customer-" + string(rune('a'+i))
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 2, "10.00"), line("B", 1, "20.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(context.Background(), customer("c1"), o.ID, "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancellationReason)
	require.Len(t, cancelled.History, 2)
	assert.Equal(t, StatusCancelled, cancelled.History[1].Status)
	assert.Equal(t, 5, f.ledger.stock("A"))
	assert.Equal(t, 1, f.ledger.stock("B"))
	assert.True(t, cancelled.RefundAmount.IsZero())

	_, err = f.svc.CancelOrder(context.Background(), customer("c1"), o.ID, "")
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestCancelOrder_PaidIsRefunded(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), admin, o.ID, StatusUpdate{
		Status:        StatusConfirmed,
		PaymentStatus: PaymentPaid,
	})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(context.Background(), customer("c1"), o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, cancelled.PaymentStatus)
	assert.True(t, o.Summary.Total.Equal(cancelled.RefundAmount))
}

func TestCancelOrder_ConcurrentCancelsRestoreOnce(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 3, "10.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)
	require.Equal(t, 2, f.ledger.stock("A"))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CancelOrder(context.Background(), customer("c1"), o.ID, "")
			if err == nil {
				succeeded.Add(1)
				return
			}
			var te *InvalidTransitionError
			if !errors.Is(err, ErrConcurrentUpdate) && !errors.As(err, &te) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestCancelOrder_TransitionGuard(t *testing.T) {
	for _, status := range []Status{StatusProcessing, StatusShipped, StatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.carts.put("c1", line("A", 2, "10.00"))
			o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
			require.NoError(t, err)

			_, err = f.svc.UpdateStatus(context.Background(), admin, o.ID, StatusUpdate{Status: status})
			require.NoError(t, err)
			before, err := f.orders.Get(context.Background(), o.ID)
			require.NoError(t, err)

			_, err = f.svc.CancelOrder(context.Background(), customer("c1"), o.ID, "")
			var te *InvalidTransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, status, te.From)
			assert.Equal(t, StatusCancelled, te.To)

			after, err := f.orders.Get(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, 3, f.ledger.stock("A"))
		})
	}
}

func TestCancelOrder_ForeignOrder(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), customer("c2"), o.ID, "")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CancelOrder(context.Background(), admin, o.ID, "out of stock at warehouse")
	require.NoError(t, err)
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.svc.UpdateStatus(ctx, customer("c1"), o.ID, StatusUpdate{Status: StatusConfirmed})
	require.ErrorIs(t, err, ErrForbidden)

	shipped, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdate{
		Status:         StatusShipped,
		TrackingNumber: "1Z999",
		Note:           "handed to carrier",
	})
	require.NoError(t, err)
	assert.Equal(t, "1Z999", shipped.TrackingNumber)
	require.NotNil(t, shipped.EstimatedDeliveryAt)
	assert.Equal(t, testNow.AddDate(0, 0, 5), *shipped.EstimatedDeliveryAt)

	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdate{Status: StatusConfirmed})
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)

	delivered, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdate{Status: StatusDelivered})
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
	firstDelivery := *delivered.DeliveredAt

	f.svc.now = func() time.Time { return testNow.Add(48 * time.Hour) }
	again, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdate{Status: StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, firstDelivery, *again.DeliveredAt)

	returned, err := f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdate{Status: StatusReturned})
	require.NoError(t, err)
	assert.Equal(t, 4, f.ledger.stock("A"), "returns do not restock")

	statuses := make([]Status, len(returned.History))
	for i, h := range returned.History {
		statuses[i] = h.Status
	}
	assert.Equal(t, []Status{StatusPending, StatusShipped, StatusDelivered, StatusDelivered, StatusReturned}, statuses)
	assert.Equal(t, returned.Status, returned.History[len(returned.History)-1].Status)

	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, StatusUpdate{Status: StatusPending})
	require.ErrorAs(t, err, &te)
}

func TestUpdateStatus_CancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 2, "10.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)

	got, err := f.svc.UpdateStatus(context.Background(), admin, o.ID, StatusUpdate{Status: StatusCancelled, Note: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "fraud", got.CancellationReason)
	assert.Equal(t, 5, f.ledger.stock("A"))
}

func TestUpdateStatus_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateStatus(context.Background(), admin, "any", StatusUpdate{Status: "lost", PaymentStatus: "maybe"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "status")
	assert.Contains(t, ve.Fields, "paymentStatus")
}

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t)
	f.carts.put("c1", line("A", 1, "10.00"))
	o, err := f.svc.CreateOrder(context.Background(), validRequest("c1"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.svc.GetOrder(ctx, customer("c1"), o.ID)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, customer("c2"), o.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetOrder(ctx, customer("c1"), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, c := range []string{"c1", "c1", "c1", "c2"} {
		f.svc.now = func() time.Time { return testNow.Add(time.Duration(i) * time.Minute) }
		f.carts.put(c, line("RX", 1, "12.50"))
		_, err := f.svc.CreateOrder(ctx, validRequest(c))
		require.NoError(t, err)
	}

	page, err := f.svc.ListOrders(ctx, customer("c1"), ListQuery{CustomerID: "c2", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Pages())
	require.Len(t, page.Orders, 2)
	assert.True(t, page.Orders[0].CreatedAt.After(page.Orders[1].CreatedAt))
	for _, o := range page.Orders {
		assert.Equal(t, "c1", o.CustomerID)
	}

	page, err = f.svc.ListOrders(ctx, admin, ListQuery{CustomerID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 20, page.PageSize)

	page, err = f.svc.ListOrders(ctx, admin, ListQuery{Page: 1, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 100, page.PageSize)

	_, err = f.svc.ListOrders(ctx, admin, ListQuery{Status: "lost"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.put("c1", line("A", 2, "10.00"))
	o1, err := f.svc.CreateOrder(ctx, validRequest("c1"))
	require.NoError(t, err)
	f.carts.put("c2", line("A", 1, "10.00"), line("B", 1, "20.00"))
	o2, err := f.svc.CreateOrder(ctx, validRequest("c2"))
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, customer("c2"), o2.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Statistics(ctx, customer("c1"), StatsQuery{})
	require.ErrorIs(t, err, ErrForbidden)

	st, err := f.svc.Statistics(ctx, admin, StatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalOrders)
	assert.True(t, o1.Summary.Total.Equal(st.TotalRevenue), "revenue %s", st.TotalRevenue)
	assert.True(t, o1.Summary.Total.Equal(st.AverageOrderValue))
	require.Len(t, st.ByStatus, len(Statuses))
	for _, s := range st.ByStatus {
		switch s.Status {
		case StatusPending, StatusCancelled:
			assert.Equal(t, 1, s.Count, s.Status)
		default:
			assert.Zero(t, s.Count, s.Status)
		}
	}
	require.Len(t, st.TopProducts, 1)
	assert.Equal(t, "A", st.TopProducts[0].ProductID)
	assert.Equal(t, 2, st.TopProducts[0].Quantity)

	st, err = f.svc.Statistics(ctx, admin, StatsQuery{Range: Range{From: testNow.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Zero(t, st.TotalOrders)
	assert.True(t, st.AverageOrderValue.IsZero())
	assert.Empty(t, st.TopProducts)

	_, err = f.svc.Statistics(ctx, admin, StatsQuery{Range: Range{From: testNow, To: testNow}})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}
