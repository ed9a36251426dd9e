package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentInsurance      PaymentMethod = "insurance"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentCashOnDelivery, PaymentInsurance, PaymentBankTransfer:
		return true
	}
	return false
}

// PaymentStatus tracks settlement. Payment processing itself happens
// elsewhere; the order only records the outcome.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Address is a postal address.
type Address struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Line is an immutable snapshot of a purchased product.
type Line struct {
	ProductID            string          `json:"product_id"`
	Name                 string          `json:"name"`
	Quantity             int             `json:"quantity"`
	Price                decimal.Decimal `json:"price"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	PrescriptionRequired bool            `json:"prescription_required"`
}

// Summary holds the order totals. Total = Subtotal + Tax + Shipping - Discount.
type Summary struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// HistoryEntry records one status write.
type HistoryEntry struct {
	Status  Status    `json:"status"`
	At      time.Time `json:"at"`
	Note    string    `json:"note,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
}

// Order is created from a validated cart snapshot. After creation only the
// status, its history and a few administrative fields change.
type Order struct {
	ID                   string
	Number               string
	CustomerID           string
	Lines                []Line
	ShippingAddress      Address
	BillingAddress       Address
	Summary              Summary
	PaymentMethod        PaymentMethod
	PaymentStatus        PaymentStatus
	Status               Status
	History              []HistoryEntry
	RequiresPrescription bool
	Notes                string
	CouponCode           string
	CancellationReason   string
	RefundAmount         decimal.Decimal
	TrackingNumber       string
	EstimatedDeliveryAt  *time.Time
	DeliveredAt          *time.Time
	// Version increments on every persisted update and guards concurrent
	// status writes.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanBeCancelled reports whether the order may still be cancelled.
func (o *Order) CanBeCancelled() bool {
	return o.Status.Cancellable()
}

// Transition moves the order to status to and appends a history entry.
func (o *Order) Transition(to Status, at time.Time, note, actorID string) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	o.History = append(o.History, HistoryEntry{
		Status:  to,
		At:      at,
		Note:    note,
		ActorID: actorID,
	})
	o.UpdatedAt = at
	if to == StatusDelivered && o.DeliveredAt == nil {
		delivered := at
		o.DeliveredAt = &delivered
	}
	return nil
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	cp.History = append([]HistoryEntry(nil), o.History...)
	if o.EstimatedDeliveryAt != nil {
		t := *o.EstimatedDeliveryAt
		cp.EstimatedDeliveryAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

// ListQuery selects a page of orders.
type ListQuery struct {
	// CustomerID restricts results to one customer; empty means all.
	CustomerID string
	// Status filters by current status; empty means any.
	Status   Status
	Page     int
	PageSize int
}

// Offset returns the number of rows to skip.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Repository persists orders. Implementations store and load only; all
// derived values are computed by Service.
type Repository interface {
	// Create returns ErrDuplicateNumber if the order number is taken.
	Create(ctx context.Context, o *Order) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Order, error)
	// Update writes status, history and administrative fields when the
	// stored version equals o.Version, then increments o.Version. A version
	// mismatch returns ErrConcurrentUpdate.
	Update(ctx context.Context, o *Order) error
	// List returns the requested page ordered by creation time, newest
	// first, and the total number of matching orders.
	List(ctx context.Context, q ListQuery) ([]Order, int, error)
	StatsRepository
}

func (a Address) isZero() bool {
	return a == Address{}
}

func (a Address) validate(prefix string, errs fieldErrors) {
	required := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"street", a.Street},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs.add(prefix+"."+f.name, "required")
		}
	}
}
