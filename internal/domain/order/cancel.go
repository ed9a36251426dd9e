package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
)

// estimatedDeliveryDays is added to the ship date when no estimate is set.
const estimatedDeliveryDays = 5

// CancelOrder cancels an order owned by p and restores its stock.
func (s *Service) CancelOrder(ctx context.Context, p auth.Principal, id, reason string) (*Order, error) {
	o, err := s.GetOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	actor := "customer"
	if p.IsAdmin && p.CustomerID != o.CustomerID {
		actor = "admin"
	}
	return s.cancel(ctx, o, strings.TrimSpace(reason), p.CustomerID, actor)
}

// cancel moves o to cancelled, persists it and then returns every line to
// the ledger. The versioned update guarantees only one concurrent cancel
// reaches the restore step.
func (s *Service) cancel(ctx context.Context, o *Order, reason, actorID, actor string) (*Order, error) {
	if !o.CanBeCancelled() {
		return nil, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusCancelled}
	}

	note := "order cancelled"
	if reason != "" {
		note = reason
	}
	if err := o.Transition(StatusCancelled, s.now(), note, actorID); err != nil {
		return nil, err
	}
	o.CancellationReason = reason
	if o.PaymentStatus == PaymentPaid {
		o.PaymentStatus = PaymentRefunded
		o.RefundAmount = o.Summary.Total
	}

	if err := s.orders.Update(ctx, o); err != nil {
		return nil, errors.Wrap(err, "update order")
	}

	inventory.RevertAll(ctx, s.ledger, reserve(o.Lines), s.onRestoreError(ctx, o.ID))

	s.metrics.orderCancelled(ctx, actor)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return o, nil
}

// StatusUpdate is an administrative status write.
type StatusUpdate struct {
	Status Status
	Note   string
	// TrackingNumber replaces the stored one when non-empty.
	TrackingNumber string
	// PaymentStatus records a settlement outcome when non-empty.
	PaymentStatus PaymentStatus
}

func (u StatusUpdate) validate() error {
	errs := fieldErrors{}
	if !u.Status.Valid() {
		errs.add("status", "unknown status")
	}
	switch u.PaymentStatus {
	case "", PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
	default:
		errs.add("paymentStatus", "unknown payment status")
	}
	if len(u.TrackingNumber) > 100 {
		errs.add("trackingNumber", "must be at most 100 characters")
	}
	return errs.err()
}

// UpdateStatus applies an administrative status write. Moving to cancelled
// follows the cancellation path and restores stock; returned does not.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, id string, u StatusUpdate) (*Order, error) {
	if !p.IsAdmin {
		return nil, ErrForbidden
	}
	if err := u.validate(); err != nil {
		return nil, err
	}
	o, err := s.GetOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if u.PaymentStatus != "" {
		o.PaymentStatus = u.PaymentStatus
	}
	if u.TrackingNumber != "" {
		o.TrackingNumber = strings.TrimSpace(u.TrackingNumber)
	}
	if u.Status == StatusCancelled {
		return s.cancel(ctx, o, strings.TrimSpace(u.Note), p.CustomerID, "admin")
	}

	now := s.now()
	if err := o.Transition(u.Status, now, strings.TrimSpace(u.Note), p.CustomerID); err != nil {
		return nil, err
	}
	if u.Status == StatusShipped && o.EstimatedDeliveryAt == nil {
		eta := now.AddDate(0, 0, estimatedDeliveryDays)
		o.EstimatedDeliveryAt = &eta
	}

	if err := s.orders.Update(ctx, o); err != nil {
		return nil, errors.Wrap(err, "update order")
	}
	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", o.ID),
		zap.Stringer("status", o.Status),
	)
	return o, nil
}
