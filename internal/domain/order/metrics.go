package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records order lifecycle counters.
type Metrics struct {
	created       metric.Int64Counter
	cancelled     metric.Int64Counter
	stockRejected metric.Int64Counter
}

// NewMetrics registers the order counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders successfully placed"))
	if err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	cancelled, err := meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled with stock restored"))
	if err != nil {
		return nil, errors.Wrap(err, "orders.cancelled")
	}
	rejected, err := meter.Int64Counter("orders.stock_rejected",
		metric.WithDescription("Checkouts rejected for insufficient stock"))
	if err != nil {
		return nil, errors.Wrap(err, "orders.stock_rejected")
	}
	return &Metrics{
		created:       created,
		cancelled:     cancelled,
		stockRejected: rejected,
	}, nil
}

func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("order"))
	return m
}

func (m *Metrics) orderCreated(ctx context.Context, method PaymentMethod) {
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(method))))
}

func (m *Metrics) orderCancelled(ctx context.Context, actor string) {
	m.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", actor)))
}

func (m *Metrics) stockRejection(ctx context.Context) {
	m.stockRejected.Add(ctx, 1)
}
