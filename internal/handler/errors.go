package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
	"github.com/xenking/pharmacy-api/internal/domain/order"
)

// errNoCustomer is returned for cart and checkout calls made with a key that
// is not bound to a customer.
var errNoCustomer = errors.New("api key is not bound to a customer")

// writeError maps err to a status code and writes the error body. Errors
// outside the domain taxonomy are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr     *requestError
		validErr   *order.ValidationError
		stockErr   *inventory.InsufficientStockError
		unavailErr *catalog.UnavailableError
		transErr   *order.InvalidTransitionError
		qtyErr     *cart.InvalidQuantityError
		lineErr    *cart.LineNotFoundError
	)

	status := http.StatusInternalServerError
	msg := "internal server error"
	var extra func(e *jx.Encoder)

	switch {
	case errors.As(err, &reqErr):
		status, msg = http.StatusBadRequest, reqErr.Error()
		if reqErr.field != "" {
			extra = fieldsEncoder(map[string]string{reqErr.field: reqErr.msg})
		}
	case errors.As(err, &validErr):
		status, msg = http.StatusBadRequest, "validation failed"
		extra = fieldsEncoder(validErr.Fields)
	case errors.As(err, &qtyErr):
		status, msg = http.StatusBadRequest, qtyErr.Error()
	case errors.Is(err, order.ErrEmptyCart):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, order.ErrForbidden), errors.Is(err, errNoCustomer):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, order.ErrNotFound):
		status, msg = http.StatusNotFound, "order not found"
	case errors.As(err, &lineErr):
		status, msg = http.StatusNotFound, lineErr.Error()
	case errors.As(err, &transErr):
		status, msg = http.StatusConflict, transErr.Error()
		extra = func(e *jx.Encoder) {
			field(e, "from", func(e *jx.Encoder) { e.Str(string(transErr.From)) })
			field(e, "to", func(e *jx.Encoder) { e.Str(string(transErr.To)) })
		}
	case errors.Is(err, order.ErrConcurrentUpdate), errors.Is(err, order.ErrDuplicateNumber):
		status, msg = http.StatusConflict, err.Error()
	case errors.As(err, &stockErr):
		status, msg = http.StatusUnprocessableEntity, "insufficient stock"
		extra = func(e *jx.Encoder) {
			field(e, "productId", func(e *jx.Encoder) { e.Str(stockErr.ProductID) })
			field(e, "requested", func(e *jx.Encoder) { e.Int(stockErr.Requested) })
			field(e, "available", func(e *jx.Encoder) { e.Int(stockErr.Available) })
		}
	case errors.As(err, &unavailErr):
		status, msg = http.StatusUnprocessableEntity, "product unavailable"
		extra = func(e *jx.Encoder) {
			field(e, "productId", func(e *jx.Encoder) { e.Str(unavailErr.ProductID) })
		}
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrUsageLimitReached):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	}

	lg := zctx.From(r.Context())
	if status == http.StatusInternalServerError {
		lg.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "code", func(e *jx.Encoder) { e.Int(status) })
		field(e, "message", func(e *jx.Encoder) { e.Str(msg) })
		if extra != nil {
			extra(e)
		}
		e.ObjEnd()
	})
}

func fieldsEncoder(fields map[string]string) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.FieldStart("fields")
		e.ObjStart()
		for k, v := range fields {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
}
