package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/pharmacy-api/internal/domain/order"
)

// CreateOrder places an order from the caller's cart.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	customer, err := customerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := order.CreateRequest{CustomerID: customer}
	err = decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d, key)
		case "billingAddress":
			req.BillingAddress, err = decodeAddress(d, key)
		case "paymentMethod":
			var s string
			s, err = decodeStr(d, key)
			req.PaymentMethod = order.PaymentMethod(s)
		case "notes":
			req.Notes, err = decodeStr(d, key)
		case "couponCode":
			req.CouponCode, err = decodeStr(d, key)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder returns one order visible to the caller.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), principal(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListOrders returns a page of orders. Query: page, pageSize, status and,
// for admins, customerId.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		lq  order.ListQuery
		err error
	)
	if lq.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		writeError(w, r, err)
		return
	}
	if lq.PageSize, err = queryInt(q.Get("pageSize"), "pageSize"); err != nil {
		writeError(w, r, err)
		return
	}
	lq.Status = order.Status(q.Get("status"))
	lq.CustomerID = q.Get("customerId")

	page, err := h.orders.ListOrders(r.Context(), principal(r), lq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "orders", func(e *jx.Encoder) {
			e.ArrStart()
			for i := range page.Orders {
				encodeOrder(e, &page.Orders[i])
			}
			e.ArrEnd()
		})
		field(e, "total", func(e *jx.Encoder) { e.Int(page.Total) })
		field(e, "page", func(e *jx.Encoder) { e.Int(page.Page) })
		field(e, "pageSize", func(e *jx.Encoder) { e.Int(page.PageSize) })
		field(e, "pages", func(e *jx.Encoder) { e.Int(page.Pages()) })
		e.ObjEnd()
	})
}

// CancelOrder cancels an order and restores its stock.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var reason string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "reason" {
			return d.Skip()
		}
		var err error
		reason, err = decodeStr(d, key)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.CancelOrder(r.Context(), principal(r), chi.URLParam(r, "orderID"), reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderStatus applies an administrative status write.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var u order.StatusUpdate
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var (
			s   string
			err error
		)
		switch key {
		case "status":
			s, err = decodeStr(d, key)
			u.Status = order.Status(s)
		case "note":
			u.Note, err = decodeStr(d, key)
		case "trackingNumber":
			u.TrackingNumber, err = decodeStr(d, key)
		case "paymentStatus":
			s, err = decodeStr(d, key)
			u.PaymentStatus = order.PaymentStatus(s)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), principal(r), chi.URLParam(r, "orderID"), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func queryInt(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return v, nil
}

// decodeStr reads a string field; null reads as empty.
func decodeStr(d *jx.Decoder, name string) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		return d.Str()
	default:
		return "", badRequest(name, "must be a string")
	}
}

func decodeAddress(d *jx.Decoder, name string) (order.Address, error) {
	var a order.Address
	switch d.Next() {
	case jx.Null:
		return a, d.Null()
	case jx.Object:
	default:
		return a, badRequest(name, "must be an object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			k   = string(key)
			err error
		)
		switch k {
		case "fullName":
			a.FullName, err = decodeStr(d, name+"."+k)
		case "street":
			a.Street, err = decodeStr(d, name+"."+k)
		case "city":
			a.City, err = decodeStr(d, name+"."+k)
		case "state":
			a.State, err = decodeStr(d, name+"."+k)
		case "postalCode":
			a.PostalCode, err = decodeStr(d, name+"."+k)
		case "country":
			a.Country, err = decodeStr(d, name+"."+k)
		case "phone":
			a.Phone, err = decodeStr(d, name+"."+k)
		default:
			return d.Skip()
		}
		return err
	})
	return a, err
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.ObjStart()
	field(e, "fullName", func(e *jx.Encoder) { e.Str(a.FullName) })
	field(e, "street", func(e *jx.Encoder) { e.Str(a.Street) })
	field(e, "city", func(e *jx.Encoder) { e.Str(a.City) })
	field(e, "state", func(e *jx.Encoder) { e.Str(a.State) })
	field(e, "postalCode", func(e *jx.Encoder) { e.Str(a.PostalCode) })
	field(e, "country", func(e *jx.Encoder) { e.Str(a.Country) })
	if a.Phone != "" {
		field(e, "phone", func(e *jx.Encoder) { e.Str(a.Phone) })
	}
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	field(e, "id", func(e *jx.Encoder) { e.Str(o.ID) })
	field(e, "orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
	field(e, "customerId", func(e *jx.Encoder) { e.Str(o.CustomerID) })
	field(e, "status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	field(e, "items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, l := range o.Lines {
			e.ObjStart()
			field(e, "productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
			field(e, "name", func(e *jx.Encoder) { e.Str(l.Name) })
			field(e, "quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
			field(e, "price", func(e *jx.Encoder) { encodeMoney(e, l.Price) })
			field(e, "subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal) })
			field(e, "prescriptionRequired", func(e *jx.Encoder) { e.Bool(l.PrescriptionRequired) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	field(e, "shippingAddress", func(e *jx.Encoder) { encodeAddress(e, o.ShippingAddress) })
	field(e, "billingAddress", func(e *jx.Encoder) { encodeAddress(e, o.BillingAddress) })
	field(e, "summary", func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Summary.Subtotal) })
		field(e, "tax", func(e *jx.Encoder) { encodeMoney(e, o.Summary.Tax) })
		field(e, "shipping", func(e *jx.Encoder) { encodeMoney(e, o.Summary.Shipping) })
		field(e, "discount", func(e *jx.Encoder) { encodeMoney(e, o.Summary.Discount) })
		field(e, "total", func(e *jx.Encoder) { encodeMoney(e, o.Summary.Total) })
		e.ObjEnd()
	})
	field(e, "paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
	field(e, "paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
	field(e, "requiresPrescription", func(e *jx.Encoder) { e.Bool(o.RequiresPrescription) })
	if o.Notes != "" {
		field(e, "notes", func(e *jx.Encoder) { e.Str(o.Notes) })
	}
	if o.CouponCode != "" {
		field(e, "couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
	}
	if o.CancellationReason != "" {
		field(e, "cancellationReason", func(e *jx.Encoder) { e.Str(o.CancellationReason) })
	}
	if !o.RefundAmount.IsZero() {
		field(e, "refundAmount", func(e *jx.Encoder) { encodeMoney(e, o.RefundAmount) })
	}
	if o.TrackingNumber != "" {
		field(e, "trackingNumber", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
	}
	field(e, "estimatedDeliveryAt", func(e *jx.Encoder) { encodeOptTime(e, o.EstimatedDeliveryAt) })
	field(e, "deliveredAt", func(e *jx.Encoder) { encodeOptTime(e, o.DeliveredAt) })
	field(e, "statusHistory", func(e *jx.Encoder) {
		e.ArrStart()
		for _, h := range o.History {
			e.ObjStart()
			field(e, "status", func(e *jx.Encoder) { e.Str(string(h.Status)) })
			field(e, "at", func(e *jx.Encoder) { encodeTime(e, h.At) })
			if h.Note != "" {
				field(e, "note", func(e *jx.Encoder) { e.Str(h.Note) })
			}
			if h.ActorID != "" {
				field(e, "actorId", func(e *jx.Encoder) { e.Str(h.ActorID) })
			}
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	field(e, "version", func(e *jx.Encoder) { e.Int(o.Version) })
	field(e, "createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
	field(e, "updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	e.ObjEnd()
}
