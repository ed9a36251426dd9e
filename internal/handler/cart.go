package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/pharmacy-api/internal/domain/cart"
)

// GetCart returns the caller's cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.cartOp(w, r, func(customer string) (*cart.Cart, error) {
		return h.carts.Get(r.Context(), customer)
	})
}

// ClearCart removes every line.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.cartOp(w, r, func(customer string) (*cart.Cart, error) {
		return h.carts.Clear(r.Context(), customer)
	})
}

// AddCartItem adds a product at its catalog price.
// Body: {"productId": "...", "quantity": 1}.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		quantity  = 1
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = decodeStr(d, key)
		case "quantity":
			quantity, err = decodeInt(d, key)
		default:
			return d.Skip()
		}
		return err
	})
	if err == nil && productID == "" {
		err = badRequest("productId", "required")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cartOp(w, r, func(customer string) (*cart.Cart, error) {
		return h.carts.AddProduct(r.Context(), customer, productID, quantity)
	})
}

// UpdateCartItem sets a line quantity. Quantity 0 removes the line.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	quantity := -1
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		quantity, err = decodeInt(d, key)
		return err
	})
	if err == nil && quantity < 0 {
		err = badRequest("quantity", "required, must be zero or more")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	h.cartOp(w, r, func(customer string) (*cart.Cart, error) {
		return h.carts.SetProductQuantity(r.Context(), customer, productID, quantity)
	})
}

// RemoveCartItem drops a line.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	h.cartOp(w, r, func(customer string) (*cart.Cart, error) {
		return h.carts.RemoveLine(r.Context(), customer, productID)
	})
}

// ValidateCart reports stale lines without changing the cart.
func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	h.cartIssuesOp(w, r, h.carts.Validate)
}

// FixCart repairs stale lines and reports what was changed.
func (h *Handler) FixCart(w http.ResponseWriter, r *http.Request) {
	h.cartIssuesOp(w, r, h.carts.Fix)
}

func (h *Handler) cartOp(w http.ResponseWriter, r *http.Request, op func(customer string) (*cart.Cart, error)) {
	customer, err := customerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := op(customer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

func (h *Handler) cartIssuesOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, customer string) (*cart.Cart, []cart.Issue, error)) {
	customer, err := customerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, issues, err := op(r.Context(), customer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "cart", func(e *jx.Encoder) { encodeCart(e, c) })
		field(e, "valid", func(e *jx.Encoder) { e.Bool(len(issues) == 0) })
		field(e, "issues", func(e *jx.Encoder) {
			e.ArrStart()
			for _, is := range issues {
				encodeIssue(e, is)
			}
			e.ArrEnd()
		})
		e.ObjEnd()
	})
}

// decodeInt reads an integer field.
func decodeInt(d *jx.Decoder, name string) (int, error) {
	if d.Next() != jx.Number {
		return 0, badRequest(name, "must be an integer")
	}
	v, err := d.Int()
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return v, nil
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	field(e, "customerId", func(e *jx.Encoder) { e.Str(c.CustomerID) })
	field(e, "items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, l := range c.Lines {
			e.ObjStart()
			field(e, "productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
			field(e, "quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
			field(e, "unitPrice", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
			field(e, "subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal) })
			field(e, "addedAt", func(e *jx.Encoder) { encodeTime(e, l.AddedAt) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	field(e, "totalItems", func(e *jx.Encoder) { e.Int(c.TotalItems) })
	field(e, "totalAmount", func(e *jx.Encoder) { encodeMoney(e, c.TotalAmount) })
	field(e, "updatedAt", func(e *jx.Encoder) { encodeTime(e, c.UpdatedAt) })
	e.ObjEnd()
}

func encodeIssue(e *jx.Encoder, is cart.Issue) {
	e.ObjStart()
	field(e, "productId", func(e *jx.Encoder) { e.Str(is.ProductID) })
	field(e, "kind", func(e *jx.Encoder) { e.Str(string(is.Kind)) })
	field(e, "requested", func(e *jx.Encoder) { e.Int(is.Requested) })
	field(e, "available", func(e *jx.Encoder) { e.Int(is.Available) })
	if is.Kind != cart.IssueUnavailable {
		field(e, "oldPrice", func(e *jx.Encoder) { encodeMoney(e, is.OldPrice) })
		field(e, "newPrice", func(e *jx.Encoder) { encodeMoney(e, is.NewPrice) })
	}
	e.ObjEnd()
}
