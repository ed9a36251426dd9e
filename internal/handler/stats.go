package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/pharmacy-api/internal/domain/order"
)

// Statistics returns order aggregates. Query: from, to (RFC 3339 or
// YYYY-MM-DD) and top. Admin only.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		sq  order.StatsQuery
		err error
	)
	if sq.Range.From, err = queryTime(q.Get("from"), "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if sq.Range.To, err = queryTime(q.Get("to"), "to"); err != nil {
		writeError(w, r, err)
		return
	}
	if sq.Top, err = queryInt(q.Get("top"), "top"); err != nil {
		writeError(w, r, err)
		return
	}

	st, err := h.orders.Statistics(r.Context(), principal(r), sq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "from", func(e *jx.Encoder) { encodeOptBound(e, st.Range.From) })
		field(e, "to", func(e *jx.Encoder) { encodeOptBound(e, st.Range.To) })
		field(e, "totalOrders", func(e *jx.Encoder) { e.Int(st.TotalOrders) })
		field(e, "totalRevenue", func(e *jx.Encoder) { encodeMoney(e, st.TotalRevenue) })
		field(e, "averageOrderValue", func(e *jx.Encoder) { encodeMoney(e, st.AverageOrderValue) })
		field(e, "byStatus", func(e *jx.Encoder) {
			e.ObjStart()
			for _, t := range st.ByStatus {
				field(e, string(t.Status), func(e *jx.Encoder) {
					e.ObjStart()
					field(e, "count", func(e *jx.Encoder) { e.Int(t.Count) })
					field(e, "revenue", func(e *jx.Encoder) { encodeMoney(e, t.Revenue) })
					e.ObjEnd()
				})
			}
			e.ObjEnd()
		})
		field(e, "topProducts", func(e *jx.Encoder) {
			e.ArrStart()
			for _, p := range st.TopProducts {
				e.ObjStart()
				field(e, "productId", func(e *jx.Encoder) { e.Str(p.ProductID) })
				field(e, "name", func(e *jx.Encoder) { e.Str(p.Name) })
				field(e, "quantity", func(e *jx.Encoder) { e.Int(p.Quantity) })
				field(e, "revenue", func(e *jx.Encoder) { encodeMoney(e, p.Revenue) })
				e.ObjEnd()
			}
			e.ArrEnd()
		})
		e.ObjEnd()
	})
}

func queryTime(s, name string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest(name, "must be an RFC 3339 timestamp or a date")
}

func encodeOptBound(e *jx.Encoder, t time.Time) {
	if t.IsZero() {
		e.Null()
		return
	}
	encodeTime(e, t)
}
