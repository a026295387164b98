package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/InnokentiyKim/Retail/internal/domain/auth"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
)

func encodeLine(e *jx.Encoder, l order.Line) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(l.ID)
	e.FieldStart("stock_unit_id")
	e.Int64(l.StockUnitID)
	e.FieldStart("product_id")
	e.Int64(l.ProductID)
	e.FieldStart("product")
	e.Str(l.ProductName)
	e.FieldStart("shop_id")
	e.Int64(l.ShopID)
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	e.FieldStart("unit_price")
	money(e, l.UnitPrice)
	e.ObjEnd()
}

func encodeLines(e *jx.Encoder, lines []order.Line) {
	e.ArrStart()
	for _, l := range lines {
		encodeLine(e, l)
	}
	e.ArrEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("user_id")
	e.Int64(o.UserID)
	e.FieldStart("state")
	e.Str(string(o.State))
	if o.ContactID != nil {
		e.FieldStart("contact_id")
		e.Int64(*o.ContactID)
	}
	if o.CouponCode != "" {
		e.FieldStart("coupon")
		e.Str(o.CouponCode)
	}
	e.FieldStart("total")
	money(e, o.Total)
	e.FieldStart("created_at")
	timestamp(e, o.CreatedAt)
	e.FieldStart("updated_at")
	timestamp(e, o.UpdatedAt)
	if o.Lines != nil {
		e.FieldStart("lines")
		encodeLines(e, o.Lines)
	}
	e.ObjEnd()
}

func writeOrders(w http.ResponseWriter, orders []order.Order) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func writeOrder(w http.ResponseWriter, o *order.Order) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListBuyerOrders(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrders(w, orders)
}

func (h *Handler) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListSellerOrders(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrders(w, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p := principal(r)
	var o *order.Order
	if p.Is(auth.RoleManager) {
		o, err = h.orders.Get(r.Context(), id)
	} else {
		o, err = h.orders.GetOwned(r.Context(), p.UserID, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := order.ConfirmRequest{OrderID: id, UserID: principal(r).UserID}
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "contact_id":
			v, err := d.Int64()
			req.ContactID = v
			return err
		case "coupon":
			v, err := d.Str()
			req.CouponCode = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Confirm(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var raw string
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "state" {
			return d.Skip()
		}
		v, err := d.Str()
		raw = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := order.ParseState(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Advance(r.Context(), id, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}
