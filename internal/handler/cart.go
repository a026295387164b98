package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/InnokentiyKim/Retail/internal/domain/cart"
	"github.com/InnokentiyKim/Retail/internal/domain/fault"
)

func writeCart(w http.ResponseWriter, v *cart.View) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(v.Order.ID)
		e.FieldStart("state")
		e.Str(string(v.Order.State))
		e.FieldStart("lines")
		encodeLines(e, v.Lines)
		e.FieldStart("total")
		money(e, v.Total)
		e.ObjEnd()
	})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.carts.GetCart(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, v)
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	o, err := h.carts.GetOrCreateCart(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

func (h *Handler) addCartLines(w http.ResponseWriter, r *http.Request) {
	var items []cart.Item
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var it cart.Item
			err := d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "stock_unit_id":
					v, err := d.Int64()
					it.StockUnitID = v
					return err
				case "quantity":
					v, err := d.Int()
					it.Quantity = v
					return err
				default:
					return d.Skip()
				}
			})
			items = append(items, it)
			return err
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.carts.AddOrUpdateLines(r.Context(), principal(r).UserID, items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, v)
}

func (h *Handler) setCartLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "lineID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	quantity := -1
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		quantity = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if quantity < 0 {
		writeError(w, r, fault.Validationf("set cart line", "quantity is required"))
		return
	}

	v, err := h.carts.SetLineQuantity(r.Context(), principal(r).UserID, lineID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, v)
}

func (h *Handler) removeCartLines(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDList(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.carts.RemoveLines(r.Context(), principal(r).UserID, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDeleted(w, n)
}
