package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/shop"
)

func writeShops(w http.ResponseWriter, shops []shop.Shop) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, s := range shops {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(s.ID)
			e.FieldStart("name")
			e.Str(s.Name)
			e.FieldStart("is_active")
			e.Bool(s.Active)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func (h *Handler) getSellerStatus(w http.ResponseWriter, r *http.Request) {
	shops, err := h.shops.Status(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeShops(w, shops)
}

func (h *Handler) setSellerStatus(w http.ResponseWriter, r *http.Request) {
	var active *bool
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "is_active" {
			return d.Skip()
		}
		v, err := d.Bool()
		active = &v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if active == nil {
		writeError(w, r, fault.Validationf("set seller status", "is_active is required"))
		return
	}

	shops, err := h.shops.SetStatus(r.Context(), principal(r).UserID, *active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeShops(w, shops)
}
