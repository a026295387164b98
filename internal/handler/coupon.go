package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
)

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discount")
	e.Int(c.Discount)
	e.FieldStart("valid_from")
	timestamp(e, c.ValidFrom)
	e.FieldStart("valid_to")
	timestamp(e, c.ValidTo)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.ObjEnd()
}

func decodeCoupon(r *http.Request) (*coupon.Coupon, error) {
	c := &coupon.Coupon{Active: true}
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "discount":
			c.Discount, err = d.Int()
		case "valid_from":
			c.ValidFrom, err = decodeTime(d)
		case "valid_to":
			c.ValidTo, err = decodeTime(d)
		case "active":
			c.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range coupons {
			encodeCoupon(e, &coupons[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCoupon(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.coupons.Create(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "couponID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := decodeCoupon(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c.ID = id
	if err := h.coupons.Update(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) deleteCoupons(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDList(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.coupons.Delete(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDeleted(w, n)
}
