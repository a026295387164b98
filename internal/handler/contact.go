package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/InnokentiyKim/Retail/internal/domain/contact"
)

func encodeContact(e *jx.Encoder, c *contact.Contact) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	for _, f := range []struct{ name, value string }{
		{"phone", c.Phone},
		{"country", c.Country},
		{"city", c.City},
		{"street", c.Street},
		{"house", c.House},
		{"structure", c.Structure},
		{"building", c.Building},
		{"apartment", c.Apartment},
	} {
		if f.value == "" {
			continue
		}
		e.FieldStart(f.name)
		e.Str(f.value)
	}
	e.ObjEnd()
}

func (h *Handler) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.contacts.List(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range contacts {
			encodeContact(e, &contacts[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) createContact(w http.ResponseWriter, r *http.Request) {
	var c contact.Contact
	fields := map[string]*string{
		"phone":     &c.Phone,
		"country":   &c.Country,
		"city":      &c.City,
		"street":    &c.Street,
		"house":     &c.House,
		"structure": &c.Structure,
		"building":  &c.Building,
		"apartment": &c.Apartment,
	}
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		dst, ok := fields[key]
		if !ok {
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.contacts.Create(r.Context(), principal(r).UserID, &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeContact(e, &c) })
}

func (h *Handler) deleteContacts(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDList(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.contacts.Delete(r.Context(), principal(r).UserID, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDeleted(w, n)
}
