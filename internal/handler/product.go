package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/product"
)

func writeProducts(w http.ResponseWriter, products []product.Product) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			e.ObjStart()
			e.FieldStart("stock_unit_id")
			e.Int64(p.StockUnitID)
			e.FieldStart("product_id")
			e.Int64(p.ProductID)
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("category")
			e.Str(p.Category)
			e.FieldStart("shop_id")
			e.Int64(p.ShopID)
			e.FieldStart("shop")
			e.Str(p.Shop)
			e.FieldStart("quantity")
			e.Int(p.Quantity)
			e.FieldStart("price")
			money(e, p.Price)
			if p.PriceRetail.Valid {
				e.FieldStart("price_retail")
				money(e, p.PriceRetail.Decimal)
			}
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProducts(w, products)
}

func (h *Handler) topProducts(w http.ResponseWriter, r *http.Request) {
	n := h.cfg.DefaultTop
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, r, fault.Validationf("top products", "n must be a positive integer"))
			return
		}
		n = min(v, h.cfg.MaxTop)
	}

	products, err := h.products.Top(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProducts(w, products)
}
