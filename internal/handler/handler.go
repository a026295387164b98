// Package handler exposes the order core over HTTP with chi routing and jx
// encoding.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/InnokentiyKim/Retail/internal/domain/auth"
	"github.com/InnokentiyKim/Retail/internal/domain/cart"
	"github.com/InnokentiyKim/Retail/internal/domain/contact"
	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
	"github.com/InnokentiyKim/Retail/internal/domain/product"
	"github.com/InnokentiyKim/Retail/internal/domain/shop"
)

// Carts is the cart API of the domain.
type Carts interface {
	GetOrCreateCart(ctx context.Context, userID int64) (*order.Order, error)
	GetCart(ctx context.Context, userID int64) (*cart.View, error)
	AddOrUpdateLines(ctx context.Context, userID int64, items []cart.Item) (*cart.View, error)
	SetLineQuantity(ctx context.Context, userID, lineID int64, quantity int) (*cart.View, error)
	RemoveLines(ctx context.Context, userID int64, lineIDs []int64) (int64, error)
}

// Orders is the order API of the domain.
type Orders interface {
	Confirm(ctx context.Context, req order.ConfirmRequest) (*order.Order, error)
	Advance(ctx context.Context, orderID int64, to order.State) (*order.Order, error)
	Get(ctx context.Context, orderID int64) (*order.Order, error)
	GetOwned(ctx context.Context, userID, orderID int64) (*order.Order, error)
	ListBuyerOrders(ctx context.Context, userID int64) ([]order.Order, error)
	ListSellerOrders(ctx context.Context, sellerID int64) ([]order.Order, error)
}

// Coupons is the coupon administration API of the domain.
type Coupons interface {
	List(ctx context.Context) ([]coupon.Coupon, error)
	Create(ctx context.Context, c *coupon.Coupon) error
	Update(ctx context.Context, c *coupon.Coupon) error
	Delete(ctx context.Context, ids []int64) (int64, error)
}

// Contacts is the contact API of the domain.
type Contacts interface {
	List(ctx context.Context, userID int64) ([]contact.Contact, error)
	Create(ctx context.Context, userID int64, c *contact.Contact) error
	Delete(ctx context.Context, userID int64, ids []int64) (int64, error)
}

// Products is the product listing API of the domain.
type Products interface {
	List(ctx context.Context) ([]product.Product, error)
	Top(ctx context.Context, n int) ([]product.Product, error)
}

// Shops is the seller status API of the domain.
type Shops interface {
	Status(ctx context.Context, ownerID int64) ([]shop.Shop, error)
	SetStatus(ctx context.Context, ownerID int64, active bool) ([]shop.Shop, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// DefaultTop is the number of products returned by /products/top
	// without an explicit n.
	DefaultTop int
	// MaxTop caps n of /products/top.
	MaxTop int
	// RequestTimeout bounds the handling of one API request.
	RequestTimeout time.Duration
}

// Handler serves the REST API.
type Handler struct {
	carts    Carts
	orders   Orders
	coupons  Coupons
	contacts Contacts
	products Products
	shops    Shops

	cfg Config
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, carts Carts, orders Orders, coupons Coupons, contacts Contacts, products Products, shops Shops) *Handler {
	if cfg.DefaultTop <= 0 {
		cfg.DefaultTop = 10
	}
	if cfg.MaxTop <= 0 {
		cfg.MaxTop = 100
	}
	return &Handler{
		carts:    carts,
		orders:   orders,
		coupons:  coupons,
		contacts: contacts,
		products: products,
		shops:    shops,
		cfg:      cfg,
	}
}

// Routes mounts the API on r. Everything but the product listing requires
// an API key; role checks follow the principal's role.
func (h *Handler) Routes(r chi.Router, sec *SecurityHandler) {
	if h.cfg.RequestTimeout > 0 {
		r.Use(timeout(h.cfg.RequestTimeout))
	}

	r.Get("/products", h.listProducts)
	r.Get("/products/top", h.topProducts)

	r.Group(func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/cart", func(r chi.Router) {
			r.Use(Require(auth.RoleBuyer))
			r.Get("/", h.getCart)
			r.Post("/", h.createCart)
			r.Post("/lines", h.addCartLines)
			r.Patch("/lines/{lineID}", h.setCartLine)
			r.Delete("/lines", h.removeCartLines)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Use(Require(auth.RoleBuyer))
			r.Get("/", h.listContacts)
			r.Post("/", h.createContact)
			r.Delete("/", h.deleteContacts)
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(Require(auth.RoleBuyer)).Get("/", h.listBuyerOrders)
			r.With(Require(auth.RoleBuyer, auth.RoleManager)).Get("/{orderID}", h.getOrder)
			r.With(Require(auth.RoleBuyer)).Post("/{orderID}/confirm", h.confirmOrder)
			r.With(Require(auth.RoleManager)).Post("/{orderID}/state", h.advanceOrder)
		})

		r.Route("/seller", func(r chi.Router) {
			r.Use(Require(auth.RoleSeller))
			r.Get("/orders", h.listSellerOrders)
			r.Get("/status", h.getSellerStatus)
			r.Post("/status", h.setSellerStatus)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Use(Require(auth.RoleManager))
			r.Get("/", h.listCoupons)
			r.Post("/", h.createCoupon)
			r.Put("/{couponID}", h.updateCoupon)
			r.Delete("/", h.deleteCoupons)
		})
	})
}

func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
