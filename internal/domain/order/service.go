package order

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/contact"
	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/domain/event"
	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/inventory"
	"github.com/InnokentiyKim/Retail/internal/domain/pricing"
)

const instrumentationName = "github.com/InnokentiyKim/Retail/internal/domain/order"

// ContactProvider resolves a user's delivery contact.
type ContactProvider interface {
	GetContact(ctx context.Context, userID, contactID int64) (*contact.Contact, error)
}

// BuyerOrdersKey is the listing cache key of a buyer's orders.
func BuyerOrdersKey(userID int64) string {
	return fmt.Sprintf("buyerOrders:%d", userID)
}

// SellerOrdersKey is the listing cache key of a seller's orders.
func SellerOrdersKey(userID int64) string {
	return fmt.Sprintf("sellerOrders:%d", userID)
}

// ConfirmRequest holds the input of a cart confirmation.
type ConfirmRequest struct {
	OrderID    int64
	UserID     int64
	ContactID  int64
	CouponCode string
}

// Deps are the collaborators of the order Service.
type Deps struct {
	Tx       TxRunner
	Orders   Repository
	Ledger   inventory.Ledger
	Coupons  coupon.Validator
	Contacts ContactProvider
	Events   event.Recorder
	// Cache is optional.
	Cache ListCache
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Service is the order state machine. Confirm and Advance run their checks,
// stock movements, state write and event append in one transaction.
type Service struct {
	deps Deps

	now    func() time.Time
	tracer trace.Tracer

	confirmed   metric.Int64Counter
	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	s := &Service{
		deps:   deps,
		now:    o.now,
		tracer: o.tracerProvider.Tracer(instrumentationName),
	}

	var err error
	if s.confirmed, err = meter.Int64Counter("retail.orders.confirmed",
		metric.WithDescription("Orders placed from a cart")); err != nil {
		return nil, errors.Wrap(err, "confirmed counter")
	}
	if s.transitions, err = meter.Int64Counter("retail.orders.transitions",
		metric.WithDescription("Committed order state transitions")); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	if s.conflicts, err = meter.Int64Counter("retail.inventory.conflicts",
		metric.WithDescription("Confirmations rejected for insufficient stock")); err != nil {
		return nil, errors.Wrap(err, "conflicts counter")
	}
	return s, nil
}

// Confirm turns the user's cart into a placed order. The contact and coupon
// are checked and stock of every line is committed in the same transaction
// that locks the order; on any failure nothing changes and the order stays
// PREPARING.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Order, error) {
	const op = "confirm order"

	ctx, span := s.tracer.Start(ctx, "order.Confirm", trace.WithAttributes(
		attribute.Int64("order.id", req.OrderID),
		attribute.Int64("user.id", req.UserID),
	))
	defer span.End()

	at := s.now()

	var placed *Order
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.deps.Orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != req.UserID {
			return fault.NotFoundf(op, "order %d not found", req.OrderID)
		}
		if o.State != Preparing {
			return fault.Statef(op, "order %d is %s, not %s", o.ID, o.State, Preparing)
		}

		if _, err := s.deps.Contacts.GetContact(ctx, req.UserID, req.ContactID); err != nil {
			return errors.Wrap(err, "resolve contact")
		}
		var c *coupon.Coupon
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			if c, err = s.deps.Coupons.Validate(ctx, code, at); err != nil {
				return errors.Wrap(err, "validate coupon")
			}
		}

		lines, err := s.deps.Orders.Lines(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "load lines")
		}
		if len(lines) == 0 {
			return fault.Validationf(op, "order %d has no lines", o.ID)
		}

		if err := s.deps.Ledger.Commit(ctx, inventory.Normalize(Movements(lines))); err != nil {
			return errors.Wrap(err, "commit stock")
		}

		q := pricing.Compute(PricedLines(lines), c, at)
		o.State = Created
		o.ContactID = &req.ContactID
		o.Total = q.Total
		o.UpdatedAt = at
		o.Lines = lines
		if c != nil {
			o.CouponID = &c.ID
			o.CouponCode = c.Code
		}
		if err := s.deps.Orders.Place(ctx, o); err != nil {
			return errors.Wrap(err, "place order")
		}

		e := event.New(o.ID, o.UserID, string(Preparing), string(Created), ProductIDs(lines), at)
		if err := s.deps.Events.Append(ctx, e); err != nil {
			return errors.Wrap(err, "append event")
		}
		placed = o
		return nil
	})
	if err != nil {
		if errors.Is(err, fault.ErrConflict) {
			s.conflicts.Add(ctx, 1)
		}
		return nil, fail(span, err)
	}

	s.confirmed.Add(ctx, 1)
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(Created))))
	s.invalidate(ctx, BuyerOrdersKey(placed.UserID))

	zctx.From(ctx).Info("Order confirmed",
		zap.Int64("order_id", placed.ID),
		zap.Int64("user_id", placed.UserID),
		zap.String("total", placed.Total.StringFixed(pricing.Places)),
		zap.String("coupon", placed.CouponCode),
	)
	return placed, nil
}

// Advance moves an order along a manager-driven edge. Canceling an order
// that holds committed stock restores it in the same transaction; the row
// lock guarantees the restore runs at most once.
func (s *Service) Advance(ctx context.Context, orderID int64, to State) (*Order, error) {
	const op = "advance order"

	ctx, span := s.tracer.Start(ctx, "order.Advance", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.state", string(to)),
	))
	defer span.End()

	if !slices.Contains(States, to) {
		return nil, fail(span, fault.Validationf(op, "unknown state %q", to))
	}

	at := s.now()

	var (
		updated *Order
		from    State
	)
	err := s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.deps.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.State
		if to == Created && from == Preparing {
			return fault.Statef(op, "order %d must be confirmed by its owner", o.ID)
		}
		if !CanTransition(from, to) {
			return fault.Statef(op, "cannot move order %d from %s to %s", o.ID, from, to)
		}

		if to == Canceled && from.StockCommitted() {
			lines, err := s.deps.Orders.Lines(ctx, o.ID)
			if err != nil {
				return errors.Wrap(err, "load lines")
			}
			if err := s.deps.Ledger.Restore(ctx, inventory.Normalize(Movements(lines))); err != nil {
				return errors.Wrap(err, "restore stock")
			}
		}

		if err := s.deps.Orders.SetState(ctx, o.ID, to); err != nil {
			return errors.Wrap(err, "set state")
		}
		if err := s.deps.Events.Append(ctx, event.New(o.ID, o.UserID, string(from), string(to), nil, at)); err != nil {
			return errors.Wrap(err, "append event")
		}

		o.State = to
		o.UpdatedAt = at
		updated = o
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(to))))
	s.invalidate(ctx, BuyerOrdersKey(updated.UserID))

	zctx.From(ctx).Info("Order state changed",
		zap.Int64("order_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, orderID int64) (*Order, error) {
	o, err := s.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Lines, err = s.deps.Orders.Lines(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("load lines: %w", err)
	}
	return o, nil
}

// GetOwned is Get restricted to orders of userID.
func (s *Service) GetOwned(ctx context.Context, userID, orderID int64) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, fault.NotFoundf("get order", "order %d not found", orderID)
	}
	return o, nil
}

// ListBuyerOrders returns the placed orders of a buyer, newest first.
func (s *Service) ListBuyerOrders(ctx context.Context, userID int64) ([]Order, error) {
	return s.cached(ctx, BuyerOrdersKey(userID), func(ctx context.Context) ([]Order, error) {
		return s.deps.Orders.ListByBuyer(ctx, userID)
	})
}

// ListSellerOrders returns the placed orders that contain stock units of the
// seller's shops, newest first.
func (s *Service) ListSellerOrders(ctx context.Context, sellerID int64) ([]Order, error) {
	return s.cached(ctx, SellerOrdersKey(sellerID), func(ctx context.Context) ([]Order, error) {
		return s.deps.Orders.ListBySeller(ctx, sellerID)
	})
}

func (s *Service) cached(ctx context.Context, key string, load func(ctx context.Context) ([]Order, error)) ([]Order, error) {
	if s.deps.Cache == nil {
		return load(ctx)
	}
	var out []Order
	err := s.deps.Cache.Load(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx, keys...); err != nil {
		zctx.From(ctx).Warn("Listing cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
