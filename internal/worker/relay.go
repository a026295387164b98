// Package worker runs the outbox relay that hands committed order events to
// the ranking, report and notification collaborators.
package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
)

// Outbox is the relay's view of stored events. ClaimNext locks the row for
// the transaction carried by ctx.
type Outbox interface {
	ClaimNext(ctx context.Context, maxAttempts int) (event.Pending, bool, error)
	MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// TxRunner runs fn in a database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SalesRecorder counts sold products.
type SalesRecorder interface {
	Record(ctx context.Context, productIDs []int64) error
}

// Config tunes the relay.
type Config struct {
	Interval    time.Duration `default:"1s" usage:"Outbox poll interval"`
	BatchSize   int           `default:"100" usage:"Events handled per poll"`
	MaxAttempts int           `default:"10" usage:"Attempts before an event is parked"`
	MaxBackoff  time.Duration `default:"30s" usage:"Maximum delay after failed polls"`
}

// Relay drains the outbox. Each event is claimed, counted in the durable
// popularity and marked processed in one transaction; the report and the
// notification follow once that transaction commits.
type Relay struct {
	cfg      Config
	tx       TxRunner
	outbox   Outbox
	sales    SalesRecorder
	reports  event.ReportGenerator
	notifier event.NotificationDispatcher
	now      func() time.Time

	handled metric.Int64Counter
}

type relayOptions struct {
	meterProvider metric.MeterProvider
	now           func() time.Time
}

// RelayOption configures a Relay.
type RelayOption func(*relayOptions)

// WithRelayMeterProvider sets the meter provider used for counters.
func WithRelayMeterProvider(mp metric.MeterProvider) RelayOption {
	return func(o *relayOptions) { o.meterProvider = mp }
}

// WithRelayClock overrides the time source.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(o *relayOptions) { o.now = now }
}

// NewRelay creates a Relay.
func NewRelay(cfg Config, tx TxRunner, outbox Outbox, sales SalesRecorder, reports event.ReportGenerator, notifier event.NotificationDispatcher, opts ...RelayOption) (*Relay, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	o := relayOptions{
		meterProvider: metricnoop.NewMeterProvider(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Relay{
		cfg:      cfg,
		tx:       tx,
		outbox:   outbox,
		sales:    sales,
		reports:  reports,
		notifier: notifier,
		now:      o.now,
	}
	var err error
	if r.handled, err = o.meterProvider.Meter("github.com/InnokentiyKim/Retail/internal/worker").
		Int64Counter("retail.outbox.events", metric.WithDescription("Outbox events by outcome")); err != nil {
		return nil, errors.Wrap(err, "events counter")
	}
	return r, nil
}

// Run polls until ctx is canceled. Failed polls back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Interval
	if r.cfg.MaxBackoff > 0 {
		b.MaxInterval = r.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0

	delay := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		n, err := r.Drain(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			delay = b.NextBackOff()
			lg.Warn("Outbox poll failed", zap.Duration("retry_in", delay), zap.Error(err))
		case n == r.cfg.BatchSize:
			b.Reset()
			delay = 0
		default:
			b.Reset()
			delay = r.cfg.Interval
		}
	}
}

// Drain handles up to BatchSize events and returns how many were claimed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	for i := range r.cfg.BatchSize {
		claimed, err := r.next(ctx)
		if err != nil {
			return i, err
		}
		if !claimed {
			return i, nil
		}
	}
	return r.cfg.BatchSize, nil
}

func (r *Relay) next(ctx context.Context) (bool, error) {
	var claimed *event.Pending
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		p, ok, err := r.outbox.ClaimNext(ctx, r.cfg.MaxAttempts)
		if err != nil || !ok {
			return err
		}
		claimed = &p
		if err := r.record(ctx, p.Lifecycle); err != nil {
			return err
		}
		return r.outbox.MarkDone(ctx, p.ID, r.now())
	})
	if claimed == nil {
		return false, err
	}
	if err != nil {
		r.handled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		zctx.From(ctx).Warn("Order event failed",
			zap.Stringer("event_id", claimed.ID),
			zap.Int64("order_id", claimed.OrderID),
			zap.Int("attempts", claimed.Attempts+1),
			zap.Error(err),
		)
		if err := r.outbox.MarkFailed(ctx, claimed.ID, err.Error()); err != nil {
			return true, errors.Wrap(err, "mark failed")
		}
		return true, nil
	}

	r.handled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "done")))
	r.deliver(ctx, claimed.Lifecycle)
	return true, nil
}

// record counts the products of a placed order. Its failure fails the event
// so the durable increment is retried with it.
func (r *Relay) record(ctx context.Context, e event.Lifecycle) error {
	if e.State != string(order.Created) || r.sales == nil {
		return nil
	}
	if err := r.sales.Record(ctx, e.ProductIDs); err != nil {
		return errors.Wrap(err, "record sales")
	}
	return nil
}

// deliver writes the report of a placed order and notifies the buyer. It
// runs outside the outbox transaction; failures are logged only.
func (r *Relay) deliver(ctx context.Context, e event.Lifecycle) {
	lg := zctx.From(ctx).With(zap.Int64("order_id", e.OrderID), zap.String("state", e.State))

	var artifact string
	if e.State == string(order.Created) && r.reports != nil {
		ref, err := r.reports.Generate(ctx, e.OrderID)
		if err != nil {
			lg.Warn("Report generation failed", zap.Error(err))
		}
		artifact = ref
	}

	if r.notifier == nil {
		return
	}
	n := event.Notification{
		EventID:  e.ID,
		UserID:   e.UserID,
		OrderID:  e.OrderID,
		State:    e.State,
		Artifact: artifact,
		SentAt:   r.now(),
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		lg.Warn("Notification dispatch failed", zap.Error(err))
	}
}
