package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TxRunner runs fn in a database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deduplicator claims a notification. Claim reports false when the order
// and state were already delivered.
type Deduplicator interface {
	Claim(ctx context.Context, n event.Notification) (bool, error)
}

// NewKafkaReader returns a consumer-group reader of topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer delivers each (order, state) notification at most once per
// successful transaction, skipping duplicates produced by at-least-once
// publishing.
type Consumer struct {
	r          Reader
	tx         TxRunner
	dedup      Deduplicator
	sender     event.NotificationDispatcher
	maxBackoff time.Duration
}

// NewConsumer creates a Consumer.
func NewConsumer(r Reader, tx TxRunner, dedup Deduplicator, sender event.NotificationDispatcher, maxBackoff time.Duration) *Consumer {
	return &Consumer{r: r, tx: tx, dedup: dedup, sender: sender, maxBackoff: maxBackoff}
}

// Run consumes until ctx is canceled. Messages are committed after they are
// handled; malformed messages are logged and committed.
func (c *Consumer) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.Error("Dropping notification", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	if c.maxBackoff > 0 {
		b.MaxInterval = c.maxBackoff
	}
	return backoff.RetryNotify(func() error {
		return c.Handle(ctx, msg)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		zctx.From(ctx).Warn("Notification delivery failed, retrying",
			zap.Duration("backoff", next), zap.Error(err))
	})
}

// Handle delivers one message. Decoding errors are permanent.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	carrier := propagation.MapCarrier{}
	for _, h := range msg.Headers {
		carrier[h.Key] = string(h.Value)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	n, err := Decode(msg.Value)
	if err != nil {
		return backoff.Permanent(err)
	}

	return c.tx.InTx(ctx, func(ctx context.Context) error {
		first, err := c.dedup.Claim(ctx, n)
		if err != nil {
			return errors.Wrap(err, "claim notification")
		}
		if !first {
			zctx.From(ctx).Debug("Skipping duplicate notification",
				zap.Int64("order_id", n.OrderID), zap.String("state", n.State))
			return nil
		}
		return c.sender.Notify(ctx, n)
	})
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.r.Close()
}
