package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
)

// Writer is the part of *kafka.Writer the dispatcher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ event.NotificationDispatcher = (*KafkaDispatcher)(nil)

// KafkaDispatcher publishes notifications to a topic keyed by order id.
type KafkaDispatcher struct {
	w          Writer
	maxRetries uint64
	maxBackoff time.Duration
}

// NewKafkaWriter returns a writer for topic on brokers that hashes keys to
// partitions.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaDispatcher wraps w. A failed write is retried up to maxRetries
// times with exponential backoff capped at maxBackoff.
func NewKafkaDispatcher(w Writer, maxRetries int, maxBackoff time.Duration) *KafkaDispatcher {
	return &KafkaDispatcher{w: w, maxRetries: uint64(max(maxRetries, 0)), maxBackoff: maxBackoff}
}

// Notify publishes n with the current trace context in its headers.
func (d *KafkaDispatcher) Notify(ctx context.Context, n event.Notification) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafka.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg := kafka.Message{
		Key:     Key(n),
		Value:   Encode(n),
		Headers: headers,
		Time:    n.SentAt,
	}

	b := backoff.NewExponentialBackOff()
	if d.maxBackoff > 0 {
		b.MaxInterval = d.maxBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.maxRetries), ctx)
	if err := backoff.Retry(func() error {
		return d.w.WriteMessages(ctx, msg)
	}, policy); err != nil {
		return errors.Wrap(err, "write notification")
	}
	return nil
}

// Close flushes and closes the writer.
func (d *KafkaDispatcher) Close() error {
	return d.w.Close()
}
