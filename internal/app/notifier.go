package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/notify"
	"github.com/InnokentiyKim/Retail/internal/storage/postgres"
)

// RunNotifier consumes order notifications from Kafka and delivers each
// (order, state) pair once until ctx is canceled.
func RunNotifier(ctx context.Context, lg *zap.Logger, _ Telemetry, cfg *Config) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required: set RETAIL_KAFKA_BROKERS")
	}
	lg.Info("Initializing notifier",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	consumer := notify.NewConsumer(
		notify.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
		postgres.NewTxManager(pool),
		postgres.NewNotificationLog(pool),
		notify.LogDispatcher{},
		cfg.Kafka.MaxBackoff,
	)
	defer func() {
		if err := consumer.Close(); err != nil {
			lg.Warn("Close kafka reader", zap.Error(err))
		}
	}()

	if err := consumer.Run(ctx); err != nil {
		return errors.Wrap(err, "consume")
	}
	lg.Info("Notifier stopped")
	return nil
}
