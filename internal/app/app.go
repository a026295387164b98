// Package app wires the retail processes together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/InnokentiyKim/Retail/internal/domain/cart"
	"github.com/InnokentiyKim/Retail/internal/domain/contact"
	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/domain/event"
	"github.com/InnokentiyKim/Retail/internal/domain/order"
	"github.com/InnokentiyKim/Retail/internal/domain/product"
	"github.com/InnokentiyKim/Retail/internal/domain/ranking"
	"github.com/InnokentiyKim/Retail/internal/domain/shop"
	"github.com/InnokentiyKim/Retail/internal/handler"
	"github.com/InnokentiyKim/Retail/internal/notify"
	"github.com/InnokentiyKim/Retail/internal/report"
	"github.com/InnokentiyKim/Retail/internal/storage/postgres"
	"github.com/InnokentiyKim/Retail/internal/storage/redis"
	"github.com/InnokentiyKim/Retail/internal/worker"
	"github.com/InnokentiyKim/Retail/pkg/health"
	"github.com/InnokentiyKim/Retail/pkg/httpmiddleware"
)

// Telemetry supplies tracer and meter providers. *app.Telemetry of the
// go-faster sdk implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point of the API
// server.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var rdb *goredis.Client
	if cfg.Redis.URL != "" {
		if rdb, err = redis.NewClient(ctx, cfg.Redis.URL); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
	} else {
		lg.Warn("Redis is not configured, rankings are read from Postgres and listings are not cached")
	}

	healthSvc := newHealth(pool, rdb)
	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	tx := postgres.NewTxManager(pool)
	productRepo := postgres.NewProductRepository(pool)
	outbox := postgres.NewOutboxRepository(pool)

	// Popularity: Redis sorted set backed by Postgres, or Postgres alone.
	popularity := postgres.NewPopularityRepository(pool)
	ranker := ranking.NewService(popularity, nil)
	var (
		orderCache    order.ListCache
		productsCache product.Cache
		shopsCache    shop.Invalidator
	)
	if rdb != nil {
		ranker = ranking.NewService(redis.NewCounter(rdb), popularity)
		orderCache = redis.NewCache(rdb, cfg.Cache.ListingTTL)
		listings := redis.NewCache(rdb, cfg.Cache.ProductsTTL)
		productsCache, shopsCache = listings, listings
		if err := ranker.Warm(ctx); err != nil {
			lg.Warn("Popularity counter warmup failed", zap.Error(err))
		}
	}

	contacts := contact.NewService(postgres.NewContactRepository(pool))
	couponRepo := postgres.NewCouponRepository(pool)
	orders, err := order.NewService(order.Deps{
		Tx:       tx,
		Orders:   postgres.NewOrderRepository(pool),
		Ledger:   postgres.NewLedger(pool),
		Coupons:  coupon.NewRepoValidator(couponRepo),
		Contacts: contacts,
		Events:   outbox,
		Cache:    orderCache,
	},
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	notifier, closeNotifier := newDispatcher(lg, cfg.Kafka)
	defer closeNotifier()
	relay, err := worker.NewRelay(cfg.Relay, tx, outbox, ranker,
		report.NewCSVGenerator(cfg.Report.Dir, orders),
		notifier,
		worker.WithRelayMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create relay")
	}

	h := handler.NewHandler(
		handler.Config{DefaultTop: 10, MaxTop: 100, RequestTimeout: 10 * time.Second},
		cart.NewManager(tx, postgres.NewCartRepository(pool), productRepo),
		orders,
		coupon.NewService(couponRepo),
		contacts,
		product.NewService(productRepo, productsCache, ranker),
		shop.NewService(postgres.NewShopRepository(pool), shopsCache),
	)
	security := handler.NewSecurityHandler(postgres.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Route("/api", func(r chi.Router) {
		h.Routes(r, security)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.APIKeyOrIP(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("retail-api", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	// The relay keeps draining while the server shuts down.
	relayCtx, stopRelay := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRelay()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(relayCtx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		defer stopRelay()

		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

func newHealth(pool *pgxpool.Pool, rdb *goredis.Client) *health.Health {
	h := health.New()
	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	if rdb != nil {
		h.Add(health.Check{
			Name:             "redis",
			Kind:             health.Readiness,
			Timeout:          2 * time.Second,
			FailureThreshold: 5,
			Func: health.PingCheck("redis", health.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			})),
		})
	}
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	return h
}

// newDispatcher returns the Kafka publisher when brokers are configured and
// the log dispatcher otherwise.
func newDispatcher(lg *zap.Logger, cfg KafkaConfig) (event.NotificationDispatcher, func()) {
	if len(cfg.Brokers) == 0 {
		lg.Info("Kafka is not configured, notifications go to the log")
		return notify.LogDispatcher{}, func() {}
	}
	d := notify.NewKafkaDispatcher(notify.NewKafkaWriter(cfg.Brokers, cfg.Topic), cfg.MaxRetries, cfg.MaxBackoff)
	return d, func() {
		if err := d.Close(); err != nil {
			lg.Warn("Close kafka writer", zap.Error(err))
		}
	}
}
