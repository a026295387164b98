package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/InnokentiyKim/Retail/internal/worker"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the configuration of the API server and the notifier,
// loadable from environment variables (RETAIL_ prefix), flags, or YAML
// config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (RETAIL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (RETAIL_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Cache        CacheConfig
	Relay        worker.Config
	Report       ReportConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// RedisConfig locates the popularity counter and listing cache. Without a
// URL rankings are served from Postgres and listings are not cached.
type RedisConfig struct {
	URL string `usage:"Redis URL (RETAIL_REDIS_URL or REDIS_URL)" flag:"redis-url"`
}

// KafkaConfig locates the notification topic. Without brokers the API
// server delivers notifications to its own log.
type KafkaConfig struct {
	Brokers    []string      `usage:"Kafka bootstrap brokers"`
	Topic      string        `default:"order-lifecycle" usage:"Notification topic"`
	GroupID    string        `default:"retail-notifier" usage:"Notifier consumer group" flag:"kafka-group-id"`
	MaxRetries int           `default:"5" usage:"Publish attempts after the first failure" flag:"kafka-max-retries"`
	MaxBackoff time.Duration `default:"10s" usage:"Maximum delay between retries" flag:"kafka-max-backoff"`
}

// CacheConfig sets listing cache lifetimes. Values are clamped to 20s..600s.
type CacheConfig struct {
	ListingTTL  time.Duration `default:"60s" usage:"Order listing cache TTL" flag:"listing-ttl"`
	ProductsTTL time.Duration `default:"30s" usage:"Product listing cache TTL" flag:"products-ttl"`
}

// ReportConfig controls order report generation.
type ReportConfig struct {
	Dir string `default:"" usage:"Directory for order reports, empty disables them" flag:"report-dir"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "RETAIL",
		Files:     []string{"config.yaml", "/etc/retail/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set RETAIL_DATABASE_URL or DATABASE_URL")
	}
	if c.Kafka.MaxRetries < 0 {
		return errors.Errorf("kafka max retries must not be negative, got %d", c.Kafka.MaxRetries)
	}
	return nil
}

// applyPlatformDefaults maps the standard DATABASE_URL, REDIS_URL and PORT
// variables set by hosting platforms onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
