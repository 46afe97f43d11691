package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/checkout"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	Redis        RedisConfig
	Notify       NotifyConfig
	Checkout     CheckoutConfig
	Analytics    AnalyticsConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// RedisConfig enables the cart cache, the shared rate limiter and the
// analytics lock. Everything falls back to in-process state without it.
type RedisConfig struct {
	URL     string        `usage:"Redis URL (STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	CartTTL time.Duration `default:"15m" usage:"Cart cache TTL" flag:"cart-ttl"`
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	AMQPURL     string        `usage:"RabbitMQ URL; notifications are only logged when empty (STORE_NOTIFY_AMQPURL or AMQP_URL)" flag:"amqp-url"`
	Queue       string        `default:"storefront.notifications" usage:"Notification queue name"`
	Buffer      int           `default:"256" usage:"Notification queue capacity"`
	Workers     int           `default:"2" usage:"Notification delivery workers"`
	SendTimeout time.Duration `default:"5s" usage:"Timeout for delivering one notification"`
}

// CheckoutConfig controls pricing and fulfilment defaults.
type CheckoutConfig struct {
	FreeShippingOver string `default:"50" usage:"Subtotal above which shipping is free"`
	ShippingFee      string `default:"5.99" usage:"Flat shipping fee"`
	DefaultCarrier   string `default:"Standard Post" usage:"Carrier assigned to shipped orders without one"`
}

// Pricing parses the configured amounts.
func (c CheckoutConfig) Pricing() (checkout.Pricing, error) {
	threshold, err := decimal.NewFromString(c.FreeShippingOver)
	if err != nil {
		return checkout.Pricing{}, errors.Wrap(err, "parse free shipping threshold")
	}
	fee, err := decimal.NewFromString(c.ShippingFee)
	if err != nil {
		return checkout.Pricing{}, errors.Wrap(err, "parse shipping fee")
	}
	if threshold.IsNegative() || fee.IsNegative() {
		return checkout.Pricing{}, errors.New("shipping amounts must not be negative")
	}
	return checkout.Pricing{FreeShippingOver: threshold, ShippingFee: fee}, nil
}

// AnalyticsConfig controls the daily aggregation job.
type AnalyticsConfig struct {
	Schedule string        `default:"5 0 * * *" usage:"Cron schedule (UTC) of the daily aggregation"`
	CatchUp  bool          `default:"true" usage:"Aggregate yesterday on start when its snapshot is missing"`
	LockTTL  time.Duration `default:"10m" usage:"Distributed lock TTL for one aggregation"`
	Timeout  time.Duration `default:"5m" usage:"Timeout of one aggregation"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
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
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set STORE_API_KEY_PEPPER")
	}
	if _, err := c.Checkout.Pricing(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the STORE_-prefixed settings.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Redis.URL, "REDIS_URL")
	fallback(&c.Notify.AMQPURL, "AMQP_URL")

	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
