package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacy-api/internal/domain/order"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (PHARMACY_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PHARMACY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SeedFile     string `default:"db/seed/products.json" usage:"Seed file loaded in memory storage mode" flag:"seed-file"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PHARMACY_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Pricing      PricingConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig selects the cart store. An empty URL keeps carts in process
// memory.
type RedisConfig struct {
	URL     string        `usage:"Redis URL for cart storage, e.g. redis://localhost:6379/0"`
	CartTTL time.Duration `default:"168h" usage:"Idle cart lifetime" flag:"cart-ttl"`
}

// PricingConfig holds checkout tax and shipping. Amounts are decimal strings.
type PricingConfig struct {
	TaxRate               string `default:"0.10"  usage:"Tax rate as a fraction of the subtotal" flag:"tax-rate"`
	ShippingFee           string `default:"5.99"  usage:"Flat shipping fee" flag:"shipping-fee"`
	FreeShippingThreshold string `default:"50.00" usage:"Subtotal that waives shipping, 0 disables" flag:"free-shipping-threshold"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PHARMACY",
		Files:     []string{"config.yaml", "/etc/pharmacy/config.yaml"},
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
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set PHARMACY_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
		if c.SeedFile == "" {
			return errors.New("seed file is required for memory storage")
		}
	default:
		return errors.Errorf("unknown storage %q: want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}
	if _, err := c.Pricing.Policy(); err != nil {
		return err
	}
	if c.RateLimit.Max < 1 {
		return errors.Errorf("rate limit max must be positive, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return errors.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PHARMACY_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.URL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// Policy parses the configured amounts.
func (p PricingConfig) Policy() (order.Pricing, error) {
	var (
		out order.Pricing
		err error
	)
	if out.TaxRate, err = decimal.NewFromString(p.TaxRate); err != nil {
		return out, errors.Wrap(err, "pricing tax rate")
	}
	if out.ShippingFee, err = decimal.NewFromString(p.ShippingFee); err != nil {
		return out, errors.Wrap(err, "pricing shipping fee")
	}
	if out.FreeShippingThreshold, err = decimal.NewFromString(p.FreeShippingThreshold); err != nil {
		return out, errors.Wrap(err, "pricing free shipping threshold")
	}
	if out.TaxRate.IsNegative() || out.ShippingFee.IsNegative() || out.FreeShippingThreshold.IsNegative() {
		return out, errors.New("pricing amounts must not be negative")
	}
	return out, nil
}
