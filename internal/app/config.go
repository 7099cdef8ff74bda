package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/outbox"
	"github.com/xenking/promo-engine/pkg/health"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Engine      EngineConfig
	Outbox      OutboxConfig
	Health      HealthConfig
	RateLimit   httpmiddleware.RateLimitConfig
	CORS        httpmiddleware.CORSConfig
	Graceful    GracefulConfig
}

// EngineConfig tunes the promotion service.
type EngineConfig struct {
	MaxCommitAttempts int `default:"5" usage:"Apply attempts before a usage-limit race is reported" flag:"max-commit-attempts"`
}

// OutboxConfig controls publishing of promotion events to Kafka.
type OutboxConfig struct {
	Enabled bool `default:"false" usage:"Relay outbox events to Kafka" flag:"outbox-enabled"`
	Kafka   outbox.Config
}

// HealthConfig controls background health probing.
type HealthConfig struct {
	Interval   time.Duration `default:"10s" usage:"Interval between health probes"`
	Thresholds health.Thresholds
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
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
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
		return errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}
	if c.Outbox.Enabled && len(c.Outbox.Kafka.Brokers) == 0 {
		return errors.New("outbox is enabled but no Kafka brokers are configured")
	}
	if c.Engine.MaxCommitAttempts < 1 {
		return errors.Errorf("max commit attempts must be positive, got %d", c.Engine.MaxCommitAttempts)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
