// Package config loads the process-wide configuration surface described
// in spec.md §6. Configuration is read once at startup and treated as
// immutable thereafter — changes require a restart (spec.md §5).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment-driven configuration surface.
type Config struct {
	// Bitcoin node RPC
	BTCRPCHost string `envconfig:"BTC_RPC_HOST" default:"localhost:8332"`
	BTCRPCUser string `envconfig:"BTC_RPC_USER"`
	BTCRPCPass string `envconfig:"BTC_RPC_PASS"`
	BTCCookieFile string `envconfig:"BTC_RPC_COOKIE_FILE"`
	BTCConfFile   string `envconfig:"BTC_CONF_FILE"`

	// Fee-market feed
	FeeMarketBaseURL string `envconfig:"FEE_MARKET_BASE_URL" default:"https://mempool.space/api"`

	// Whale classifier
	WhaleThresholdBTC float64 `envconfig:"WHALE_THRESHOLD_BTC" default:"100.0"`
	WhaleDBPath       string  `envconfig:"WHALE_DB_PATH" default:"./data/exchange_addresses.json"`

	// Price aggregator
	PriceTickIntervalMS int     `envconfig:"PRICE_TICK_INTERVAL_MS" default:"500"`
	RollingWindowHours  float64 `envconfig:"ROLLING_WINDOW_HOURS" default:"3"`
	MinSamples          int     `envconfig:"MIN_SAMPLES" default:"1000"`
	MinEmitConfidence   float64 `envconfig:"MIN_EMIT_CONFIDENCE" default:"0.6"`
	EmitDeltaRel        float64 `envconfig:"EMIT_DELTA_REL" default:"0.002"`
	MaxStepRel          float64 `envconfig:"MAX_STEP_REL" default:"0.05"`
	MaxSearchIterations int     `envconfig:"MAX_SEARCH_ITERATIONS" default:"6"`

	// Signal broadcaster
	AuthEnabled   bool   `envconfig:"AUTH_ENABLED" default:"true"`
	AuthSecretKey string `envconfig:"AUTH_SECRET_KEY"`
	WSHost        string `envconfig:"WS_HOST" default:"0.0.0.0"`
	WSPort        int    `envconfig:"WS_PORT" default:"8765"`
	HTTPPort      int    `envconfig:"HTTP_PORT" default:"8001"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS"`

	// Correlation tracker
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	RetentionDays  int    `envconfig:"RETENTION_DAYS" default:"90"`
	AccuracyWarn   float64 `envconfig:"ACCURACY_WARN" default:"0.75"`
	AccuracyCrit   float64 `envconfig:"ACCURACY_CRIT" default:"0.70"`
	DropTimeoutMin int     `envconfig:"DROP_TIMEOUT_MINUTES" default:"120"`

	// Memory watchdog
	SoftMemLimitMB int `envconfig:"SOFT_MEM_LIMIT_MB" default:"400"`
	HardMemLimitMB int `envconfig:"HARD_MEM_LIMIT_MB" default:"800"`

	// Observability
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// PriceTickInterval is the parsed form of PriceTickIntervalMS.
func (c *Config) PriceTickInterval() time.Duration {
	return time.Duration(c.PriceTickIntervalMS) * time.Millisecond
}

// RollingWindow is the parsed form of RollingWindowHours.
func (c *Config) RollingWindow() time.Duration {
	return time.Duration(c.RollingWindowHours * float64(time.Hour))
}

// DropTimeout is the parsed form of DropTimeoutMin.
func (c *Config) DropTimeout() time.Duration {
	return time.Duration(c.DropTimeoutMin) * time.Minute
}

// Load reads a .env file if present (without overriding real environment
// variables) and then processes the environment into a Config.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that are cheap to catch at startup rather
// than surfacing as confusing runtime failures.
func (c *Config) Validate() error {
	if c.WhaleThresholdBTC <= 0 {
		return fmt.Errorf("%w: WHALE_THRESHOLD_BTC must be positive, got %v", errConfigInvalid, c.WhaleThresholdBTC)
	}
	if c.PriceTickIntervalMS <= 0 {
		return fmt.Errorf("%w: PRICE_TICK_INTERVAL_MS must be positive, got %d", errConfigInvalid, c.PriceTickIntervalMS)
	}
	if c.MinSamples <= 0 {
		return fmt.Errorf("%w: MIN_SAMPLES must be positive, got %d", errConfigInvalid, c.MinSamples)
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("%w: WS_PORT out of range: %d", errConfigInvalid, c.WSPort)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%w: HTTP_PORT out of range: %d", errConfigInvalid, c.HTTPPort)
	}
	if c.AuthEnabled && c.AuthSecretKey == "" {
		return fmt.Errorf("%w: AUTH_SECRET_KEY is required when AUTH_ENABLED=true", errConfigInvalid)
	}
	return nil
}
