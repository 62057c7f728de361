package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/deltahedge/engine/pkg/exchange"
)

// Config holds all configuration for the hedging engine.
type Config struct {
	// Exchange connection
	APIKey          string
	APISecret       string
	BaseURL         string
	WebSocketURL    string
	IsTestnet       bool
	APIRateLimitRPS int

	// PortfolioStore (file-based reference implementation)
	PortfoliosDir string

	// Hedging settings from the HEDGING_* variables. Only StopTimeout is read
	// elsewhere (cmd/hedgerd's shutdown budget); none of them is applied to a
	// portfolio's HedgerConfig.
	TargetDelta        float64
	MinTriggerDelta    float64
	StepMode           string // "absolute" or "percentage"
	StepSize           float64
	PriceCheckInterval time.Duration
	MinHedgeUSD        float64
	CooldownMs         time.Duration
	StopTimeout        time.Duration
	MaxConcurrentHedges int

	// PnL publishing
	PnLPublishInterval time.Duration
	PnLRingDepth       int

	// Risk / circuit breaker
	MaxDrawdownPct    float64
	DailyLossLimitPct float64

	// Logging
	LogLevel    string
	LogFilePath string
}

// LoadConfig loads configuration from environment variables, optionally
// seeded from a .env file in the working directory.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:          getEnv("EXCHANGE_KEY", ""),
		APISecret:       getEnv("EXCHANGE_SECRET", ""),
		IsTestnet:       getEnvBool("EXCHANGE_TESTNET", true),
		APIRateLimitRPS: getEnvInt("EXCHANGE_API_RATE_LIMIT_RPS", 8),

		PortfoliosDir: getEnv("PORTFOLIOS_DIR", "./portfolios"),

		TargetDelta:         getEnvFloat("HEDGING_TARGET_DELTA", 0.0),
		MinTriggerDelta:     getEnvFloat("HEDGING_MIN_TRIGGER_DELTA", 0.01),
		StepMode:            getEnv("HEDGING_STEP_MODE", "absolute"),
		StepSize:            getEnvFloat("HEDGING_STEP_SIZE", 0.01),
		PriceCheckInterval:  time.Duration(getEnvInt("HEDGING_PRICE_CHECK_INTERVAL_SECONDS", 30)) * time.Second,
		MinHedgeUSD:         getEnvFloat("HEDGING_MIN_HEDGE_USD", 10.0),
		CooldownMs:          time.Duration(getEnvInt("HEDGING_COOLDOWN_MS", 500)) * time.Millisecond,
		StopTimeout:         time.Duration(getEnvInt("HEDGING_STOP_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxConcurrentHedges: getEnvInt("HEDGING_MAX_CONCURRENT_HEDGES", 1),

		PnLPublishInterval: time.Duration(getEnvInt("HEDGING_PNL_PUBLISH_INTERVAL_SECONDS", 1)) * time.Second,
		PnLRingDepth:       getEnvInt("HEDGING_PNL_RING_DEPTH", 1024),

		MaxDrawdownPct:    getEnvFloat("MAX_DRAWDOWN_PCT", 10.0),
		DailyLossLimitPct: getEnvFloat("DAILY_LOSS_LIMIT_PCT", -5.0),

		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		LogFilePath: getEnv("LOG_FILE_PATH", ""),
	}

	// Set URLs based on testnet flag, overridable for non-standard deployments.
	// Per Delta docs: https://docs.delta.exchange/
	if cfg.IsTestnet {
		cfg.BaseURL = getEnv("EXCHANGE_BASE_URL", "https://cdn-ind.testnet.deltaex.org/v2")
		cfg.WebSocketURL = getEnv("EXCHANGE_WEBSOCKET_URL", "wss://socket-ind.testnet.deltaex.org")
	} else {
		cfg.BaseURL = getEnv("EXCHANGE_BASE_URL", "https://api.india.delta.exchange/v2")
		cfg.WebSocketURL = getEnv("EXCHANGE_WEBSOCKET_URL", "wss://socket.india.delta.exchange")
	}

	return cfg
}

// Validate checks that the minimal fields required to run the engine are
// present, returning an *exchange.ConfigError (exit code 64) on failure.
func (c *Config) Validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return &exchange.ConfigError{Field: "exchange.key/exchange.secret", Reason: "EXCHANGE_KEY and EXCHANGE_SECRET are required"}
	}
	if c.StepMode != "absolute" && c.StepMode != "percentage" {
		return &exchange.ConfigError{Field: "hedging.step_mode", Reason: "must be 'absolute' or 'percentage'"}
	}
	if c.PortfoliosDir == "" {
		return &exchange.ConfigError{Field: "portfolios_dir", Reason: "must not be empty"}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
