package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoAutoPilot/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Symbols to trade
	Symbols []string

	// Engine cycles
	SlowCycleInterval time.Duration
	FastCycleInterval time.Duration
	HealthInterval    time.Duration
	SignalTimeout     time.Duration

	// Position defaults
	MaxHoldingHours       float64
	DefaultLeverage       float64
	DefaultStopLossPct    float64
	DefaultTakeProfitPct  float64
	TieredTrailingEnabled bool

	// Risk gate
	DrawdownWarnPct    float64
	DrawdownStopPct    float64
	MaxDailyLossPct    float64
	MaxDailyTrades     int
	MinConfidence      float64
	MinPositionSizePct float64
	MaxPositionSizePct float64

	// Error recovery
	MaxConsecutiveErrors int
	ErrorCooldown        time.Duration

	// Account
	InitialCapital float64

	// Signal drop directory
	SignalDir    string
	SignalMaxAge time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "std" or "zap"

	// Metrics
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Symbols
	symbolsStr := getEnv("SYMBOLS", "BTCUSDT")
	for _, s := range strings.Split(symbolsStr, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one symbol")
	}

	// Engine cycles
	cfg.SlowCycleInterval = time.Duration(getEnvAsInt("SLOW_CYCLE_INTERVAL_SEC", 300)) * time.Second
	cfg.FastCycleInterval = time.Duration(getEnvAsInt("FAST_CYCLE_INTERVAL_SEC", 3)) * time.Second
	cfg.HealthInterval = time.Duration(getEnvAsInt("HEALTH_INTERVAL_SEC", 60)) * time.Second
	cfg.SignalTimeout = time.Duration(getEnvAsInt("SIGNAL_TIMEOUT_SEC", 10)) * time.Second
	if cfg.SlowCycleInterval <= 0 || cfg.FastCycleInterval <= 0 || cfg.HealthInterval <= 0 || cfg.SignalTimeout <= 0 {
		errs = append(errs, "cycle intervals and SIGNAL_TIMEOUT_SEC must be positive")
	}

	// Position defaults
	cfg.MaxHoldingHours, err = getEnvAsFloatRequired("MAX_HOLDING_HOURS", 36)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_HOLDING_HOURS: %v", err))
	} else if cfg.MaxHoldingHours <= 0 {
		errs = append(errs, "MAX_HOLDING_HOURS must be positive")
	}

	cfg.DefaultLeverage, err = getEnvAsFloatRequired("DEFAULT_LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_LEVERAGE: %v", err))
	} else if cfg.DefaultLeverage < 1 {
		errs = append(errs, "DEFAULT_LEVERAGE must be at least 1")
	}

	cfg.DefaultStopLossPct, err = getEnvAsFloatRequired("DEFAULT_STOP_LOSS_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_STOP_LOSS_PCT: %v", err))
	} else if cfg.DefaultStopLossPct <= 0 || cfg.DefaultStopLossPct >= 1 {
		errs = append(errs, "DEFAULT_STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.DefaultTakeProfitPct, err = getEnvAsFloatRequired("DEFAULT_TAKE_PROFIT_PCT", 0.04)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_TAKE_PROFIT_PCT: %v", err))
	} else if cfg.DefaultTakeProfitPct <= 0 {
		errs = append(errs, "DEFAULT_TAKE_PROFIT_PCT must be positive")
	}

	cfg.TieredTrailingEnabled = getEnvAsBool("TIERED_TRAILING_ENABLED", true)

	// Risk gate
	cfg.DrawdownWarnPct, err = getEnvAsFloatRequired("DRAWDOWN_WARN_PCT", 0.15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DRAWDOWN_WARN_PCT: %v", err))
	}
	cfg.DrawdownStopPct, err = getEnvAsFloatRequired("DRAWDOWN_STOP_PCT", 0.20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DRAWDOWN_STOP_PCT: %v", err))
	}
	if cfg.DrawdownWarnPct <= 0 || cfg.DrawdownStopPct <= cfg.DrawdownWarnPct {
		errs = append(errs, "DRAWDOWN_WARN_PCT must be positive and below DRAWDOWN_STOP_PCT")
	}

	cfg.MaxDailyLossPct, err = getEnvAsFloatRequired("MAX_DAILY_LOSS_PCT", 0.05)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS_PCT: %v", err))
	} else if cfg.MaxDailyLossPct <= 0 || cfg.MaxDailyLossPct >= 1 {
		errs = append(errs, "MAX_DAILY_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", 20)
	if cfg.MaxDailyTrades <= 0 {
		errs = append(errs, "MAX_DAILY_TRADES must be positive")
	}

	cfg.MinConfidence, err = getEnvAsFloatRequired("MIN_CONFIDENCE", 0.65)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_CONFIDENCE: %v", err))
	} else if cfg.MinConfidence <= 0 || cfg.MinConfidence >= 1 {
		errs = append(errs, "MIN_CONFIDENCE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MinPositionSizePct, err = getEnvAsFloatRequired("MIN_POSITION_SIZE_PCT", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_POSITION_SIZE_PCT: %v", err))
	}
	cfg.MaxPositionSizePct, err = getEnvAsFloatRequired("MAX_POSITION_SIZE_PCT", 0.20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE_PCT: %v", err))
	}
	if cfg.MinPositionSizePct <= 0 || cfg.MaxPositionSizePct <= cfg.MinPositionSizePct {
		errs = append(errs, "position size bounds must satisfy 0 < MIN_POSITION_SIZE_PCT < MAX_POSITION_SIZE_PCT")
	}

	// Error recovery
	cfg.MaxConsecutiveErrors = getEnvAsInt("MAX_CONSECUTIVE_ERRORS", 5)
	if cfg.MaxConsecutiveErrors <= 0 {
		errs = append(errs, "MAX_CONSECUTIVE_ERRORS must be positive")
	}
	cooldownSeconds := getEnvAsInt("ERROR_COOLDOWN_SECONDS", 300)
	if cooldownSeconds <= 0 {
		errs = append(errs, "ERROR_COOLDOWN_SECONDS must be positive")
	}
	cfg.ErrorCooldown = time.Duration(cooldownSeconds) * time.Second

	// Account
	cfg.InitialCapital, err = getEnvAsFloatRequired("INITIAL_CAPITAL", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if cfg.InitialCapital <= 0 {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	// Signal drop directory
	cfg.SignalDir = getEnv("SIGNAL_DIR", "./data/signals")
	cfg.SignalMaxAge = time.Duration(getEnvAsInt("SIGNAL_MAX_AGE_SEC", 600)) * time.Second
	if cfg.SignalMaxAge <= 0 {
		errs = append(errs, "SIGNAL_MAX_AGE_SEC must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/autopilot.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "std"))
	if cfg.LogFormat != "std" && cfg.LogFormat != "zap" {
		errs = append(errs, "LOG_FORMAT must be 'std' or 'zap'")
	}

	// Metrics (set empty to disable the endpoint)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9100")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
