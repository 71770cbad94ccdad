// Package config loads and freezes the environment-driven settings
// recognized by the supervisor (spec §6.2). All runtime knobs are
// enumerated here with a single defaulting step at process init.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading supervisor.
type Config struct {
	Port string

	// Execution / safety
	DryRun   bool
	OwnerID  string
	Language string

	// MFA + auto-execution
	MFAThresholdUSD           float64
	AutoExecuteEnabled        bool
	AutoExecuteMaxPerTick     int
	AutoExecuteRiskMaxTrades  int
	AutoExecuteDailyLossLimit float64
	MaxSlippagePct            float64

	// Snapshot cadence
	SnapshotIntervalMinutes int
	VolHighStddevPct        float64
	VolLowStddevPct         float64
	VolSnapshotFastMinutes  int
	VolSnapshotSlowMinutes  int

	// Anomaly detection
	AnomalySingleStepPct float64
	AnomalyZThreshold    float64

	// Kill-switch / risk controller
	RiskMaxTradesHour       int
	RiskDailyLossLimit      float64
	RiskCollateralMinHealth float64
	RiskRecoveryGraceMin    int
	RiskPeakSource          string // "heuristic" | "highWaterMark"
	RiskPeakMultiplier      float64
	RiskMaxDrawdownPct      float64
	RiskMaxPositionPct      float64
	RiskDefaultCooldownSecs int

	// Database
	DBPath string

	// Light mode disables all schedulers (diagnostics-only run).
	LightMode bool

	// Brokerage (adapters.Brokerage concrete binance implementation)
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	UseMockBrokerage bool
	Symbols          []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "./data/sentinel.db")

	ownerID := os.Getenv("OWNER_ID")
	dryRun := getEnv("DRY_RUN", "true") == "true"
	if !dryRun && ownerID == "" {
		// ConfigInvalid is coerced, not fatal: disabling DRY_RUN without an
		// owner would remove the only safety interlock on execution.
		dryRun = true
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		DryRun:   dryRun,
		OwnerID:  ownerID,
		Language: getEnv("LANGUAGE", "en"),

		MFAThresholdUSD:           getEnvFloat("MFA_THRESHOLD_USD", 100),
		AutoExecuteEnabled:        getEnv("AUTO_EXECUTE_ENABLED", "false") == "true",
		AutoExecuteMaxPerTick:     getEnvInt("AUTO_EXECUTE_MAX_PER_TICK", 1),
		AutoExecuteRiskMaxTrades:  getEnvInt("AUTO_EXECUTE_RISK_MAX_TRADES_HOUR", 4),
		AutoExecuteDailyLossLimit: getEnvFloat("AUTO_EXECUTE_DAILY_LOSS_LIMIT", -1000),
		MaxSlippagePct:            getEnvFloat("MAX_SLIPPAGE_PCT", 0.02),

		SnapshotIntervalMinutes: getEnvInt("SNAPSHOT_INTERVAL_MINUTES", 60),
		VolHighStddevPct:        getEnvFloat("VOL_HIGH_STDDEV_PCT", 3),
		VolLowStddevPct:         getEnvFloat("VOL_LOW_STDDEV_PCT", 1),
		VolSnapshotFastMinutes:  getEnvInt("VOL_SNAPSHOT_FAST_MINUTES", 15),
		VolSnapshotSlowMinutes:  getEnvInt("VOL_SNAPSHOT_SLOW_MINUTES", 60),

		AnomalySingleStepPct: getEnvFloat("ANOMALY_SINGLE_STEP_PCT", 2),
		AnomalyZThreshold:    getEnvFloat("ANOMALY_Z_THRESHOLD", 3),

		RiskMaxTradesHour:       getEnvInt("RISK_MAX_TRADES_HOUR", 4),
		RiskDailyLossLimit:      getEnvFloat("RISK_DAILY_LOSS_LIMIT", -1000),
		RiskCollateralMinHealth: getEnvFloat("RISK_COLLATERAL_MIN_HEALTH", 1.2),
		RiskRecoveryGraceMin:    getEnvInt("RISK_RECOVERY_GRACE_MIN", 15),
		RiskPeakSource:          getEnv("RISK_PEAK_SOURCE", "highWaterMark"),
		RiskPeakMultiplier:      getEnvFloat("RISK_PEAK_MULTIPLIER", 1.2),
		RiskMaxDrawdownPct:      getEnvFloat("RISK_MAX_DRAWDOWN_PCT", 0.1),
		RiskMaxPositionPct:      getEnvFloat("RISK_MAX_POSITION_PCT", 25),
		RiskDefaultCooldownSecs: getEnvInt("RISK_DEFAULT_COOLDOWN_SECS", 60),

		DBPath:    dbPath,
		LightMode: getEnv("LIGHT_MODE", "false") == "true",

		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		UseMockBrokerage: getEnv("USE_MOCK_BROKERAGE", "true") == "true",
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "BTC,XRP")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
