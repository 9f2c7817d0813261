// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/goldpulse/internal/domain"
)

// TradingWindow bounds the hours during which simulations open positions.
type TradingWindow struct {
	Start string // "09:00"
	End   string // "17:00"
	Zone  string // IANA zone, e.g. "Europe/Istanbul"

	location  *time.Location
	startMins int
	endMins   int
}

// Location returns the resolved time zone of the window.
func (w *TradingWindow) Location() *time.Location {
	return w.location
}

// Contains reports whether ts falls inside the window (start inclusive,
// end exclusive), evaluated in the window's zone.
func (w *TradingWindow) Contains(ts time.Time) bool {
	local := ts.In(w.location)
	mins := local.Hour()*60 + local.Minute()
	return mins >= w.startMins && mins < w.endMins
}

// Hour returns the local hour of ts in the window's zone. Used by the
// time-based strategy dispatch.
func (w *TradingWindow) Hour(ts time.Time) int {
	return ts.In(w.location).Hour()
}

// SimulationDefaults are the cost and risk limits applied to new
// simulations unless overridden at creation.
type SimulationDefaults struct {
	SpreadTL        float64 // TL per gram, per side
	CommissionPct   float64 // fraction of notional, per side
	MaxPositionPct  float64 // hard cap on size as fraction of per-TF capital
	MaxDailyLossPct float64
	MaxRiskPct      float64 // risk budget per trade as fraction of per-TF capital
	MinConfidence   float64 // global floor; per-TF thresholds bind above it
	InitialCapital  float64 // grams
}

// Config holds application configuration.
type Config struct {
	DataDir  string
	Port     int
	DevMode  bool
	LogLevel string

	// FeedURL is the upstream price vendor endpoint. Empty selects the
	// synthetic dev feed.
	FeedURL string

	// CollectionInterval is the upstream tick poll cadence.
	CollectionInterval time.Duration

	// MinConfidenceThresholds gates final signals per timeframe.
	MinConfidenceThresholds map[domain.Timeframe]float64

	// GramOverrideConfidence is the gram sub-signal confidence above which
	// it overrides the other sub-signals.
	GramOverrideConfidence float64

	// MinVolatilityPct is the ATR% floor (as a fraction) below which the
	// combiner holds.
	MinVolatilityPct float64

	// ModuleWeights distributes the confirmation weight budget across
	// sub-analyses. Together with the three base weights they sum to 1.
	ModuleWeights map[string]float64

	Simulation SimulationDefaults

	TradingWindow TradingWindow

	// RetentionDaysRaw is how long raw ticks are kept before compaction.
	RetentionDaysRaw int
}

// Base fusion weights. The remaining budget is spread across the
// confirmation modules via ModuleWeights.
const (
	WeightGram     = 0.50
	WeightGlobal   = 0.15
	WeightCurrency = 0.10
)

// Load reads configuration from environment variables (.env honored) and
// applies defaults for everything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("GOLDPULSE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("GOLDPULSE_PORT", 8090),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		FeedURL:            getEnv("GOLDPULSE_FEED_URL", ""),
		CollectionInterval: time.Duration(getEnvAsInt("COLLECTION_INTERVAL_S", 5)) * time.Second,
		MinConfidenceThresholds: map[domain.Timeframe]float64{
			domain.TF15m: getEnvAsFloat("MIN_CONFIDENCE_15M", 0.35),
			domain.TF1h:  getEnvAsFloat("MIN_CONFIDENCE_1H", 0.40),
			domain.TF4h:  getEnvAsFloat("MIN_CONFIDENCE_4H", 0.45),
			domain.TF1d:  getEnvAsFloat("MIN_CONFIDENCE_1D", 0.50),
		},
		GramOverrideConfidence: getEnvAsFloat("GRAM_OVERRIDE_CONFIDENCE", 0.50),
		MinVolatilityPct:       getEnvAsFloat("MIN_VOLATILITY_PCT", 0.005),
		ModuleWeights: map[string]float64{
			string(domain.KindDivergence): getEnvAsFloat("WEIGHT_DIVERGENCE", 0.06),
			string(domain.KindStructure):  getEnvAsFloat("WEIGHT_STRUCTURE", 0.05),
			string(domain.KindSmartMoney): getEnvAsFloat("WEIGHT_SMC", 0.04),
			"regime":                      getEnvAsFloat("WEIGHT_REGIME", 0.04),
			string(domain.KindFibonacci):  getEnvAsFloat("WEIGHT_FIBONACCI", 0.03),
			string(domain.KindPatterns):   getEnvAsFloat("WEIGHT_PATTERNS", 0.03),
		},
		Simulation: SimulationDefaults{
			SpreadTL:        getEnvAsFloat("SIM_SPREAD_TL", 2.0),
			CommissionPct:   getEnvAsFloat("SIM_COMMISSION_PCT", 0.0003),
			MaxPositionPct:  getEnvAsFloat("SIM_MAX_POSITION_PCT", 0.20),
			MaxDailyLossPct: getEnvAsFloat("SIM_MAX_DAILY_LOSS_PCT", 0.02),
			MaxRiskPct:      getEnvAsFloat("SIM_MAX_RISK_PCT", 0.02),
			MinConfidence:   getEnvAsFloat("SIM_MIN_CONFIDENCE", 0.35),
			InitialCapital:  getEnvAsFloat("SIM_INITIAL_CAPITAL_GRAMS", 1000),
		},
		TradingWindow: TradingWindow{
			Start: getEnv("TRADING_WINDOW_START", "09:00"),
			End:   getEnv("TRADING_WINDOW_END", "17:00"),
			Zone:  getEnv("TRADING_WINDOW_ZONE", "Europe/Istanbul"),
		},
		RetentionDaysRaw: getEnvAsInt("RETENTION_DAYS_RAW", 7),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for contradictory options. A failure
// here aborts startup.
func (c *Config) Validate() error {
	sum := WeightGram + WeightGlobal + WeightCurrency
	for _, w := range c.ModuleWeights {
		if w < 0 {
			return fmt.Errorf("module weights must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("module weights must sum to 1, got %.6f", sum)
	}

	for tf, threshold := range c.MinConfidenceThresholds {
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("confidence threshold for %s out of range (0,1]: %f", tf, threshold)
		}
	}
	if c.GramOverrideConfidence <= 0 || c.GramOverrideConfidence > 1 {
		return fmt.Errorf("gram override confidence out of range (0,1]: %f", c.GramOverrideConfidence)
	}
	if c.MinVolatilityPct < 0 {
		return fmt.Errorf("min volatility must be non-negative")
	}

	s := c.Simulation
	if s.SpreadTL < 0 || s.CommissionPct < 0 {
		return fmt.Errorf("simulation costs must be non-negative")
	}
	if s.MaxPositionPct <= 0 || s.MaxPositionPct > 1 {
		return fmt.Errorf("max position pct out of range (0,1]: %f", s.MaxPositionPct)
	}
	if s.MaxRiskPct <= 0 || s.MaxDailyLossPct <= 0 {
		return fmt.Errorf("risk limits must be positive")
	}
	if s.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if c.RetentionDaysRaw < 1 {
		return fmt.Errorf("raw retention must be at least one day")
	}
	if c.CollectionInterval < time.Second {
		return fmt.Errorf("collection interval must be at least 1s")
	}

	if err := c.TradingWindow.resolve(); err != nil {
		return err
	}

	return nil
}

// resolve parses the window bounds and zone. Called from Validate.
func (w *TradingWindow) resolve() error {
	loc, err := time.LoadLocation(w.Zone)
	if err != nil {
		return fmt.Errorf("invalid trading window zone %q: %w", w.Zone, err)
	}
	start, err := parseClock(w.Start)
	if err != nil {
		return fmt.Errorf("invalid trading window start: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return fmt.Errorf("invalid trading window end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("trading window end %q must be after start %q", w.End, w.Start)
	}
	w.location = loc
	w.startMins = start
	w.endMins = end
	return nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
