// Package domain contains the pure data model for GoldPulse.
// No infrastructure dependencies are allowed here.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a candle aggregation interval.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists all supported timeframes in ascending order.
var Timeframes = []Timeframe{TF15m, TF1h, TF4h, TF1d}

// Duration returns the wall-clock length of one candle of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// Bucket truncates ts to the opening timestamp of the candle containing it.
func (tf Timeframe) Bucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(tf.Duration())
}

// PriceQuote is a single spot quote pushed by the vendor adapter.
// Quotes are immutable once created.
type PriceQuote struct {
	Timestamp time.Time `json:"ts"`
	GramGold  float64   `json:"gram_gold"`
	OunceUSD  float64   `json:"ounce_usd"`
	USDTRY    float64   `json:"usd_try"`
	OunceTRY  float64   `json:"ounce_try"`
}

// Candle is one OHLC bucket for a timeframe. There is exactly one candle
// per (interval, ts_open). Only the aggregator mutates an open candle;
// a sealed candle is never rewritten.
type Candle struct {
	Interval  Timeframe `json:"interval"`
	TsOpen    time.Time `json:"ts_open"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	TickCount int       `json:"tick_count"`
	Sealed    bool      `json:"sealed"`
}

// Signal is a trading decision.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Direction returns +1 for BUY, -1 for SELL, 0 for HOLD.
func (s Signal) Direction() int {
	switch s {
	case SignalBuy:
		return 1
	case SignalSell:
		return -1
	}
	return 0
}

// Opposite reports whether o is the opposing directional signal.
func (s Signal) Opposite(o Signal) bool {
	return s.Direction()*o.Direction() == -1
}

// SignalStrength buckets combined confidence.
type SignalStrength string

const (
	StrengthStrong   SignalStrength = "STRONG"
	StrengthModerate SignalStrength = "MODERATE"
	StrengthWeak     SignalStrength = "WEAK"
)

// GlobalTrend is the ounce/USD context sub-signal.
type GlobalTrend struct {
	Direction string  `json:"direction"` // "up", "down", "neutral"
	Strength  float64 `json:"strength"`  // 0..1
	Momentum  float64 `json:"momentum"`  // signed slope of recent closes
}

// CurrencyRiskLevel buckets USD/TRY volatility.
type CurrencyRiskLevel string

const (
	CurrencyRiskLow     CurrencyRiskLevel = "LOW"
	CurrencyRiskMedium  CurrencyRiskLevel = "MEDIUM"
	CurrencyRiskHigh    CurrencyRiskLevel = "HIGH"
	CurrencyRiskExtreme CurrencyRiskLevel = "EXTREME"
)

// CurrencyRisk is the USD/TRY sizing sub-signal.
type CurrencyRisk struct {
	Level      CurrencyRiskLevel `json:"level"`
	Volatility float64           `json:"volatility"` // ATR% of USD/TRY
	Multiplier float64           `json:"multiplier"` // position-size damping, 0.3..1.3
}

// AnalysisRecord is the output of one hybrid analysis run on one timeframe.
// Append-only; one per (timeframe, ts).
type AnalysisRecord struct {
	Timestamp       time.Time      `json:"ts"`
	Timeframe       Timeframe      `json:"timeframe"`
	GramPrice       float64        `json:"gram_price"`
	Signal          Signal         `json:"signal"`
	Confidence      float64        `json:"confidence"`
	SignalStrength  SignalStrength `json:"signal_strength"`
	PositionSize    float64        `json:"position_size"` // fraction of per-TF capital, 0..0.20
	StopLoss        float64        `json:"stop_loss,omitempty"`
	TakeProfit      float64        `json:"take_profit,omitempty"`
	RiskReward      float64        `json:"risk_reward,omitempty"`
	GlobalTrend     GlobalTrend    `json:"global_trend"`
	CurrencyRisk    CurrencyRisk   `json:"currency_risk"`
	SubAnalyses     SubAnalyses    `json:"sub_analyses,omitempty"`
	Summary         string         `json:"summary"`
	Recommendations []string       `json:"recommendations,omitempty"`

	// Indicator readings at analysis time, carried for exit-strategy
	// evaluation and the per-strategy entry filters.
	ATR        float64 `json:"atr,omitempty"`
	RSI        float64 `json:"rsi,omitempty"`
	BBPosition float64 `json:"bb_position,omitempty"` // (close-lower)/(upper-lower)
}

// SignalRecord is the projection of an AnalysisRecord whose signal is
// actionable (not HOLD).
type SignalRecord struct {
	Timestamp    time.Time      `json:"ts"`
	Timeframe    Timeframe      `json:"timeframe"`
	Signal       Signal         `json:"signal"`
	Confidence   float64        `json:"confidence"`
	Strength     SignalStrength `json:"signal_strength"`
	GramPrice    float64        `json:"gram_price"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	RiskReward   float64        `json:"risk_reward"`
	PositionSize float64        `json:"position_size"`
}

// ToSignalRecord projects an actionable analysis into a SignalRecord.
// Returns nil for HOLD.
func (a *AnalysisRecord) ToSignalRecord() *SignalRecord {
	if a.Signal == SignalHold {
		return nil
	}
	return &SignalRecord{
		Timestamp:    a.Timestamp,
		Timeframe:    a.Timeframe,
		Signal:       a.Signal,
		Confidence:   a.Confidence,
		Strength:     a.SignalStrength,
		GramPrice:    a.GramPrice,
		StopLoss:     a.StopLoss,
		TakeProfit:   a.TakeProfit,
		RiskReward:   a.RiskReward,
		PositionSize: a.PositionSize,
	}
}

// StrategyType selects the position-opening filter set of a simulation.
type StrategyType string

const (
	StrategyMain          StrategyType = "MAIN"
	StrategyConservative  StrategyType = "CONSERVATIVE"
	StrategyMomentum      StrategyType = "MOMENTUM"
	StrategyMeanReversion StrategyType = "MEAN_REVERSION"
	StrategyConsensus     StrategyType = "CONSENSUS"
	StrategyRiskAdjusted  StrategyType = "RISK_ADJUSTED"
	StrategyTimeBased     StrategyType = "TIME_BASED"
)

// StrategyTypes lists all supported simulation strategies.
var StrategyTypes = []StrategyType{
	StrategyMain,
	StrategyConservative,
	StrategyMomentum,
	StrategyMeanReversion,
	StrategyConsensus,
	StrategyRiskAdjusted,
	StrategyTimeBased,
}

// SimulationStatus is the lifecycle state of a simulation.
type SimulationStatus string

const (
	SimActive   SimulationStatus = "ACTIVE"
	SimPaused   SimulationStatus = "PAUSED"
	SimFinished SimulationStatus = "FINISHED"
)

// SimulationCosts models transaction costs. Spread is charged in TL per
// gram on each side; commission is a fraction of notional on each side.
type SimulationCosts struct {
	SpreadTL      decimal.Decimal `json:"spread_tl"`
	CommissionPct decimal.Decimal `json:"commission_pct"`
}

// SimulationThresholds are the per-simulation risk limits.
type SimulationThresholds struct {
	MinConfidence   float64 `json:"min_confidence"`
	MaxRiskPct      float64 `json:"max_risk_pct"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
}

// Simulation is an immutable paper-trading configuration. Mutable state
// lives in per-TF capital rows and open positions.
type Simulation struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	StrategyType   StrategyType         `json:"strategy_type"`
	Status         SimulationStatus     `json:"status"`
	PauseReason    string               `json:"pause_reason,omitempty"`
	InitialCapital decimal.Decimal      `json:"initial_capital"` // grams
	Costs          SimulationCosts      `json:"costs"`
	Thresholds     SimulationThresholds `json:"thresholds"`
	CreatedAt      time.Time            `json:"created_at"`
}

// PositionType is the trade direction of a position.
type PositionType string

const (
	PositionLong  PositionType = "LONG"
	PositionShort PositionType = "SHORT"
)

// Direction returns +1 for LONG, -1 for SHORT.
func (t PositionType) Direction() int {
	if t == PositionShort {
		return -1
	}
	return 1
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is one simulated trade. Created atomically with the capital
// debit and closed atomically with the capital credit.
type Position struct {
	ID              string          `json:"id"`
	SimID           string          `json:"sim_id"`
	Timeframe       Timeframe       `json:"timeframe"`
	Type            PositionType    `json:"type"`
	SizeGrams       decimal.Decimal `json:"size_grams"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryTime       time.Time       `json:"entry_ts"`
	EntryConfidence float64         `json:"entry_confidence"`
	EntryATR        float64         `json:"entry_atr"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	TrailingStop    decimal.Decimal `json:"trailing_stop"`
	BestPrice       decimal.Decimal `json:"best_price"` // best favorable excursion
	Status          PositionStatus  `json:"status"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	ExitTime        time.Time       `json:"exit_ts"`
	ExitReason      string          `json:"exit_reason,omitempty"`
	GrossPnLTL      decimal.Decimal `json:"gross_pnl_tl"`
	GrossPnLGrams   decimal.Decimal `json:"gross_pnl_grams"`
	CostsTL         decimal.Decimal `json:"costs_tl"`
	NetPnLTL        decimal.Decimal `json:"net_pnl_tl"`
	NetPnLGrams     decimal.Decimal `json:"net_pnl_grams"`
}

// DailyPerformance is the per-simulation daily roll-up.
type DailyPerformance struct {
	SimID           string          `json:"sim_id"`
	Date            string          `json:"date"` // YYYY-MM-DD in the display zone
	StartingCapital decimal.Decimal `json:"starting_capital"`
	EndingCapital   decimal.Decimal `json:"ending_capital"`
	ClosedTrades    int             `json:"closed_trades"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	DailyPnLGrams   decimal.Decimal `json:"daily_pnl_grams"`
	DailyPnLPct     decimal.Decimal `json:"daily_pnl_pct"`
}

// Exit reasons, in the priority order exit rules are evaluated.
const (
	ExitStopLoss        = "stop_loss"
	ExitTakeProfit      = "take_profit"
	ExitDailyLossLimit  = "daily_loss_limit"
	ExitOppositeSignal  = "opposite_signal"
	ExitTrailingStop    = "trailing_stop"
	ExitMaxHold         = "max_hold"
	ExitConfidenceDecay = "confidence_decay"
	ExitVolatilitySpike = "volatility_spike"
)

// Rounding conventions for money paths: TL amounts carry 2 decimals,
// gram quantities 3, banker's rounding.
const (
	TLScale   = 2
	GramScale = 3
)

// RoundTL rounds a TL amount to its storage scale.
func RoundTL(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(TLScale)
}

// RoundGrams rounds a gram quantity to its storage scale.
func RoundGrams(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(GramScale)
}
