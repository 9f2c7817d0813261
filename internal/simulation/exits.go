package simulation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/domain"
)

// Exit tuning.
const (
	// trailingActivationMult: unrealized profit must reach this multiple
	// of the stop distance before the trailing stop arms.
	trailingActivationMult = 1.0
	// trailingRetention keeps this share of the best favorable excursion.
	trailingRetention = 0.7
	// confidenceDecayFloor closes when the latest confidence falls below
	// this fraction of the entry confidence.
	confidenceDecayFloor = 0.4
	// volSpikeMult closes when ATR jumps to this multiple of entry ATR.
	volSpikeMult = 1.5
)

// maxHold caps how long a position on each timeframe stays open.
var maxHold = map[domain.Timeframe]time.Duration{
	domain.TF15m: 4 * time.Hour,
	domain.TF1h:  24 * time.Hour,
	domain.TF4h:  72 * time.Hour,
	domain.TF1d:  7 * 24 * time.Hour,
}

// exitContext bundles everything one exit evaluation reads.
type exitContext struct {
	now    time.Time
	mid    decimal.Decimal        // current gram mid price
	latest *domain.AnalysisRecord // newest analysis on the position's TF, may be nil

	// Daily loss tracking for this (sim, timeframe).
	dailyPnLTL    decimal.Decimal // realized TL today, closed positions
	tfCapitalTL   decimal.Decimal // TL value of the timeframe's capital
	maxDailyLoss  float64
	minConfidence float64

	inWindow bool
}

// evaluateExit runs the exit rules in priority order and returns the
// reason of the first that fires. Outside the trading window only
// stop/target, trailing and volatility-spike exits stay armed; the rest
// wait for the next session.
func evaluateExit(pos *domain.Position, ctx *exitContext) (string, bool) {
	long := pos.Type == domain.PositionLong

	// 1. Stop-loss / take-profit.
	if long {
		if ctx.mid.LessThanOrEqual(pos.StopLoss) {
			return domain.ExitStopLoss, true
		}
		if ctx.mid.GreaterThanOrEqual(pos.TakeProfit) {
			return domain.ExitTakeProfit, true
		}
	} else {
		if ctx.mid.GreaterThanOrEqual(pos.StopLoss) {
			return domain.ExitStopLoss, true
		}
		if ctx.mid.LessThanOrEqual(pos.TakeProfit) {
			return domain.ExitTakeProfit, true
		}
	}

	// 2. Daily loss limit: realized plus the mark of this position.
	if ctx.inWindow && ctx.tfCapitalTL.IsPositive() {
		dayPnL := ctx.dailyPnLTL.Add(unrealizedTL(pos, ctx.mid))
		limit := ctx.tfCapitalTL.Mul(decimal.NewFromFloat(ctx.maxDailyLoss)).Neg()
		if dayPnL.LessThanOrEqual(limit) {
			return domain.ExitDailyLossLimit, true
		}
	}

	// 3. Opposite signal.
	if ctx.inWindow && ctx.latest != nil &&
		ctx.latest.Signal.Opposite(directionSignal(pos.Type)) &&
		ctx.latest.Confidence >= ctx.minConfidence {
		return domain.ExitOppositeSignal, true
	}

	// 4. Trailing stop (updateTrailing has already advanced it).
	if !pos.TrailingStop.IsZero() {
		if long && ctx.mid.LessThanOrEqual(pos.TrailingStop) {
			return domain.ExitTrailingStop, true
		}
		if !long && ctx.mid.GreaterThanOrEqual(pos.TrailingStop) {
			return domain.ExitTrailingStop, true
		}
	}

	// 5. Time-based max hold.
	if ctx.inWindow {
		if hold, ok := maxHold[pos.Timeframe]; ok && ctx.now.Sub(pos.EntryTime) >= hold {
			return domain.ExitMaxHold, true
		}
	}

	// 6. Confidence decay.
	if ctx.inWindow && ctx.latest != nil && pos.EntryConfidence > 0 &&
		ctx.latest.Confidence < confidenceDecayFloor*pos.EntryConfidence {
		return domain.ExitConfidenceDecay, true
	}

	// 7. Volatility spike.
	if ctx.latest != nil && pos.EntryATR > 0 &&
		ctx.latest.ATR >= volSpikeMult*pos.EntryATR {
		return domain.ExitVolatilitySpike, true
	}

	return "", false
}

// updateTrailing arms and advances the trailing stop from the best
// favorable excursion. Returns true when the stop moved.
func updateTrailing(pos *domain.Position, mid decimal.Decimal) bool {
	long := pos.Type == domain.PositionLong

	moved := false
	if pos.BestPrice.IsZero() {
		pos.BestPrice = pos.EntryPrice
	}
	if long && mid.GreaterThan(pos.BestPrice) {
		pos.BestPrice = mid
		moved = true
	}
	if !long && mid.LessThan(pos.BestPrice) {
		pos.BestPrice = mid
		moved = true
	}
	if !moved && !pos.TrailingStop.IsZero() {
		return false
	}

	// Arm once the move covers the stop distance.
	stopDistance := pos.EntryPrice.Sub(pos.StopLoss).Abs()
	excursion := pos.BestPrice.Sub(pos.EntryPrice).Abs()
	if excursion.LessThan(stopDistance.Mul(decimal.NewFromFloat(trailingActivationMult))) {
		return false
	}

	retained := pos.BestPrice.Sub(pos.EntryPrice).Mul(decimal.NewFromFloat(trailingRetention))
	stop := domain.RoundTL(pos.EntryPrice.Add(retained))
	if pos.TrailingStop.IsZero() ||
		(long && stop.GreaterThan(pos.TrailingStop)) ||
		(!long && stop.LessThan(pos.TrailingStop)) {
		pos.TrailingStop = stop
		return true
	}
	return false
}

func directionSignal(t domain.PositionType) domain.Signal {
	if t == domain.PositionShort {
		return domain.SignalSell
	}
	return domain.SignalBuy
}
