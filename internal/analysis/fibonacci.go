package analysis

import (
	"fmt"
	"math"

	"github.com/aristath/goldpulse/internal/domain"
)

// Retracement ratios, shallow to deep.
var fibRatios = []float64{0.236, 0.382, 0.5, 0.618, 0.786}

// FibBounceTolerance is how close (fraction of price) the close must sit
// to a level to count as interacting with it.
const FibBounceTolerance = 0.003

// AnalyzeFibonacci draws retracements between the most-recent swing high
// and swing low and flags an active bounce when the close hugs a level
// and the prior two bars closed on the unbroken side of it.
func AnalyzeFibonacci(candles []domain.Candle) domain.SubAnalysis {
	minBars := 2*StructureLookback + 1
	if len(candles) < minBars {
		return insufficient(domain.KindFibonacci, fmt.Sprintf("need %d candles, have %d", minBars, len(candles)))
	}

	swings := DetectSwings(candles, StructureLookback)
	highs := lastSwings(swings, 1, boolPtr(true))
	lows := lastSwings(swings, 1, boolPtr(false))
	if len(highs) == 0 || len(lows) == 0 {
		return insufficient(domain.KindFibonacci, "no swing pair in window")
	}

	high := highs[0]
	low := lows[0]
	if high.Price <= low.Price {
		return insufficient(domain.KindFibonacci, "degenerate swing range")
	}

	// The swing that formed later sets the trend leg direction: a newer
	// high means we retrace down from it (uptrend leg), and vice versa.
	uptrend := high.Index > low.Index
	span := high.Price - low.Price

	result := &domain.Fibonacci{
		SwingHigh: high.Price,
		SwingLow:  low.Price,
		Uptrend:   uptrend,
		Levels:    make([]domain.FibLevel, 0, len(fibRatios)),
	}
	for _, ratio := range fibRatios {
		var price float64
		if uptrend {
			price = high.Price - span*ratio
		} else {
			price = low.Price + span*ratio
		}
		result.Levels = append(result.Levels, domain.FibLevel{Ratio: ratio, Price: price})
	}

	lastClose := candles[len(candles)-1].Close
	for i := range result.Levels {
		level := result.Levels[i]
		if math.Abs(lastClose-level.Price)/level.Price > FibBounceTolerance {
			continue
		}
		if held(candles, level.Price, uptrend) {
			result.ActiveBounce = &result.Levels[i]
			// Next shallower level is the bounce target.
			if i > 0 {
				result.TargetLevel = &result.Levels[i-1]
			} else if uptrend {
				result.TargetLevel = &domain.FibLevel{Ratio: 0, Price: high.Price}
			} else {
				result.TargetLevel = &domain.FibLevel{Ratio: 0, Price: low.Price}
			}
			break
		}
	}

	confidence := 0.45 + (high.Strength+low.Strength)/4
	if result.ActiveBounce != nil {
		confidence += 0.2
	}
	result.Confidence = clamp01(confidence)
	return result
}

// held reports whether the prior two bars closed on the defended side of
// the level (above it in an uptrend retracement, below in a downtrend).
func held(candles []domain.Candle, level float64, uptrend bool) bool {
	if len(candles) < 3 {
		return false
	}
	for _, c := range candles[len(candles)-3 : len(candles)-1] {
		if uptrend && c.Close < level {
			return false
		}
		if !uptrend && c.Close > level {
			return false
		}
	}
	return true
}
