// Package analysis contains the pure pattern and structure analyzers.
// Every analyzer is a function from candles (plus indicators) to one
// tagged SubAnalysis variant; error modes surface as the
// insufficient-data variant, never as panics or pipeline errors.
package analysis

import (
	"math"

	"github.com/aristath/goldpulse/internal/domain"
)

// Default lookbacks per consumer.
const (
	DivergenceLookback = 5
	StructureLookback  = 10
)

// SwingPoint is a local price extremum.
type SwingPoint struct {
	Index    int     `json:"index"`
	Price    float64 `json:"price"`
	IsHigh   bool    `json:"is_high"`
	Strength float64 `json:"strength"` // normalized prominence, 0..1
}

// DetectSwings finds swing highs and lows: a point is a swing-high when
// its high exceeds every high within lookback bars on both sides (swing
// lows mirrored). Returned in index order.
func DetectSwings(candles []domain.Candle, lookback int) []SwingPoint {
	if len(candles) < 2*lookback+1 {
		return nil
	}

	priceRange := rangeOf(candles)
	var swings []SwingPoint

	for i := lookback; i < len(candles)-lookback; i++ {
		isHigh := true
		isLow := true
		for k := 1; k <= lookback; k++ {
			if candles[i].High <= candles[i-k].High || candles[i].High <= candles[i+k].High {
				isHigh = false
			}
			if candles[i].Low >= candles[i-k].Low || candles[i].Low >= candles[i+k].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, SwingPoint{
				Index:    i,
				Price:    candles[i].High,
				IsHigh:   true,
				Strength: prominence(candles, i, lookback, true, priceRange),
			})
		}
		if isLow {
			swings = append(swings, SwingPoint{
				Index:    i,
				Price:    candles[i].Low,
				IsHigh:   false,
				Strength: prominence(candles, i, lookback, false, priceRange),
			})
		}
	}

	return swings
}

// prominence measures how far the extremum stands off its neighborhood,
// normalized by the series range.
func prominence(candles []domain.Candle, i, lookback int, isHigh bool, priceRange float64) float64 {
	if priceRange == 0 {
		return 0
	}
	var extreme float64
	if isHigh {
		neighborMax := math.Inf(-1)
		for k := 1; k <= lookback; k++ {
			neighborMax = math.Max(neighborMax, math.Max(candles[i-k].High, candles[i+k].High))
		}
		extreme = candles[i].High - neighborMax
	} else {
		neighborMin := math.Inf(1)
		for k := 1; k <= lookback; k++ {
			neighborMin = math.Min(neighborMin, math.Min(candles[i-k].Low, candles[i+k].Low))
		}
		extreme = neighborMin - candles[i].Low
	}
	p := extreme / priceRange * 10
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// lastSwings returns up to n most-recent swings matching the side filter
// (nil filter = both), oldest first.
func lastSwings(swings []SwingPoint, n int, isHigh *bool) []SwingPoint {
	var filtered []SwingPoint
	for _, s := range swings {
		if isHigh == nil || s.IsHigh == *isHigh {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}

func rangeOf(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	lo, hi := candles[0].Low, candles[0].High
	for _, c := range candles {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi - lo
}

func boolPtr(b bool) *bool { return &b }

func insufficient(kind domain.SubKind, reason string) *domain.Insufficient {
	return &domain.Insufficient{OfKind: kind, Reason: reason}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
