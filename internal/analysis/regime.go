package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

// ADX thresholds for trend regime buckets.
const (
	adxRanging  = 15.0
	adxTrending = 25.0
)

// AnalyzeTrendRegime buckets the market by ADX: below 15 ranging, 15-25
// transitioning, above 25 trending. Direction comes from DI dominance.
func AnalyzeTrendRegime(candles []domain.Candle, snap *indicators.Snapshot) domain.SubAnalysis {
	if len(candles) < indicators.MinHistory {
		return insufficient(domain.KindTrendRegime, fmt.Sprintf("need %d candles, have %d", indicators.MinHistory, len(candles)))
	}

	regime := &domain.TrendRegime{ADX: snap.ADX}
	switch {
	case snap.ADX < adxRanging:
		regime.Type = domain.TrendRanging
	case snap.ADX <= adxTrending:
		regime.Type = domain.TrendTransitioning
	default:
		regime.Type = domain.TrendTrending
	}

	if snap.PlusDI > snap.MinusDI {
		regime.Direction = 1
	} else if snap.MinusDI > snap.PlusDI {
		regime.Direction = -1
	}

	// Strength saturates around ADX 50.
	regime.Strength = clamp01(snap.ADX / 50)

	// Distance from the nearest bucket boundary estimates how likely the
	// next run lands in a different bucket.
	boundaryDist := math.Min(math.Abs(snap.ADX-adxRanging), math.Abs(snap.ADX-adxTrending))
	regime.TransitionProb = clamp01(1 - boundaryDist/10)

	regime.Confidence = clamp01(0.5 + regime.Strength*0.4 - regime.TransitionProb*0.2)
	return regime
}

// Volatility bucket bounds on ATR% (fractions).
var volBuckets = []struct {
	level domain.VolatilityLevel
	max   float64
}{
	{domain.VolVeryLow, 0.003},
	{domain.VolLow, 0.006},
	{domain.VolMedium, 0.012},
	{domain.VolHigh, 0.020},
	{domain.VolExtreme, math.Inf(1)},
}

// AnalyzeVolatilityRegime buckets ATR% and tracks whether volatility is
// expanding or contracting across the recent ATR series. The squeeze
// flag comes straight from the Bollinger band-width percentile.
func AnalyzeVolatilityRegime(candles []domain.Candle, snap *indicators.Snapshot) domain.SubAnalysis {
	if len(candles) < indicators.MinHistory {
		return insufficient(domain.KindVolatilityRegime, fmt.Sprintf("need %d candles, have %d", indicators.MinHistory, len(candles)))
	}

	regime := &domain.VolatilityRegime{
		ATR:              snap.ATR,
		ATRPct:           snap.ATRPct,
		SqueezePotential: snap.Squeeze,
	}
	for _, bucket := range volBuckets {
		if snap.ATRPct < bucket.max {
			regime.Level = bucket.level
			break
		}
	}

	if slope := tailSlope(snap.ATRSeries, 10); slope != 0 && snap.ATR > 0 {
		relative := slope / snap.ATR
		regime.Expanding = relative > 0.01
		regime.Contracting = relative < -0.01
	}

	regime.Confidence = 0.7
	if regime.Expanding || regime.Contracting {
		regime.Confidence = 0.8
	}
	return regime
}

// AnalyzeMomentumRegime classifies momentum progression from the RSI
// trajectory and MACD histogram slope. Exhaustion is momentum pinned at
// an extreme while the histogram rolls over.
func AnalyzeMomentumRegime(candles []domain.Candle, snap *indicators.Snapshot) domain.SubAnalysis {
	if len(candles) < indicators.MinHistory {
		return insufficient(domain.KindMomentumRegime, fmt.Sprintf("need %d candles, have %d", indicators.MinHistory, len(candles)))
	}

	histSlope := tailSlope(snap.MACDHistSeries, 6)
	rsiSlope := tailSlope(snap.RSISeries, 6)

	direction := 0
	if snap.MACDHist > 0 {
		direction = 1
	} else if snap.MACDHist < 0 {
		direction = -1
	}

	// Agreement between the two momentum gauges.
	alignment := 0.5
	if rsiSlope*histSlope > 0 {
		alignment = 1.0
	} else if rsiSlope*histSlope < 0 {
		alignment = 0.25
	}

	regime := &domain.MomentumRegime{Direction: direction, Alignment: alignment}
	extreme := snap.RSI >= 70 || snap.RSI <= 30
	accelerating := histSlope*float64(direction) > 0

	switch {
	case extreme && !accelerating:
		regime.State = domain.MomentumExhausted
	case accelerating:
		regime.State = domain.MomentumAccelerating
	case histSlope*float64(direction) < 0:
		regime.State = domain.MomentumDecelerating
	default:
		regime.State = domain.MomentumStable
	}

	regime.Confidence = clamp01(0.4 + 0.4*alignment)
	return regime
}

// AdaptiveStopParams returns the stop-loss and take-profit ATR
// multipliers for the volatility regime. Quiet markets get wide stops
// (noise tolerance), violent markets tight ones.
func AdaptiveStopParams(level domain.VolatilityLevel) (slMult, tpMult float64) {
	switch level {
	case domain.VolVeryLow:
		return 3.0, 4.5
	case domain.VolLow:
		return 2.5, 4.0
	case domain.VolMedium:
		return 2.0, 3.0
	case domain.VolHigh:
		return 1.5, 2.2
	case domain.VolExtreme:
		return 1.2, 1.8
	}
	return 2.0, 3.0
}

// tailSlope fits a least-squares line through the last n non-NaN values
// and returns its slope per bar.
func tailSlope(series []float64, n int) float64 {
	var ys []float64
	for i := len(series) - 1; i >= 0 && len(ys) < n; i-- {
		if !math.IsNaN(series[i]) {
			ys = append([]float64{series[i]}, ys...)
		}
	}
	if len(ys) < 3 {
		return 0
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}
