package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

// regimeCandles returns a constant-price series long enough for the
// regime analyzers, which read everything from the snapshot.
func regimeCandles() []domain.Candle {
	closes := make([]float64, indicators.MinHistory+5)
	for i := range closes {
		closes[i] = 3400
	}
	return flatCandles(closes)
}

func TestTrendRegimeBuckets(t *testing.T) {
	candles := regimeCandles()

	tests := []struct {
		name     string
		snap     indicators.Snapshot
		wantType domain.TrendRegimeType
		wantDir  int
		wantVote float64
	}{
		{"ranging", indicators.Snapshot{ADX: 10, PlusDI: 20, MinusDI: 15}, domain.TrendRanging, 1, 0},
		{"transitioning", indicators.Snapshot{ADX: 20, PlusDI: 15, MinusDI: 20}, domain.TrendTransitioning, -1, 0},
		{"trending up", indicators.Snapshot{ADX: 30, PlusDI: 25, MinusDI: 10}, domain.TrendTrending, 1, 0.6},
		{"trending down", indicators.Snapshot{ADX: 40, PlusDI: 10, MinusDI: 28}, domain.TrendTrending, -1, -0.8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := AnalyzeTrendRegime(candles, &tc.snap)
			regime, ok := sub.(*domain.TrendRegime)
			require.True(t, ok)
			assert.Equal(t, tc.wantType, regime.Type)
			assert.Equal(t, tc.wantDir, regime.Direction)
			assert.InDelta(t, tc.wantVote, regime.Vote(), 1e-9)
		})
	}
}

func TestTrendRegimeTransitionProbability(t *testing.T) {
	candles := regimeCandles()

	// ADX sitting on a bucket boundary maximizes transition risk.
	onEdge := AnalyzeTrendRegime(candles, &indicators.Snapshot{ADX: 25}).(*domain.TrendRegime)
	deep := AnalyzeTrendRegime(candles, &indicators.Snapshot{ADX: 45}).(*domain.TrendRegime)

	assert.InDelta(t, 1.0, onEdge.TransitionProb, 1e-9)
	assert.Less(t, deep.TransitionProb, onEdge.TransitionProb)
}

func TestVolatilityRegimeBuckets(t *testing.T) {
	candles := regimeCandles()

	tests := []struct {
		atrPct float64
		want   domain.VolatilityLevel
	}{
		{0.001, domain.VolVeryLow},
		{0.004, domain.VolLow},
		{0.008, domain.VolMedium},
		{0.015, domain.VolHigh},
		{0.030, domain.VolExtreme},
	}
	for _, tc := range tests {
		sub := AnalyzeVolatilityRegime(candles, &indicators.Snapshot{ATR: tc.atrPct * 3400, ATRPct: tc.atrPct})
		regime, ok := sub.(*domain.VolatilityRegime)
		require.True(t, ok)
		assert.Equal(t, tc.want, regime.Level, "atr%% %v", tc.atrPct)
		assert.Zero(t, regime.Vote(), "volatility never votes direction")
	}
}

func TestVolatilityRegimeExpansion(t *testing.T) {
	candles := regimeCandles()

	rising := make([]float64, 10)
	for i := range rising {
		rising[i] = 8.0 + 0.2*float64(i)
	}
	snap := &indicators.Snapshot{ATR: 10, ATRPct: 0.004, ATRSeries: rising}

	regime := AnalyzeVolatilityRegime(candles, snap).(*domain.VolatilityRegime)
	assert.True(t, regime.Expanding)
	assert.False(t, regime.Contracting)
	assert.InDelta(t, 0.8, regime.Confidence, 1e-9)
}

func TestMomentumRegimeStates(t *testing.T) {
	candles := regimeCandles()

	rising := func(from, step float64) []float64 {
		out := make([]float64, 10)
		for i := range out {
			out[i] = from + step*float64(i)
		}
		return out
	}

	t.Run("accelerating", func(t *testing.T) {
		snap := &indicators.Snapshot{
			RSI:            60,
			RSISeries:      rising(52, 1),
			MACDHist:       0.6,
			MACDHistSeries: rising(0.1, 0.1),
		}
		regime := AnalyzeMomentumRegime(candles, snap).(*domain.MomentumRegime)
		assert.Equal(t, domain.MomentumAccelerating, regime.State)
		assert.Equal(t, 1, regime.Direction)
		assert.InDelta(t, 1.0, regime.Alignment, 1e-9)
		assert.InDelta(t, 1.0, regime.Vote(), 1e-9)
	})

	t.Run("exhausted", func(t *testing.T) {
		snap := &indicators.Snapshot{
			RSI:            75,
			RSISeries:      rising(80, -0.5),
			MACDHist:       0.2,
			MACDHistSeries: rising(0.8, -0.1),
		}
		regime := AnalyzeMomentumRegime(candles, snap).(*domain.MomentumRegime)
		assert.Equal(t, domain.MomentumExhausted, regime.State)
		assert.InDelta(t, -0.5, regime.Vote(), 1e-9, "exhaustion leans against the trend")
	})

	t.Run("decelerating", func(t *testing.T) {
		snap := &indicators.Snapshot{
			RSI:            60,
			RSISeries:      rising(55, 0.5),
			MACDHist:       0.3,
			MACDHistSeries: rising(0.8, -0.1),
		}
		regime := AnalyzeMomentumRegime(candles, snap).(*domain.MomentumRegime)
		assert.Equal(t, domain.MomentumDecelerating, regime.State)
		assert.InDelta(t, 0.25, regime.Alignment, 1e-9)
		assert.Zero(t, regime.Vote())
	})
}

func TestAdaptiveStopParams(t *testing.T) {
	tests := []struct {
		level  domain.VolatilityLevel
		sl, tp float64
	}{
		{domain.VolVeryLow, 3.0, 4.5},
		{domain.VolLow, 2.5, 4.0},
		{domain.VolMedium, 2.0, 3.0},
		{domain.VolHigh, 1.5, 2.2},
		{domain.VolExtreme, 1.2, 1.8},
		{domain.VolatilityLevel("unknown"), 2.0, 3.0},
	}
	for _, tc := range tests {
		sl, tp := AdaptiveStopParams(tc.level)
		assert.InDelta(t, tc.sl, sl, 1e-9, "%s stop multiplier", tc.level)
		assert.InDelta(t, tc.tp, tp, 1e-9, "%s target multiplier", tc.level)
		assert.Greater(t, tp, sl, "%s keeps reward above risk", tc.level)
	}
}

func TestTailSlope(t *testing.T) {
	assert.InDelta(t, 1.0, tailSlope([]float64{1, 2, 3, 4, 5}, 5), 1e-9)
	assert.InDelta(t, -2.0, tailSlope([]float64{10, 8, 6, 4}, 4), 1e-9)

	// NaN values are skipped, not counted.
	assert.InDelta(t, 1.0, tailSlope([]float64{1, math.NaN(), 2, 3, math.NaN(), 4}, 4), 1e-9)

	assert.Zero(t, tailSlope([]float64{1, 2}, 5), "too few points")
	assert.Zero(t, tailSlope(nil, 5))
}
