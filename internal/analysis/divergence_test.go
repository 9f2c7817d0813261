package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

// rsiSeries returns a flat series at 50 with overrides at given indexes.
func rsiSeries(n int, overrides map[int]float64) []float64 {
	rsi := make([]float64, n)
	for i := range rsi {
		rsi[i] = 50
	}
	for i, v := range overrides {
		rsi[i] = v
	}
	return rsi
}

func TestDivergenceRegularBullish(t *testing.T) {
	// W shape: price makes a lower low (94.5 after 94.5+1) while RSI makes
	// a higher low.
	closes := []float64{100}
	closes = ramp(closes, 95, 10)
	closes = ramp(closes, 100, 10)
	closes = ramp(closes, 94, 10)
	closes = ramp(closes, 98, 9)
	candles := flatCandles(closes)

	snap := &indicators.Snapshot{RSISeries: rsiSeries(len(closes), map[int]float64{10: 30, 30: 35})}
	sub := AnalyzeDivergence(candles, snap)

	d, ok := sub.(*domain.Divergence)
	require.True(t, ok, "expected a divergence, got %T", sub)
	assert.True(t, d.Bullish)
	assert.False(t, d.Hidden)
	assert.Equal(t, 5, d.Strength)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
	assert.InDelta(t, 1.0, d.Vote(), 1e-9)
}

func TestDivergenceHiddenBullish(t *testing.T) {
	// Price higher low, RSI lower low: continuation flavor, discounted.
	closes := []float64{100}
	closes = ramp(closes, 95, 10)
	closes = ramp(closes, 100, 10)
	closes = ramp(closes, 96, 10)
	closes = ramp(closes, 99, 9)
	candles := flatCandles(closes)

	snap := &indicators.Snapshot{RSISeries: rsiSeries(len(closes), map[int]float64{10: 30, 30: 25})}
	sub := AnalyzeDivergence(candles, snap)

	d, ok := sub.(*domain.Divergence)
	require.True(t, ok)
	assert.True(t, d.Bullish)
	assert.True(t, d.Hidden)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
}

func TestDivergenceRegularBearish(t *testing.T) {
	// M shape: price higher high, RSI lower high.
	closes := []float64{100}
	closes = ramp(closes, 105, 10)
	closes = ramp(closes, 100, 10)
	closes = ramp(closes, 106, 10)
	closes = ramp(closes, 102, 9)
	candles := flatCandles(closes)

	snap := &indicators.Snapshot{RSISeries: rsiSeries(len(closes), map[int]float64{10: 75, 30: 68})}
	sub := AnalyzeDivergence(candles, snap)

	d, ok := sub.(*domain.Divergence)
	require.True(t, ok)
	assert.False(t, d.Bullish)
	assert.False(t, d.Hidden)
	assert.InDelta(t, -1.0, d.Vote(), 1e-9)
}

func TestDivergenceAgreementIsInsufficient(t *testing.T) {
	// Price lower low with RSI lower low: no disagreement to report.
	closes := []float64{100}
	closes = ramp(closes, 95, 10)
	closes = ramp(closes, 100, 10)
	closes = ramp(closes, 94, 10)
	closes = ramp(closes, 98, 9)
	candles := flatCandles(closes)

	snap := &indicators.Snapshot{RSISeries: rsiSeries(len(closes), map[int]float64{10: 30, 30: 28})}
	sub := AnalyzeDivergence(candles, snap)

	assert.True(t, domain.IsInsufficient(sub))
	assert.Equal(t, domain.KindDivergence, sub.Kind())
	assert.Zero(t, sub.Vote())
}

func TestDivergenceRejectsMismatchedRSISeries(t *testing.T) {
	candles := flatCandles(make([]float64, 40))
	snap := &indicators.Snapshot{RSISeries: make([]float64, 20)}
	assert.True(t, domain.IsInsufficient(AnalyzeDivergence(candles, snap)))
}

func TestDivergenceShortSeries(t *testing.T) {
	candles := flatCandles([]float64{100, 101, 102})
	snap := &indicators.Snapshot{RSISeries: rsiSeries(3, nil)}
	assert.True(t, domain.IsInsufficient(AnalyzeDivergence(candles, snap)))
}
