package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/domain"
)

// fibUptrendLeg builds a swing low at bar 10 (99.5), a swing high at
// bar 30 (120.5) and a retracement toward the requested price, holding
// there for the final two bars.
func fibUptrendLeg(settle float64) []domain.Candle {
	closes := []float64{105}
	closes = ramp(closes, 100, 10)
	closes = ramp(closes, 120, 20)
	closes = ramp(closes, settle+0.1, 14)
	closes = append(closes, settle+0.05, settle)
	return flatCandles(closes)
}

func TestFibonacciLevelsFromUptrendLeg(t *testing.T) {
	sub := AnalyzeFibonacci(fibUptrendLeg(112.5))

	f, ok := sub.(*domain.Fibonacci)
	require.True(t, ok)
	assert.True(t, f.Uptrend)
	assert.InDelta(t, 120.5, f.SwingHigh, 1e-9)
	assert.InDelta(t, 99.5, f.SwingLow, 1e-9)

	require.Len(t, f.Levels, 5)
	span := f.SwingHigh - f.SwingLow
	for i, ratio := range []float64{0.236, 0.382, 0.5, 0.618, 0.786} {
		assert.InDelta(t, ratio, f.Levels[i].Ratio, 1e-9)
		assert.InDelta(t, f.SwingHigh-span*ratio, f.Levels[i].Price, 1e-9)
	}
}

func TestFibonacciActiveBounce(t *testing.T) {
	// 120.5 - 21*0.382 = 112.478; settling at 112.5 is within tolerance
	// and the prior two bars held above the level.
	sub := AnalyzeFibonacci(fibUptrendLeg(112.5))

	f, ok := sub.(*domain.Fibonacci)
	require.True(t, ok)
	require.NotNil(t, f.ActiveBounce)
	assert.InDelta(t, 0.382, f.ActiveBounce.Ratio, 1e-9)

	require.NotNil(t, f.TargetLevel, "bounce targets the next shallower level")
	assert.InDelta(t, 0.236, f.TargetLevel.Ratio, 1e-9)
	assert.InDelta(t, 1.0, f.Vote(), 1e-9)
}

func TestFibonacciNoBounceBetweenLevels(t *testing.T) {
	// 111.4 sits between the 0.382 (112.478) and 0.5 (110.0) levels.
	sub := AnalyzeFibonacci(fibUptrendLeg(111.4))

	f, ok := sub.(*domain.Fibonacci)
	require.True(t, ok)
	assert.Nil(t, f.ActiveBounce)
	assert.Nil(t, f.TargetLevel)
	assert.Zero(t, f.Vote())
}

func TestFibonacciBounceRequiresHeldLevel(t *testing.T) {
	// The close touches the 0.382 level but the bar before it closed
	// beneath it, so the level did not hold.
	closes := []float64{105}
	closes = ramp(closes, 100, 10)
	closes = ramp(closes, 120, 20)
	closes = ramp(closes, 112.6, 14)
	closes = append(closes, 112.0, 112.5)
	sub := AnalyzeFibonacci(flatCandles(closes))

	f, ok := sub.(*domain.Fibonacci)
	require.True(t, ok)
	assert.Nil(t, f.ActiveBounce)
}

func TestFibonacciDowntrendLeg(t *testing.T) {
	// High first, low later: levels project up from the low.
	closes := []float64{115}
	closes = ramp(closes, 120, 10)
	closes = ramp(closes, 100, 20)
	closes = ramp(closes, 104.3, 14)
	closes = append(closes, 104.4, 104.5)
	sub := AnalyzeFibonacci(flatCandles(closes))

	f, ok := sub.(*domain.Fibonacci)
	require.True(t, ok)
	assert.False(t, f.Uptrend)
	assert.InDelta(t, 120.5, f.SwingHigh, 1e-9)
	assert.InDelta(t, 99.5, f.SwingLow, 1e-9)

	// 99.5 + 21*0.236 = 104.456; 104.5 is within tolerance and the prior
	// bars stayed below it.
	require.NotNil(t, f.ActiveBounce)
	assert.InDelta(t, 0.236, f.ActiveBounce.Ratio, 1e-9)
	require.NotNil(t, f.TargetLevel)
	assert.InDelta(t, 99.5, f.TargetLevel.Price, 1e-9, "shallowest level targets the swing extreme")
	assert.InDelta(t, -1.0, f.Vote(), 1e-9)
}

func TestFibonacciInsufficient(t *testing.T) {
	assert.True(t, domain.IsInsufficient(AnalyzeFibonacci(flatCandles([]float64{100, 101}))))

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	assert.True(t, domain.IsInsufficient(AnalyzeFibonacci(flatCandles(flat))))
}
