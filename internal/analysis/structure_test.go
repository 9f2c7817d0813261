package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/domain"
)

// zigzag builds a series of linear legs starting at start, one leg per
// target value, each spanning bars candles.
func zigzag(start float64, bars int, targets ...float64) []float64 {
	closes := []float64{start}
	for _, to := range targets {
		closes = ramp(closes, to, bars)
	}
	return closes
}

func TestStructureUptrend(t *testing.T) {
	// Higher highs (115, 120) and higher lows (105, 109).
	closes := zigzag(100, 10, 110, 105, 115, 109, 120, 116)
	sub := AnalyzeStructure(flatCandles(closes))

	s, ok := sub.(*domain.Structure)
	require.True(t, ok)
	assert.Equal(t, domain.StructureUptrend, s.Current)
	assert.False(t, s.Break)
	assert.InDelta(t, 1.0, s.Vote(), 1e-9)
	assert.NotEmpty(t, s.KeyLevels)
	assert.LessOrEqual(t, len(s.KeyLevels), 5)
}

func TestStructureDowntrend(t *testing.T) {
	closes := zigzag(120, 10, 110, 115, 105, 111, 100, 104)
	sub := AnalyzeStructure(flatCandles(closes))

	s, ok := sub.(*domain.Structure)
	require.True(t, ok)
	assert.Equal(t, domain.StructureDowntrend, s.Current)
	assert.False(t, s.Break)
	assert.InDelta(t, -1.0, s.Vote(), 1e-9)
}

func TestStructureBearishBreakOfUptrend(t *testing.T) {
	// Same uptrend, but the final leg closes below the last higher low
	// (108.5 swing low at bar 40).
	closes := zigzag(100, 10, 110, 105, 115, 109, 120, 107)
	sub := AnalyzeStructure(flatCandles(closes))

	s, ok := sub.(*domain.Structure)
	require.True(t, ok)
	assert.Equal(t, domain.StructureUptrend, s.Current)
	assert.True(t, s.Break)
	assert.Equal(t, "bearish", s.BreakType)
	assert.InDelta(t, -1.0, s.Vote(), 1e-9, "a confirmed break flips the vote")

	require.NotNil(t, s.Pullback)
	assert.InDelta(t, 108.5*(1-PullbackZoneTolerance), s.Pullback.Low, 1e-6)
	assert.InDelta(t, 108.5*(1+PullbackZoneTolerance), s.Pullback.High, 1e-6)
	assert.False(t, s.Pullback.Active, "price has not pulled back into the zone yet")
}

func TestStructureRanging(t *testing.T) {
	// Equal highs and equal lows: neither HH/HL nor LL/LH.
	closes := zigzag(100, 10, 110, 100, 110, 100, 110, 105)
	sub := AnalyzeStructure(flatCandles(closes))

	s, ok := sub.(*domain.Structure)
	require.True(t, ok)
	assert.Equal(t, domain.StructureRanging, s.Current)
	assert.False(t, s.Break)
	assert.Zero(t, s.Vote())
}

func TestStructureRangeBreakout(t *testing.T) {
	closes := zigzag(100, 10, 110, 100, 110, 100, 110, 112)
	sub := AnalyzeStructure(flatCandles(closes))

	s, ok := sub.(*domain.Structure)
	require.True(t, ok)
	assert.Equal(t, domain.StructureRanging, s.Current)
	assert.True(t, s.Break)
	assert.Equal(t, "bullish", s.BreakType)
	assert.InDelta(t, 1.0, s.Vote(), 1e-9)
}

func TestStructureInsufficient(t *testing.T) {
	assert.True(t, domain.IsInsufficient(AnalyzeStructure(flatCandles(zigzag(100, 5, 105)))))

	// A flat series long enough to scan still has no swings.
	flat := make([]float64, 2*StructureLookback+5)
	for i := range flat {
		flat[i] = 100
	}
	assert.True(t, domain.IsInsufficient(AnalyzeStructure(flatCandles(flat))))
}

func TestClusterLevels(t *testing.T) {
	swings := []SwingPoint{
		{Price: 100.0}, {Price: 100.1}, {Price: 100.2},
		{Price: 110.0},
		{Price: 120.0}, {Price: 120.1},
	}
	levels := clusterLevels(swings, 105)

	require.Len(t, levels, 3)
	assert.InDelta(t, 100.1, levels[0], 1e-9, "most-touched cluster first")
	assert.InDelta(t, 120.05, levels[1], 1e-9)
	assert.InDelta(t, 110.0, levels[2], 1e-9)
}
