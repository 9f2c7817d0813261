package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/domain"
)

// bar builds one candle from explicit OHLC values.
func bar(o, h, l, c float64) domain.Candle {
	return domain.Candle{
		Interval:  domain.TF1h,
		TsOpen:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		TickCount: 10,
	}
}

func TestClusterExtremesRequiresTouches(t *testing.T) {
	candles := []domain.Candle{
		bar(100.4, 100.8, 100.0, 100.6),
		bar(100.4, 100.8, 100.0, 100.6),
		bar(100.4, 100.8, 100.0, 100.6),
		bar(100.4, 100.8, 95.0, 100.6), // outlier low, a single touch
	}

	lows := clusterExtremes(candles, false)
	require.Len(t, lows, 1, "the outlier never reaches three touches")
	assert.InDelta(t, 100.0, lows[0].Price, 1e-9)
	assert.Equal(t, 3, lows[0].Touches)
	assert.Equal(t, "low", lows[0].Side)

	highs := clusterExtremes(candles, true)
	require.Len(t, highs, 1)
	assert.Equal(t, 4, highs[0].Touches)
	assert.Equal(t, "high", highs[0].Side)
}

func TestFairValueGaps(t *testing.T) {
	candles := []domain.Candle{
		bar(100, 101, 99, 100.5),
		bar(100.5, 105, 100.4, 104.8),
		bar(104.8, 106, 103, 105), // low 103 clears the first bar's high 101
		bar(105, 105.5, 104, 105),
	}

	gaps := fairValueGaps(candles)
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Bullish)
	assert.InDelta(t, 101, gaps[0].Low, 1e-9)
	assert.InDelta(t, 103, gaps[0].High, 1e-9)
	assert.False(t, gaps[0].Filled)

	// A later bar trading back through the whole gap fills it.
	candles = append(candles, bar(105, 105.5, 100.9, 101.2))
	gaps = fairValueGaps(candles)
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Filled)
}

func TestOrderBlocks(t *testing.T) {
	consolidation := bar(100.2, 101, 100, 100.8)
	candles := []domain.Candle{
		consolidation, consolidation, consolidation, consolidation, consolidation,
		bar(100.5, 103.1, 100.4, 103), // impulse body 2.5 vs range 1.0
	}

	blocks := orderBlocks(candles)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Bullish)
	assert.InDelta(t, 100, blocks[0].Low, 1e-9)
	assert.InDelta(t, 101, blocks[0].High, 1e-9)
	assert.Equal(t, 3, blocks[0].Bars)
}

func TestStopHuntSweepAndRevert(t *testing.T) {
	quiet := bar(100.4, 100.8, 100.0, 100.6)
	candles := make([]domain.Candle, 0, 10)
	for i := 0; i < 7; i++ {
		candles = append(candles, quiet)
	}
	// Long lower wick sweeps below the 100.0 pool, then price closes back
	// above it on the next bar.
	candles = append(candles,
		bar(100.6, 100.7, 99.0, 100.5),
		bar(100.5, 100.8, 100.3, 100.6),
		bar(100.6, 100.9, 100.4, 100.7),
	)

	pools := liquidityPools(candles)
	require.NotEmpty(t, pools)

	hunt := stopHunt(candles, pools)
	require.NotNil(t, hunt)
	assert.Equal(t, "below", hunt.Direction)
	assert.Equal(t, 7, hunt.BarIndex)
	assert.InDelta(t, 100.0, hunt.Level, 1e-9)
}

func TestEntryZonesFilterBySideAndFill(t *testing.T) {
	s := &domain.SmartMoney{
		OrderBlocks: []domain.OrderBlock{
			{Low: 98, High: 99, Bullish: true},    // below price: tradable
			{Low: 105, High: 106, Bullish: false}, // above price: tradable
			{Low: 101, High: 102, Bullish: true},  // above price but bullish: not
		},
		FVGs: []domain.FairValueGap{
			{Low: 96, High: 97, Bullish: true, Filled: true}, // filled: skipped
			{Low: 103, High: 104, Bullish: false},
		},
	}

	zones := entryZones(s, 100)
	require.Len(t, zones, 3)
	assert.Equal(t, "order_block", zones[0].Source)
	assert.True(t, zones[0].Bullish)
	assert.Equal(t, "order_block", zones[1].Source)
	assert.False(t, zones[1].Bullish)
	assert.Equal(t, "fvg", zones[2].Source)
	assert.False(t, zones[2].Bullish)
}

func TestAnalyzeSmartMoneyBiasFromStopHunt(t *testing.T) {
	quiet := bar(100.4, 100.8, 100.0, 100.6)
	candles := make([]domain.Candle, 0, 21)
	for i := 0; i < 18; i++ {
		candles = append(candles, quiet)
	}
	candles = append(candles,
		bar(100.6, 100.7, 99.0, 100.5),
		bar(100.5, 100.8, 100.3, 100.6),
		bar(100.6, 100.9, 100.4, 100.7),
	)

	sub := AnalyzeSmartMoney(candles)
	s, ok := sub.(*domain.SmartMoney)
	require.True(t, ok)

	require.NotNil(t, s.StopHunt)
	assert.InDelta(t, 0.3, s.Bias, 1e-9, "a sweep below lows reads as accumulation")
	assert.InDelta(t, 0.3, s.Vote(), 1e-9)
	assert.InDelta(t, 0.65, s.Confidence, 1e-9)
	assert.NotEmpty(t, s.LiquidityPools)
}

func TestAnalyzeSmartMoneyInsufficient(t *testing.T) {
	sub := AnalyzeSmartMoney([]domain.Candle{bar(100, 101, 99, 100)})
	assert.True(t, domain.IsInsufficient(sub))
}
