package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/goldpulse/internal/domain"
)

const (
	// smcMinTouches is the touch count required for a liquidity pool.
	smcMinTouches = 3
	// smcLevelTolerance groups extremes within this fraction into one level.
	smcLevelTolerance = 0.002
	// smcWindow bounds how far back the order-flow scan looks.
	smcWindow = 60
	// smcImpulseBodyMult: a move is "strong" when its body exceeds this
	// multiple of the consolidation range it left.
	smcImpulseBodyMult = 1.5
)

// AnalyzeSmartMoney scans for order-flow artifacts: liquidity pools
// (levels touched three-plus times), stop hunts (a wick at least twice
// the body sweeping a pool and reverting within two bars), order blocks
// (3-5 bar consolidations preceding a strong move), and fair value gaps
// (three-candle ranges that never overlap). Untapped blocks and gaps
// become entry zones; the net bias is the bullish-minus-bearish zone
// balance.
func AnalyzeSmartMoney(candles []domain.Candle) domain.SubAnalysis {
	if len(candles) < 2*StructureLookback+1 {
		return insufficient(domain.KindSmartMoney, fmt.Sprintf("need %d candles, have %d", 2*StructureLookback+1, len(candles)))
	}

	window := candles
	if len(window) > smcWindow {
		window = window[len(window)-smcWindow:]
	}

	result := &domain.SmartMoney{
		LiquidityPools: liquidityPools(window),
		OrderBlocks:    orderBlocks(window),
		FVGs:           fairValueGaps(window),
	}
	result.StopHunt = stopHunt(window, result.LiquidityPools)
	result.EntryZones = entryZones(result, window[len(window)-1].Close)

	var bullish, bearish int
	for _, z := range result.EntryZones {
		if z.Bullish {
			bullish++
		} else {
			bearish++
		}
	}
	if total := bullish + bearish; total > 0 {
		result.Bias = float64(bullish-bearish) / float64(total)
	}
	if result.StopHunt != nil {
		// A sweep below lows that reverted is accumulation; above highs,
		// distribution.
		if result.StopHunt.Direction == "below" {
			result.Bias = clampSigned(result.Bias + 0.3)
		} else {
			result.Bias = clampSigned(result.Bias - 0.3)
		}
	}

	confidence := 0.4
	if len(result.EntryZones) > 0 {
		confidence += 0.15
	}
	if result.StopHunt != nil {
		confidence += 0.15
	}
	if len(result.LiquidityPools) > 0 {
		confidence += 0.1
	}
	result.Confidence = clamp01(confidence)
	return result
}

// liquidityPools clusters bar extremes and keeps levels with enough
// touches, strongest first.
func liquidityPools(candles []domain.Candle) []domain.LiquidityPool {
	highPools := clusterExtremes(candles, true)
	lowPools := clusterExtremes(candles, false)

	pools := append(highPools, lowPools...)
	sort.Slice(pools, func(i, j int) bool { return pools[i].Touches > pools[j].Touches })
	if len(pools) > 6 {
		pools = pools[:6]
	}
	return pools
}

func clusterExtremes(candles []domain.Candle, highs bool) []domain.LiquidityPool {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		if highs {
			prices[i] = c.High
		} else {
			prices[i] = c.Low
		}
	}
	sort.Float64s(prices)

	var pools []domain.LiquidityPool
	side := "low"
	if highs {
		side = "high"
	}
	i := 0
	for i < len(prices) {
		center := prices[i]
		touches := 1
		j := i + 1
		for j < len(prices) && math.Abs(prices[j]-center)/center < smcLevelTolerance {
			center = (center*float64(touches) + prices[j]) / float64(touches+1)
			touches++
			j++
		}
		if touches >= smcMinTouches {
			pools = append(pools, domain.LiquidityPool{Price: center, Touches: touches, Side: side})
		}
		i = j
	}
	return pools
}

// stopHunt finds the most recent bar whose wick swept a pool with a
// wick at least twice the body, where price closed back on the pool's
// defended side within two bars.
func stopHunt(candles []domain.Candle, pools []domain.LiquidityPool) *domain.StopHunt {
	for i := len(candles) - 3; i >= 0 && i >= len(candles)-12; i-- {
		c := candles[i]
		body := math.Abs(c.Close - c.Open)
		upperWick := c.High - math.Max(c.Open, c.Close)
		lowerWick := math.Min(c.Open, c.Close) - c.Low

		for _, pool := range pools {
			if pool.Side == "low" && c.Low < pool.Price && lowerWick >= 2*body {
				if reverted(candles, i, pool.Price, true) {
					return &domain.StopHunt{Level: pool.Price, Direction: "below", BarIndex: i}
				}
			}
			if pool.Side == "high" && c.High > pool.Price && upperWick >= 2*body {
				if reverted(candles, i, pool.Price, false) {
					return &domain.StopHunt{Level: pool.Price, Direction: "above", BarIndex: i}
				}
			}
		}
	}
	return nil
}

// reverted reports whether one of the two bars after i closed back on
// the defended side of the level.
func reverted(candles []domain.Candle, i int, level float64, above bool) bool {
	for k := i + 1; k <= i+2 && k < len(candles); k++ {
		if above && candles[k].Close > level {
			return true
		}
		if !above && candles[k].Close < level {
			return true
		}
	}
	return false
}

// orderBlocks finds 3-5 bar consolidations immediately followed by a
// single bar whose body dwarfs the consolidation range.
func orderBlocks(candles []domain.Candle) []domain.OrderBlock {
	var blocks []domain.OrderBlock
	for end := len(candles) - 2; end >= 4; end-- {
		impulse := candles[end+1]
		body := math.Abs(impulse.Close - impulse.Open)
		if body == 0 {
			continue
		}
		for bars := 3; bars <= 5 && end-bars+1 >= 0; bars++ {
			lo, hi := consolidationRange(candles[end-bars+1 : end+1])
			rng := hi - lo
			if rng <= 0 || body < smcImpulseBodyMult*rng {
				continue
			}
			blocks = append(blocks, domain.OrderBlock{
				Low:     lo,
				High:    hi,
				Bullish: impulse.Close > impulse.Open,
				Bars:    bars,
			})
			end -= bars // skip past this block
			break
		}
		if len(blocks) == 4 {
			break
		}
	}
	return blocks
}

func consolidationRange(candles []domain.Candle) (lo, hi float64) {
	lo, hi = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	return lo, hi
}

// fairValueGaps finds three-candle imbalances: bullish when the third
// bar's low clears the first bar's high, bearish mirrored. A gap is
// filled once a later bar trades back through it.
func fairValueGaps(candles []domain.Candle) []domain.FairValueGap {
	var gaps []domain.FairValueGap
	for i := 2; i < len(candles); i++ {
		first, third := candles[i-2], candles[i]
		if third.Low > first.High {
			gaps = append(gaps, domain.FairValueGap{
				Low:     first.High,
				High:    third.Low,
				Bullish: true,
				Filled:  gapFilled(candles[i+1:], first.High, third.Low),
			})
		} else if third.High < first.Low {
			gaps = append(gaps, domain.FairValueGap{
				Low:     third.High,
				High:    first.Low,
				Bullish: false,
				Filled:  gapFilled(candles[i+1:], third.High, first.Low),
			})
		}
	}
	if len(gaps) > 4 {
		gaps = gaps[len(gaps)-4:]
	}
	return gaps
}

func gapFilled(later []domain.Candle, lo, hi float64) bool {
	for _, c := range later {
		if c.Low <= lo && c.High >= hi {
			return true
		}
	}
	return false
}

// entryZones promotes untapped order blocks and unfilled gaps on the
// tradable side of price into entry areas.
func entryZones(s *domain.SmartMoney, lastClose float64) []domain.EntryZone {
	var zones []domain.EntryZone
	for _, ob := range s.OrderBlocks {
		if ob.Bullish && ob.High < lastClose {
			zones = append(zones, domain.EntryZone{Low: ob.Low, High: ob.High, Bullish: true, Source: "order_block"})
		} else if !ob.Bullish && ob.Low > lastClose {
			zones = append(zones, domain.EntryZone{Low: ob.Low, High: ob.High, Bullish: false, Source: "order_block"})
		}
	}
	for _, gap := range s.FVGs {
		if gap.Filled {
			continue
		}
		if gap.Bullish && gap.High < lastClose {
			zones = append(zones, domain.EntryZone{Low: gap.Low, High: gap.High, Bullish: true, Source: "fvg"})
		} else if !gap.Bullish && gap.Low > lastClose {
			zones = append(zones, domain.EntryZone{Low: gap.Low, High: gap.High, Bullish: false, Source: "fvg"})
		}
	}
	return zones
}

func clampSigned(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
