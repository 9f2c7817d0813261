package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/goldpulse/internal/domain"
)

// PullbackZoneTolerance widens the broken swing level into an entry
// zone (±0.3%).
const PullbackZoneTolerance = 0.003

// AnalyzeStructure classifies the last four swings into higher-highs /
// higher-lows / lower-lows / lower-highs and detects structure breaks.
// UPTREND requires HH and HL; DOWNTREND requires LL and LH; anything
// else is RANGING. A break is the latest counter-swing violating the
// last same-type swing; the broken level ±0.3% becomes the pullback
// entry zone.
func AnalyzeStructure(candles []domain.Candle) domain.SubAnalysis {
	minBars := 2*StructureLookback + 1
	if len(candles) < minBars {
		return insufficient(domain.KindStructure, fmt.Sprintf("need %d candles, have %d", minBars, len(candles)))
	}

	swings := DetectSwings(candles, StructureLookback)
	if len(swings) < 4 {
		return insufficient(domain.KindStructure, "fewer than four swings in window")
	}

	recent := swings[len(swings)-4:]
	highs := lastSwings(swings, 2, boolPtr(true))
	lows := lastSwings(swings, 2, boolPtr(false))

	state := domain.StructureRanging
	hh := len(highs) == 2 && highs[1].Price > highs[0].Price
	hl := len(lows) == 2 && lows[1].Price > lows[0].Price
	ll := len(lows) == 2 && lows[1].Price < lows[0].Price
	lh := len(highs) == 2 && highs[1].Price < highs[0].Price
	switch {
	case hh && hl:
		state = domain.StructureUptrend
	case ll && lh:
		state = domain.StructureDowntrend
	}

	result := &domain.Structure{
		Current:   state,
		KeyLevels: clusterLevels(swings, candles[len(candles)-1].Close),
	}

	// Break detection: in an uptrend the close violating the last higher
	// low is a bearish break; mirrored for downtrends. In a range, a
	// close beyond the last swing extreme breaks the range.
	lastClose := candles[len(candles)-1].Close
	switch state {
	case domain.StructureUptrend:
		if len(lows) > 0 && lastClose < lows[len(lows)-1].Price {
			applyBreak(result, "bearish", lows[len(lows)-1].Price, lastClose)
		}
	case domain.StructureDowntrend:
		if len(highs) > 0 && lastClose > highs[len(highs)-1].Price {
			applyBreak(result, "bullish", highs[len(highs)-1].Price, lastClose)
		}
	default:
		if len(highs) > 0 && lastClose > highs[len(highs)-1].Price {
			applyBreak(result, "bullish", highs[len(highs)-1].Price, lastClose)
		} else if len(lows) > 0 && lastClose < lows[len(lows)-1].Price {
			applyBreak(result, "bearish", lows[len(lows)-1].Price, lastClose)
		}
	}

	// Confidence scales with swing prominence and decisiveness of the
	// classification.
	var strengthSum float64
	for _, s := range recent {
		strengthSum += s.Strength
	}
	confidence := 0.4 + strengthSum/8
	if state != domain.StructureRanging {
		confidence += 0.15
	}
	if result.Break {
		confidence += 0.1
	}
	result.Confidence = clamp01(confidence)

	return result
}

func applyBreak(s *domain.Structure, breakType string, brokenLevel, lastClose float64) {
	s.Break = true
	s.BreakType = breakType

	zone := &domain.PullbackZone{
		Low:  brokenLevel * (1 - PullbackZoneTolerance),
		High: brokenLevel * (1 + PullbackZoneTolerance),
	}
	// The zone activates once price has pulled back into it.
	zone.Active = lastClose >= zone.Low && lastClose <= zone.High
	s.Pullback = zone
}

// clusterLevels groups swing prices within 0.3% of each other and
// returns the cluster centers nearest the current price, strongest
// (most-touched) first, capped at five levels.
func clusterLevels(swings []SwingPoint, current float64) []float64 {
	if len(swings) == 0 {
		return nil
	}

	prices := make([]float64, len(swings))
	for i, s := range swings {
		prices[i] = s.Price
	}
	sort.Float64s(prices)

	type cluster struct {
		center  float64
		touches int
	}
	var clusters []cluster
	for _, p := range prices {
		if len(clusters) > 0 {
			c := &clusters[len(clusters)-1]
			if math.Abs(p-c.center)/c.center < PullbackZoneTolerance {
				c.center = (c.center*float64(c.touches) + p) / float64(c.touches+1)
				c.touches++
				continue
			}
		}
		clusters = append(clusters, cluster{center: p, touches: 1})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].touches != clusters[j].touches {
			return clusters[i].touches > clusters[j].touches
		}
		return math.Abs(clusters[i].center-current) < math.Abs(clusters[j].center-current)
	})

	levels := make([]float64, 0, 5)
	for _, c := range clusters {
		levels = append(levels, c.center)
		if len(levels) == 5 {
			break
		}
	}
	return levels
}
