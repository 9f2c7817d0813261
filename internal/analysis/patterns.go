package analysis

import (
	"fmt"
	"math"

	"github.com/aristath/goldpulse/internal/domain"
)

// patternPeakTolerance: two swing extremes count as "equal" when within
// this fraction of each other.
const patternPeakTolerance = 0.004

// AnalyzePatterns scans for chart patterns built from swing points
// (double tops/bottoms, head and shoulders) and for single- and
// two-candle reversal formations on the latest bars. Targets are the
// classic measured moves.
func AnalyzePatterns(candles []domain.Candle) domain.SubAnalysis {
	minBars := 2*StructureLookback + 1
	if len(candles) < minBars {
		return insufficient(domain.KindPatterns, fmt.Sprintf("need %d candles, have %d", minBars, len(candles)))
	}

	swings := DetectSwings(candles, DivergenceLookback)
	result := &domain.Patterns{}

	if p := doubleExtreme(swings, candles, true); p != nil {
		result.Detected = append(result.Detected, *p)
	}
	if p := doubleExtreme(swings, candles, false); p != nil {
		result.Detected = append(result.Detected, *p)
	}
	if p := headAndShoulders(swings, candles); p != nil {
		result.Detected = append(result.Detected, *p)
	}
	result.Detected = append(result.Detected, candlePatterns(candles)...)

	if len(result.Detected) == 0 {
		result.Confidence = 0.3
		return result
	}
	var sum float64
	for _, d := range result.Detected {
		sum += d.Confidence
	}
	result.Confidence = clamp01(sum / float64(len(result.Detected)))
	return result
}

// doubleExtreme detects double tops (tops=true) or double bottoms: two
// near-equal swing extremes with a counter-swing between them, with the
// last close breaking the neckline. Target = neckline minus (or plus)
// the pattern height.
func doubleExtreme(swings []SwingPoint, candles []domain.Candle, tops bool) *domain.DetectedPattern {
	same := lastSwings(swings, 2, boolPtr(tops))
	if len(same) < 2 {
		return nil
	}
	first, second := same[0], same[1]
	if math.Abs(first.Price-second.Price)/first.Price > patternPeakTolerance {
		return nil
	}

	// Neckline = the opposite-side swing between the two extremes.
	var neckline *SwingPoint
	for i := range swings {
		s := swings[i]
		if s.IsHigh != tops && s.Index > first.Index && s.Index < second.Index {
			neckline = &s
		}
	}
	if neckline == nil {
		return nil
	}

	lastClose := candles[len(candles)-1].Close
	height := math.Abs(first.Price - neckline.Price)
	if tops {
		if lastClose >= neckline.Price {
			return nil
		}
		return &domain.DetectedPattern{
			Name:       "double_top",
			Bullish:    false,
			Confidence: clamp01(0.55 + (first.Strength+second.Strength)/4),
			Target:     neckline.Price - height,
		}
	}
	if lastClose <= neckline.Price {
		return nil
	}
	return &domain.DetectedPattern{
		Name:       "double_bottom",
		Bullish:    true,
		Confidence: clamp01(0.55 + (first.Strength+second.Strength)/4),
		Target:     neckline.Price + height,
	}
}

// headAndShoulders detects the three-peak topping pattern (and its
// inverse) from the last three same-side swings: the middle extreme
// beyond both shoulders, shoulders near-equal, and the close past the
// neckline drawn through the intervening counter-swings.
func headAndShoulders(swings []SwingPoint, candles []domain.Candle) *domain.DetectedPattern {
	for _, tops := range []bool{true, false} {
		same := lastSwings(swings, 3, boolPtr(tops))
		if len(same) < 3 {
			continue
		}
		left, head, right := same[0], same[1], same[2]

		headBeyond := head.Price > left.Price && head.Price > right.Price
		if !tops {
			headBeyond = head.Price < left.Price && head.Price < right.Price
		}
		if !headBeyond {
			continue
		}
		if math.Abs(left.Price-right.Price)/left.Price > 2*patternPeakTolerance {
			continue
		}

		var necklineSum float64
		var necklineN int
		for _, s := range swings {
			if s.IsHigh != tops && s.Index > left.Index && s.Index < right.Index {
				necklineSum += s.Price
				necklineN++
			}
		}
		if necklineN == 0 {
			continue
		}
		neckline := necklineSum / float64(necklineN)
		height := math.Abs(head.Price - neckline)
		lastClose := candles[len(candles)-1].Close

		if tops && lastClose < neckline {
			return &domain.DetectedPattern{
				Name:       "head_and_shoulders",
				Bullish:    false,
				Confidence: clamp01(0.6 + head.Strength/4),
				Target:     neckline - height,
			}
		}
		if !tops && lastClose > neckline {
			return &domain.DetectedPattern{
				Name:       "inverse_head_and_shoulders",
				Bullish:    true,
				Confidence: clamp01(0.6 + head.Strength/4),
				Target:     neckline + height,
			}
		}
	}
	return nil
}

// candlePatterns checks the last two sealed bars for engulfing, hammer,
// shooting-star and doji formations.
func candlePatterns(candles []domain.Candle) []domain.DetectedPattern {
	if len(candles) < 2 {
		return nil
	}
	prev, last := candles[len(candles)-2], candles[len(candles)-1]
	body := math.Abs(last.Close - last.Open)
	barRange := last.High - last.Low
	if barRange == 0 {
		return nil
	}
	upperWick := last.High - math.Max(last.Open, last.Close)
	lowerWick := math.Min(last.Open, last.Close) - last.Low

	var out []domain.DetectedPattern

	prevBody := math.Abs(prev.Close - prev.Open)
	if prevBody > 0 && body > prevBody {
		if last.Close > last.Open && prev.Close < prev.Open &&
			last.Close > prev.Open && last.Open < prev.Close {
			out = append(out, domain.DetectedPattern{Name: "bullish_engulfing", Bullish: true, Confidence: 0.55})
		}
		if last.Close < last.Open && prev.Close > prev.Open &&
			last.Close < prev.Open && last.Open > prev.Close {
			out = append(out, domain.DetectedPattern{Name: "bearish_engulfing", Bullish: false, Confidence: 0.55})
		}
	}

	if body/barRange < 0.1 {
		// A doji on its own carries direction from neither side.
		out = append(out, domain.DetectedPattern{Name: "doji", Bullish: prev.Close < prev.Open, Confidence: 0.35})
	} else {
		if lowerWick >= 2*body && upperWick <= body {
			out = append(out, domain.DetectedPattern{Name: "hammer", Bullish: true, Confidence: 0.5})
		}
		if upperWick >= 2*body && lowerWick <= body {
			out = append(out, domain.DetectedPattern{Name: "shooting_star", Bullish: false, Confidence: 0.5})
		}
	}

	return out
}
