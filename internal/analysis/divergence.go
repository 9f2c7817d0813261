package analysis

import (
	"fmt"
	"math"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

// Divergence confidence decays for swings older than this many bars.
const divergenceFreshBars = 10

// AnalyzeDivergence pairs the two most-recent swing lows (and highs) in
// price against RSI at the same bars. Regular bullish divergence: price
// makes a lower low while RSI makes a higher low. Hidden divergence uses
// the inverse pairing. Strength 1..5 scales with the magnitude of the
// disagreement; confidence decays with swing age.
func AnalyzeDivergence(candles []domain.Candle, snap *indicators.Snapshot) domain.SubAnalysis {
	if len(candles) < 2*DivergenceLookback+1 {
		return insufficient(domain.KindDivergence, fmt.Sprintf("need %d candles, have %d", 2*DivergenceLookback+1, len(candles)))
	}
	if len(snap.RSISeries) != len(candles) {
		return insufficient(domain.KindDivergence, "rsi series does not cover candle series")
	}

	swings := DetectSwings(candles, DivergenceLookback)
	lows := lastSwings(swings, 2, boolPtr(false))
	highs := lastSwings(swings, 2, boolPtr(true))

	if d := pairDivergence(candles, snap.RSISeries, lows, true); d != nil {
		return d
	}
	if d := pairDivergence(candles, snap.RSISeries, highs, false); d != nil {
		return d
	}

	return insufficient(domain.KindDivergence, "no divergence between recent swing pairs")
}

func pairDivergence(candles []domain.Candle, rsi []float64, swings []SwingPoint, lows bool) *domain.Divergence {
	if len(swings) < 2 {
		return nil
	}
	older, newer := swings[0], swings[1]

	rsiOlder := rsi[older.Index]
	rsiNewer := rsi[newer.Index]
	if math.IsNaN(rsiOlder) || math.IsNaN(rsiNewer) {
		return nil
	}

	priceDelta := newer.Price - older.Price
	rsiDelta := rsiNewer - rsiOlder

	var bullish, hidden bool
	switch {
	case lows && priceDelta < 0 && rsiDelta > 0:
		// Price lower low, RSI higher low.
		bullish, hidden = true, false
	case lows && priceDelta > 0 && rsiDelta < 0:
		// Price higher low, RSI lower low: hidden bullish (trend continuation).
		bullish, hidden = true, true
	case !lows && priceDelta > 0 && rsiDelta < 0:
		// Price higher high, RSI lower high.
		bullish, hidden = false, false
	case !lows && priceDelta < 0 && rsiDelta > 0:
		bullish, hidden = false, true
	default:
		return nil
	}

	// Strength from the magnitudes of the two disagreeing moves.
	pricePct := math.Abs(priceDelta) / older.Price
	strength := 1 + int(math.Min(4, pricePct*400+math.Abs(rsiDelta)/10))

	// Confidence penalizes stale swings.
	age := len(candles) - 1 - newer.Index
	confidence := 0.5 + 0.1*float64(strength)
	if age > divergenceFreshBars {
		confidence *= float64(divergenceFreshBars) / float64(age)
	}
	if hidden {
		confidence *= 0.8
	}

	return &domain.Divergence{
		Bullish:    bullish,
		Hidden:     hidden,
		Strength:   strength,
		Confidence: clamp01(confidence),
	}
}
