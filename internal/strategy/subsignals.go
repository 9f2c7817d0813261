// Package strategy contains the per-timeframe hybrid analysis pipeline:
// the gram, global-trend and currency-risk sub-signals, and the signal
// combiner that fuses them into one AnalysisRecord.
package strategy

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

// GramSignal is the weighted indicator+analyzer vote over the gram gold
// series itself.
type GramSignal struct {
	Signal     domain.Signal `json:"signal"`
	Score      float64       `json:"score"` // -1..1
	Confidence float64       `json:"confidence"`
}

// gramDeadZone: scores inside it read as HOLD.
const gramDeadZone = 0.15

// GramVote folds the indicator snapshot and the analyzer votes into the
// gram sub-signal. Indicators and analyzers carry equal halves; within
// the analyzer half each vote is weighted by its own confidence.
func GramVote(snap *indicators.Snapshot, subs domain.SubAnalyses) GramSignal {
	indScore := indicatorScore(snap)

	var voteSum, confSum float64
	for _, sub := range subs {
		if domain.IsInsufficient(sub) {
			continue
		}
		voteSum += sub.Vote() * sub.Conf()
		confSum += sub.Conf()
	}
	analyzerScore := 0.0
	if confSum > 0 {
		analyzerScore = voteSum / confSum
	}

	score := 0.5*indScore + 0.5*analyzerScore

	sig := GramSignal{Signal: domain.SignalHold, Score: score}
	if score > gramDeadZone {
		sig.Signal = domain.SignalBuy
	} else if score < -gramDeadZone {
		sig.Signal = domain.SignalSell
	}

	// Conviction from the score magnitude, lifted when both halves agree.
	sig.Confidence = clamp01(math.Abs(score))
	if indScore*analyzerScore > 0 {
		sig.Confidence = clamp01(sig.Confidence + 0.15)
	}
	return sig
}

// indicatorScore sums directional readings of the oscillator suite into
// a score in [-1, 1]. Oversold readings vote up, overbought down.
func indicatorScore(s *indicators.Snapshot) float64 {
	var score, weight float64

	vote := func(w, v float64) {
		score += w * v
		weight += w
	}

	switch {
	case s.RSI < 30:
		vote(1, 1)
	case s.RSI > 70:
		vote(1, -1)
	default:
		vote(1, (50-s.RSI)/50)
	}

	if s.MACDHist > 0 {
		vote(1, 1)
	} else if s.MACDHist < 0 {
		vote(1, -1)
	} else {
		vote(1, 0)
	}

	// Band position reads mean-reverting: hugging the lower band is a
	// buy lean.
	vote(0.8, 1-2*s.BBPosition)

	switch {
	case s.StochK < 20:
		vote(0.8, 1)
	case s.StochK > 80:
		vote(0.8, -1)
	default:
		vote(0.8, 0)
	}

	switch {
	case s.CCI < -100:
		vote(0.6, 1)
	case s.CCI > 100:
		vote(0.6, -1)
	default:
		vote(0.6, 0)
	}

	// Trend filter: price above both moving averages leans up.
	if s.SMA50 > 0 {
		switch {
		case s.Close > s.SMA20 && s.SMA20 > s.SMA50:
			vote(1.2, 1)
		case s.Close < s.SMA20 && s.SMA20 < s.SMA50:
			vote(1.2, -1)
		default:
			vote(1.2, 0)
		}
	}

	if weight == 0 {
		return 0
	}
	return score / weight
}

// globalTrendMinBars is the shortest ounce series the trend read accepts.
const globalTrendMinBars = 30

// AnalyzeGlobalTrend reads the long-horizon ounce/USD series: direction
// from the relation of price to its moving averages, strength from the
// regression slope, momentum as the signed slope in percent per bar.
func AnalyzeGlobalTrend(ounceCandles []domain.Candle) domain.GlobalTrend {
	trend := domain.GlobalTrend{Direction: "neutral"}
	if len(ounceCandles) < globalTrendMinBars {
		return trend
	}

	closes := make([]float64, len(ounceCandles))
	xs := make([]float64, len(ounceCandles))
	for i, c := range ounceCandles {
		closes[i] = c.Close
		xs[i] = float64(i)
	}

	_, slope := stat.LinearRegression(xs, closes, nil, false)
	lastClose := closes[len(closes)-1]
	if lastClose <= 0 {
		return trend
	}
	slopePct := slope / lastClose

	sma := stat.Mean(closes[len(closes)-20:], nil)
	switch {
	case lastClose > sma && slopePct > 0:
		trend.Direction = "up"
	case lastClose < sma && slopePct < 0:
		trend.Direction = "down"
	}

	// 0.1% per bar saturates strength.
	trend.Strength = clamp01(math.Abs(slopePct) / 0.001)
	trend.Momentum = slopePct
	return trend
}

// USD/TRY ATR% thresholds for the currency-risk buckets.
var currencyRiskBuckets = []struct {
	level      domain.CurrencyRiskLevel
	max        float64
	multiplier float64
}{
	{domain.CurrencyRiskLow, 0.003, 1.3},
	{domain.CurrencyRiskMedium, 0.008, 1.0},
	{domain.CurrencyRiskHigh, 0.015, 0.6},
	{domain.CurrencyRiskExtreme, math.Inf(1), 0.3},
}

// AnalyzeCurrencyRisk buckets USD/TRY volatility into a risk level with
// a position-size multiplier in [0.3, 1.3]. Without enough history the
// read defaults to MEDIUM (neutral sizing).
func AnalyzeCurrencyRisk(usdtryCandles []domain.Candle) domain.CurrencyRisk {
	_, atrPct, err := indicators.ATRValue(usdtryCandles, indicators.ATRPeriod)
	if err != nil {
		return domain.CurrencyRisk{Level: domain.CurrencyRiskMedium, Multiplier: 1.0}
	}

	risk := domain.CurrencyRisk{Volatility: atrPct}
	for _, bucket := range currencyRiskBuckets {
		if atrPct < bucket.max {
			risk.Level = bucket.level
			risk.Multiplier = bucket.multiplier
			break
		}
	}
	return risk
}

// MarketSnapshot carries the context series the hybrid strategy needs
// beyond the gram candles.
type MarketSnapshot struct {
	OunceCandles  []domain.Candle // ounce/USD, 1h buckets
	USDTRYCandles []domain.Candle // USD/TRY, 1h buckets
}

// TickReader is the slice of the price repository the snapshot builder
// needs.
type TickReader interface {
	FetchTicks(since, until time.Time) ([]domain.PriceQuote, error)
}

// SnapshotBuilder synthesizes ounce/USD and USD/TRY candle series from
// the raw tick log. Only gram gold is candled by the aggregator; the
// context series are cheap enough to rebuild per analysis run.
type SnapshotBuilder struct {
	ticks TickReader
}

// NewSnapshotBuilder creates a snapshot builder over the tick log.
func NewSnapshotBuilder(ticks TickReader) *SnapshotBuilder {
	return &SnapshotBuilder{ticks: ticks}
}

// snapshotHorizon is how far back the context series reach.
const snapshotHorizon = 7 * 24 * time.Hour

// Build assembles the context series as of now.
func (b *SnapshotBuilder) Build(now time.Time) (*MarketSnapshot, error) {
	ticks, err := b.ticks.FetchTicks(now.Add(-snapshotHorizon), now)
	if err != nil {
		return nil, err
	}
	return &MarketSnapshot{
		OunceCandles:  foldTicks(ticks, domain.TF1h, func(q domain.PriceQuote) float64 { return q.OunceUSD }),
		USDTRYCandles: foldTicks(ticks, domain.TF1h, func(q domain.PriceQuote) float64 { return q.USDTRY }),
	}, nil
}

// foldTicks buckets one price field of an ascending tick series into
// candles. Empty buckets are skipped; the analyzers only need the shape
// of the series, not gap continuity.
func foldTicks(ticks []domain.PriceQuote, tf domain.Timeframe, sel func(domain.PriceQuote) float64) []domain.Candle {
	var candles []domain.Candle
	for _, q := range ticks {
		price := sel(q)
		if price <= 0 {
			continue
		}
		bucket := tf.Bucket(q.Timestamp)
		if n := len(candles); n > 0 && candles[n-1].TsOpen.Equal(bucket) {
			c := &candles[n-1]
			if price > c.High {
				c.High = price
			}
			if price < c.Low {
				c.Low = price
			}
			c.Close = price
			c.TickCount++
			continue
		}
		candles = append(candles, domain.Candle{
			Interval:  tf,
			TsOpen:    bucket,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			TickCount: 1,
			Sealed:    true,
		})
	}
	return candles
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
