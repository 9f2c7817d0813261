package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/analysis"
	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

const (
	// MinCandles is the shortest gram series an analysis run accepts.
	MinCandles = 20

	// analyzerBudget bounds each sub-analyzer; overruns yield the
	// insufficient-data variant with a timeout reason.
	analyzerBudget = time.Second
)

// Hybrid orchestrates one full analysis run for a timeframe: indicators,
// the parallel analyzer fan-out, the three sub-signals, and the fusion.
type Hybrid struct {
	cfg      *config.Config
	combiner *Combiner
	log      zerolog.Logger
}

// NewHybrid creates the hybrid strategy.
func NewHybrid(cfg *config.Config, combiner *Combiner, log zerolog.Logger) *Hybrid {
	return &Hybrid{
		cfg:      cfg,
		combiner: combiner,
		log:      log.With().Str("component", "hybrid").Logger(),
	}
}

// Analyze runs the full pipeline over the gram candles for one
// timeframe. Thin series return a HOLD record rather than an error; the
// scheduler persists and publishes it like any other.
func (h *Hybrid) Analyze(tf domain.Timeframe, gramCandles []domain.Candle, market *MarketSnapshot, ts time.Time) (*domain.AnalysisRecord, error) {
	if len(gramCandles) < MinCandles {
		return holdRecord(tf, ts, lastClose(gramCandles),
			fmt.Sprintf("insufficient_data: %d of %d candles", len(gramCandles), MinCandles)), nil
	}

	snap, err := indicators.Compute(gramCandles)
	if err != nil {
		return holdRecord(tf, ts, lastClose(gramCandles), "insufficient_data: "+err.Error()), nil
	}

	subs := h.runAnalyzers(tf, gramCandles, snap)
	gram := GramVote(snap, subs)
	global := AnalyzeGlobalTrend(market.OunceCandles)
	risk := AnalyzeCurrencyRisk(market.USDTRYCandles)

	return h.combiner.Combine(tf, ts, snap.Close, gram, subs, global, risk, snap), nil
}

// runAnalyzers fans the sub-analyzers out in parallel, each under its
// own wall-clock budget. A slow or panicking analyzer degrades to the
// insufficient-data variant; it never stalls or kills the run.
func (h *Hybrid) runAnalyzers(tf domain.Timeframe, candles []domain.Candle, snap *indicators.Snapshot) domain.SubAnalyses {
	jobs := []struct {
		kind domain.SubKind
		fn   func() domain.SubAnalysis
	}{
		{domain.KindTrendRegime, func() domain.SubAnalysis { return analysis.AnalyzeTrendRegime(candles, snap) }},
		{domain.KindVolatilityRegime, func() domain.SubAnalysis { return analysis.AnalyzeVolatilityRegime(candles, snap) }},
		{domain.KindMomentumRegime, func() domain.SubAnalysis { return analysis.AnalyzeMomentumRegime(candles, snap) }},
		{domain.KindDivergence, func() domain.SubAnalysis { return analysis.AnalyzeDivergence(candles, snap) }},
		{domain.KindStructure, func() domain.SubAnalysis { return analysis.AnalyzeStructure(candles) }},
		{domain.KindSmartMoney, func() domain.SubAnalysis { return analysis.AnalyzeSmartMoney(candles) }},
		{domain.KindFibonacci, func() domain.SubAnalysis { return analysis.AnalyzeFibonacci(candles) }},
		{domain.KindPatterns, func() domain.SubAnalysis { return analysis.AnalyzePatterns(candles) }},
	}

	results := make(chan domain.SubAnalysis, 1)
	subs := make(domain.SubAnalyses, 0, len(jobs))

	for _, job := range jobs {
		done := make(chan domain.SubAnalysis, 1)
		go func(kind domain.SubKind, fn func() domain.SubAnalysis) {
			defer func() {
				if r := recover(); r != nil {
					h.log.Error().
						Str("timeframe", string(tf)).
						Str("analyzer", string(kind)).
						Interface("panic", r).
						Msg("Analyzer panicked")
					done <- &domain.Insufficient{OfKind: kind, Reason: fmt.Sprintf("panic: %v", r)}
				}
			}()
			done <- fn()
		}(job.kind, job.fn)

		go func(kind domain.SubKind, done <-chan domain.SubAnalysis) {
			timer := time.NewTimer(analyzerBudget)
			defer timer.Stop()
			select {
			case sub := <-done:
				results <- sub
			case <-timer.C:
				h.log.Warn().
					Str("timeframe", string(tf)).
					Str("analyzer", string(kind)).
					Msg("Analyzer exceeded budget")
				results <- &domain.Insufficient{OfKind: kind, Reason: "timeout"}
			}
		}(job.kind, done)
	}

	for range jobs {
		subs = append(subs, <-results)
	}

	// Deterministic record order regardless of completion order.
	ordered := make(domain.SubAnalyses, 0, len(subs))
	for _, job := range jobs {
		if sub := subs.Find(job.kind); sub != nil {
			ordered = append(ordered, sub)
		}
	}
	return ordered
}

func holdRecord(tf domain.Timeframe, ts time.Time, price float64, reason string) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		Timestamp:      ts,
		Timeframe:      tf,
		GramPrice:      price,
		Signal:         domain.SignalHold,
		SignalStrength: domain.StrengthWeak,
		GlobalTrend:    domain.GlobalTrend{Direction: "neutral"},
		CurrencyRisk:   domain.CurrencyRisk{Level: domain.CurrencyRiskMedium, Multiplier: 1.0},
		Summary:        fmt.Sprintf("%s: HOLD (%s)", tf, reason),
	}
}

func lastClose(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}
