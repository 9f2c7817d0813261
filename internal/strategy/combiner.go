package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/analysis"
	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/indicators"
)

// conflictPenalty damps confidence when the final signal fights the
// global trend or the lira is in extreme stress.
const conflictPenalty = 0.7

// strongAgreementMin is the confirming-analysis count STRONG requires.
const strongAgreementMin = 3

// Combiner fuses the gram, global-trend and currency-risk sub-signals
// into one AnalysisRecord per run.
type Combiner struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewCombiner creates a signal combiner.
func NewCombiner(cfg *config.Config, log zerolog.Logger) *Combiner {
	return &Combiner{
		cfg: cfg,
		log: log.With().Str("component", "combiner").Logger(),
	}
}

// Combine runs the weighted fusion for one timeframe. The gram price is
// the entry price candidate; snap supplies ATR for the risk parameters.
func (c *Combiner) Combine(
	tf domain.Timeframe,
	ts time.Time,
	gramPrice float64,
	gram GramSignal,
	subs domain.SubAnalyses,
	global domain.GlobalTrend,
	risk domain.CurrencyRisk,
	snap *indicators.Snapshot,
) *domain.AnalysisRecord {
	record := &domain.AnalysisRecord{
		Timestamp:    ts,
		Timeframe:    tf,
		GramPrice:    gramPrice,
		GlobalTrend:  global,
		CurrencyRisk: risk,
		SubAnalyses:  subs,
		ATR:          snap.ATR,
		RSI:          snap.RSI,
		BBPosition:   snap.BBPosition,
	}

	score := c.aggregateScore(gram, subs, global)

	record.Signal = domain.SignalHold
	if score > 0.05 {
		record.Signal = domain.SignalBuy
	} else if score < -0.05 {
		record.Signal = domain.SignalSell
	}

	overridden := false
	if gram.Signal != domain.SignalHold && gram.Confidence >= c.cfg.GramOverrideConfidence {
		record.Signal = gram.Signal
		overridden = true
	}

	record.Confidence = c.fusedConfidence(record.Signal, gram, subs, global, risk)

	if !overridden && record.Signal != domain.SignalHold {
		if conflicts(record.Signal, global) {
			record.Confidence *= conflictPenalty
			record.Recommendations = append(record.Recommendations, "signal runs against the global ounce trend")
		}
		if risk.Level == domain.CurrencyRiskExtreme {
			record.Confidence *= conflictPenalty
			record.Recommendations = append(record.Recommendations, "extreme lira volatility, size reduced")
		}
	}

	if record.Signal != domain.SignalHold && record.Confidence < c.cfg.MinConfidenceThresholds[tf] {
		c.hold(record, fmt.Sprintf("confidence %.2f below %s threshold %.2f",
			record.Confidence, tf, c.cfg.MinConfidenceThresholds[tf]))
	}

	vol := subs.Volatility()
	if record.Signal != domain.SignalHold && vol != nil && vol.ATRPct < c.cfg.MinVolatilityPct {
		c.hold(record, "low_volatility")
	}

	if record.Signal != domain.SignalHold {
		c.applyRiskParams(record, vol)
		if !c.coversCosts(record) {
			c.hold(record, "expected move does not cover spread and commission")
			record.StopLoss, record.TakeProfit, record.RiskReward = 0, 0, 0
		}
	}

	record.SignalStrength = c.strength(record)
	if record.Signal != domain.SignalHold {
		record.PositionSize = c.positionSize(record.Confidence, record.RiskReward, risk.Multiplier)
	}
	record.Summary = summarize(record, gram)

	c.log.Debug().
		Str("timeframe", string(tf)).
		Str("signal", string(record.Signal)).
		Float64("confidence", record.Confidence).
		Float64("score", score).
		Bool("gram_override", overridden).
		Msg("Signals combined")

	return record
}

// aggregateScore sums the weighted directional votes of all sub-signals.
func (c *Combiner) aggregateScore(gram GramSignal, subs domain.SubAnalyses, global domain.GlobalTrend) float64 {
	score := config.WeightGram * gram.Score
	score += config.WeightGlobal * globalVote(global)
	// Currency risk never votes a direction; its weight only carries
	// confidence in the fusion.

	for _, sub := range subs {
		if domain.IsInsufficient(sub) {
			continue
		}
		score += c.moduleWeight(sub.Kind()) * sub.Vote()
	}
	return score
}

// fusedConfidence is the weighted sum of each sub-signal's confidence,
// counted only when it agrees with the final direction.
func (c *Combiner) fusedConfidence(final domain.Signal, gram GramSignal, subs domain.SubAnalyses, global domain.GlobalTrend, risk domain.CurrencyRisk) float64 {
	dir := float64(final.Direction())

	conf := 0.0
	if dir == 0 || gram.Score*dir > 0 {
		conf += config.WeightGram * gram.Confidence
	}
	if gv := globalVote(global); dir == 0 || gv*dir > 0 {
		conf += config.WeightGlobal * global.Strength
	}
	// The currency leg is direction-neutral: a calm lira is confirmation,
	// a stressed one is not.
	conf += config.WeightCurrency * clamp01(risk.Multiplier/1.3)

	for _, sub := range subs {
		if domain.IsInsufficient(sub) {
			continue
		}
		if dir == 0 || sub.Vote()*dir > 0 {
			conf += c.moduleWeight(sub.Kind()) * sub.Conf()
		}
	}
	return clamp01(conf)
}

// moduleWeight maps a sub-analysis kind to its slice of the confirmation
// budget. The three regime variants share the "regime" weight.
func (c *Combiner) moduleWeight(kind domain.SubKind) float64 {
	switch kind {
	case domain.KindTrendRegime, domain.KindMomentumRegime:
		return c.cfg.ModuleWeights["regime"] / 2
	case domain.KindVolatilityRegime:
		return 0
	}
	return c.cfg.ModuleWeights[string(kind)]
}

func globalVote(g domain.GlobalTrend) float64 {
	switch g.Direction {
	case "up":
		return g.Strength
	case "down":
		return -g.Strength
	}
	return 0
}

func conflicts(final domain.Signal, global domain.GlobalTrend) bool {
	switch global.Direction {
	case "up":
		return final == domain.SignalSell
	case "down":
		return final == domain.SignalBuy
	}
	return false
}

func (c *Combiner) hold(record *domain.AnalysisRecord, reason string) {
	record.Signal = domain.SignalHold
	record.Recommendations = append(record.Recommendations, reason)
}

// applyRiskParams derives stop-loss and take-profit from ATR with the
// volatility-adaptive multipliers.
func (c *Combiner) applyRiskParams(record *domain.AnalysisRecord, vol *domain.VolatilityRegime) {
	level := domain.VolMedium
	if vol != nil {
		level = vol.Level
	}
	slMult, tpMult := analysis.AdaptiveStopParams(level)

	entry := record.GramPrice
	dir := float64(record.Signal.Direction())
	record.StopLoss = entry - dir*record.ATR*slMult
	record.TakeProfit = entry + dir*record.ATR*tpMult

	slDist := math.Abs(entry - record.StopLoss)
	if slDist > 0 {
		record.RiskReward = math.Abs(record.TakeProfit-entry) / slDist
	}
}

// coversCosts checks the expected move to take-profit against the
// round-trip transaction cost.
func (c *Combiner) coversCosts(record *domain.AnalysisRecord) bool {
	expectedMove := math.Abs(record.TakeProfit - record.GramPrice)
	roundTrip := 2*c.cfg.Simulation.SpreadTL + 2*c.cfg.Simulation.CommissionPct*record.GramPrice
	return expectedMove > roundTrip
}

func (c *Combiner) strength(record *domain.AnalysisRecord) domain.SignalStrength {
	agreeing := record.SubAnalyses.AgreeingWith(record.Signal.Direction())
	switch {
	case record.Confidence >= 0.7 && agreeing >= strongAgreementMin:
		return domain.StrengthStrong
	case record.Confidence >= 0.55:
		return domain.StrengthModerate
	}
	return domain.StrengthWeak
}

// positionSize is a half-Kelly fraction damped by the currency-risk
// multiplier and hard-capped.
func (c *Combiner) positionSize(confidence, riskReward, currencyMult float64) float64 {
	if riskReward <= 0 {
		return 0
	}
	kelly := (confidence*(riskReward+1) - 1) / riskReward
	if kelly <= 0 {
		return 0
	}
	size := kelly / 2 * currencyMult
	if limit := c.cfg.Simulation.MaxPositionPct; size > limit {
		size = limit
	}
	return size
}

func summarize(record *domain.AnalysisRecord, gram GramSignal) string {
	if record.Signal == domain.SignalHold {
		if len(record.Recommendations) > 0 {
			return fmt.Sprintf("%s: HOLD (%s)", record.Timeframe, record.Recommendations[len(record.Recommendations)-1])
		}
		return fmt.Sprintf("%s: HOLD, no directional edge", record.Timeframe)
	}
	return fmt.Sprintf("%s: %s %s, confidence %.2f (gram score %+.2f), R/R %.1f",
		record.Timeframe, record.SignalStrength, record.Signal, record.Confidence, gram.Score, record.RiskReward)
}
