package simulation

import (
	"fmt"

	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/domain"
)

// entryFilter decides whether a simulation acts on an analysis record.
// A rejection carries the reason for the debug log.
func entryFilter(sim *domain.Simulation, record *domain.AnalysisRecord, window *config.TradingWindow) (bool, string) {
	strategy := sim.StrategyType
	if strategy == domain.StrategyTimeBased {
		strategy = timeBasedDispatch(window.Hour(record.Timestamp))
	}

	switch strategy {
	case domain.StrategyConservative:
		if record.SignalStrength != domain.StrengthStrong {
			return false, "conservative: signal not STRONG"
		}
	case domain.StrategyMomentum:
		if record.RSI >= 30 && record.RSI <= 70 {
			return false, fmt.Sprintf("momentum: RSI %.1f inside 30-70", record.RSI)
		}
	case domain.StrategyMeanReversion:
		if record.BBPosition > 0 && record.BBPosition < 1 {
			return false, "mean_reversion: price inside the bands"
		}
	case domain.StrategyConsensus:
		if agreeing := record.SubAnalyses.AgreeingWith(record.Signal.Direction()); agreeing < 3 {
			return false, fmt.Sprintf("consensus: only %d confirming analyses", agreeing)
		}
	case domain.StrategyRiskAdjusted:
		if vol := record.SubAnalyses.Volatility(); vol != nil && vol.Level == domain.VolExtreme {
			return false, "risk_adjusted: extreme volatility"
		}
	case domain.StrategyMain:
		// Only the confidence floor, applied below for every strategy.
	}

	if record.Confidence < sim.Thresholds.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below simulation floor %.2f",
			record.Confidence, sim.Thresholds.MinConfidence)
	}
	return true, ""
}

// timeBasedDispatch maps the local hour to the sub-strategy the
// TIME_BASED simulation runs in that slot.
func timeBasedDispatch(hour int) domain.StrategyType {
	switch {
	case hour >= 9 && hour < 11:
		return domain.StrategyMomentum
	case hour >= 11 && hour < 14:
		return domain.StrategyMeanReversion
	case hour >= 14 && hour < 17:
		return domain.StrategyConservative
	}
	return domain.StrategyConservative
}
