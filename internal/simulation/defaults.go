package simulation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/domain"
)

// SeedDefaults creates one simulation per strategy type when the table
// is empty (first startup). Each gets the default capital split equally
// across the timeframes.
func (e *Engine) SeedDefaults() error {
	existing, err := e.repo.List()
	if err != nil {
		return fmt.Errorf("failed to check existing simulations: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := e.cfg.Simulation
	for _, strategy := range domain.StrategyTypes {
		sim := &domain.Simulation{
			ID:             uuid.NewString(),
			Name:           defaultName(strategy),
			StrategyType:   strategy,
			Status:         domain.SimActive,
			InitialCapital: decimal.NewFromFloat(defaults.InitialCapital),
			Costs:          defaultCosts(defaults),
			Thresholds: domain.SimulationThresholds{
				MinConfidence:   defaults.MinConfidence,
				MaxRiskPct:      defaults.MaxRiskPct,
				MaxDailyLossPct: defaults.MaxDailyLossPct,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := e.repo.Create(sim); err != nil {
			return fmt.Errorf("failed to seed %s simulation: %w", strategy, err)
		}
		e.log.Info().Str("sim", sim.Name).Msg("Seeded default simulation")
	}
	return nil
}

func defaultCosts(d config.SimulationDefaults) domain.SimulationCosts {
	return domain.SimulationCosts{
		SpreadTL:      decimal.NewFromFloat(d.SpreadTL),
		CommissionPct: decimal.NewFromFloat(d.CommissionPct),
	}
}

func defaultName(strategy domain.StrategyType) string {
	return strings.ToLower(string(strategy))
}
