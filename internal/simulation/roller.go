package simulation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
)

// Roller computes the daily performance roll-up for every simulation at
// local midnight, and on demand.
type Roller struct {
	repo *Repository
	bus  *events.Bus
	zone *time.Location
	log  zerolog.Logger
	cron *cron.Cron
}

// NewRoller creates the daily roller in the given zone.
func NewRoller(repo *Repository, bus *events.Bus, zone *time.Location, log zerolog.Logger) *Roller {
	return &Roller{
		repo: repo,
		bus:  bus,
		zone: zone,
		log:  log.With().Str("job", "daily_roll").Logger(),
		cron: cron.New(cron.WithLocation(zone)),
	}
}

// Start schedules the roll a few minutes past local midnight, covering
// the day that just ended.
func (r *Roller) Start() error {
	_, err := r.cron.AddFunc("5 0 * * *", func() {
		yesterday := time.Now().In(r.zone).AddDate(0, 0, -1)
		if err := r.RollAll(yesterday); err != nil {
			r.log.Error().Err(err).Msg("Daily roll failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule daily roll: %w", err)
	}
	r.cron.Start()
	r.log.Info().Str("zone", r.zone.String()).Msg("Daily roll scheduled")
	return nil
}

// Stop halts the schedule, waiting for a running roll to finish.
func (r *Roller) Stop() {
	<-r.cron.Stop().Done()
}

// RollAll rolls every simulation for the trading day containing ts.
func (r *Roller) RollAll(ts time.Time) error {
	sims, err := r.repo.List()
	if err != nil {
		return fmt.Errorf("failed to list simulations: %w", err)
	}
	for _, sim := range sims {
		if err := r.Roll(sim, ts); err != nil {
			r.log.Error().Err(err).Str("sim", sim.Name).Msg("Roll failed for simulation")
		}
	}
	return nil
}

// Roll computes and persists one simulation's roll-up for the trading
// day containing ts, then publishes it.
func (r *Roller) Roll(sim *domain.Simulation, ts time.Time) error {
	local := ts.In(r.zone)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.zone)
	date := dayStart.Format("2006-01-02")

	closed, err := r.repo.ClosedPositionsSince(sim.ID, dayStart)
	if err != nil {
		return fmt.Errorf("failed to load closed positions: %w", err)
	}

	// Positions closed after the day's end belong to the next roll.
	dayEnd := dayStart.AddDate(0, 0, 1)
	perf := &domain.DailyPerformance{SimID: sim.ID, Date: date}
	for _, pos := range closed {
		if !pos.ExitTime.Before(dayEnd) {
			continue
		}
		perf.ClosedTrades++
		if pos.NetPnLGrams.IsPositive() {
			perf.Wins++
		} else if pos.NetPnLGrams.IsNegative() {
			perf.Losses++
		}
		perf.DailyPnLGrams = perf.DailyPnLGrams.Add(pos.NetPnLGrams)
	}
	perf.DailyPnLGrams = domain.RoundGrams(perf.DailyPnLGrams)

	ending, err := r.endingCapital(sim.ID)
	if err != nil {
		return err
	}
	perf.EndingCapital = ending
	perf.StartingCapital = domain.RoundGrams(ending.Sub(perf.DailyPnLGrams))
	if perf.StartingCapital.IsPositive() {
		pct := perf.DailyPnLGrams.Div(perf.StartingCapital).Mul(decimal.NewFromInt(100))
		perf.DailyPnLPct = pct.RoundBank(2)
	}

	if err := r.repo.UpsertDaily(perf); err != nil {
		return err
	}
	r.bus.Publish("simulation", &events.DailyRollData{Performance: perf})

	r.log.Info().
		Str("sim", sim.Name).
		Str("date", date).
		Int("trades", perf.ClosedTrades).
		Str("pnl_grams", perf.DailyPnLGrams.String()).
		Msg("Daily performance rolled")
	return nil
}

// endingCapital is free capital plus the grams allocated to open
// positions, at entry valuation.
func (r *Roller) endingCapital(simID string) (decimal.Decimal, error) {
	balances, err := r.repo.Capital(simID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load capital: %w", err)
	}
	total := decimal.Zero
	for _, balance := range balances {
		total = total.Add(balance)
	}
	open, err := r.repo.OpenPositions(simID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load open positions: %w", err)
	}
	for _, pos := range open {
		total = total.Add(pos.SizeGrams)
	}
	return domain.RoundGrams(total), nil
}
