package simulation

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
)

func quietLog() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func setupStateRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(database.SchemaFor(database.ProfileStandard))
	require.NoError(t, err)
	return NewRepository(db, quietLog())
}

func TestCreateSplitsCapitalAcrossTimeframes(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	balances, err := repo.Capital(sim.ID)
	require.NoError(t, err)
	require.Len(t, balances, len(domain.Timeframes))
	for _, tf := range domain.Timeframes {
		assertDecimal(t, "250", balances[tf])
	}

	got, err := repo.Get(sim.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sim.Name, got.Name)
	assert.Equal(t, domain.StrategyMain, got.StrategyType)
	assert.Equal(t, domain.SimActive, got.Status)
	assertDecimal(t, "1000", got.InitialCapital)
	assert.True(t, sim.Costs.SpreadTL.Equal(got.Costs.SpreadTL))
	assert.InDelta(t, 0.35, got.Thresholds.MinConfidence, 1e-9)
	assert.Equal(t, sim.CreatedAt, got.CreatedAt)
}

func TestGetUnknownSimulation(t *testing.T) {
	repo := setupStateRepo(t)
	got, err := repo.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListNewestFirst(t *testing.T) {
	repo := setupStateRepo(t)

	older := simFor(domain.StrategyMain)
	newer := simFor(domain.StrategyMomentum)
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.Create(older))
	require.NoError(t, repo.Create(newer))

	sims, err := repo.List()
	require.NoError(t, err)
	require.Len(t, sims, 2)
	assert.Equal(t, newer.ID, sims[0].ID)
	assert.Equal(t, older.ID, sims[1].ID)
}

func TestSetStatus(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	require.NoError(t, repo.SetStatus(sim.ID, domain.SimPaused, "manual pause"))

	got, err := repo.Get(sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimPaused, got.Status)
	assert.Equal(t, "manual pause", got.PauseReason)
}

func openTestPosition(sim *domain.Simulation) *domain.Position {
	return &domain.Position{
		ID:              "pos-1",
		SimID:           sim.ID,
		Timeframe:       domain.TF1h,
		Type:            domain.PositionLong,
		SizeGrams:       d("50"),
		EntryPrice:      d("3471"),
		EntryTime:       time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC),
		EntryConfidence: 0.6,
		EntryATR:        10,
		StopLoss:        d("3440"),
		TakeProfit:      d("3515"),
		BestPrice:       d("3471"),
		Status:          domain.PositionOpen,
	}
}

func TestOpenAndClosePosition(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	pos := openTestPosition(sim)
	require.NoError(t, repo.OpenPosition(pos, d("200")))

	balances, err := repo.Capital(sim.ID)
	require.NoError(t, err)
	assertDecimal(t, "200", balances[domain.TF1h])
	assertDecimal(t, "250", balances[domain.TF4h])

	open, err := repo.OpenPositions(sim.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pos.ID, open[0].ID)
	assert.Equal(t, domain.PositionLong, open[0].Type)
	assertDecimal(t, "50", open[0].SizeGrams)
	assertDecimal(t, "3471", open[0].EntryPrice)
	assertDecimal(t, "3440", open[0].StopLoss)
	assert.Equal(t, pos.EntryTime, open[0].EntryTime)
	assert.True(t, open[0].TrailingStop.IsZero())

	// Settle the trade and close it with the credited balance.
	credit := settle(pos, d("3499"), d("3500"), sim.Costs)
	pos.ExitTime = pos.EntryTime.Add(2 * time.Hour)
	pos.ExitReason = domain.ExitTakeProfit
	pos.Status = domain.PositionClosed
	require.NoError(t, repo.ClosePosition(pos, domain.RoundGrams(d("200").Add(credit))))

	balances, err = repo.Capital(sim.ID)
	require.NoError(t, err)
	assert.True(t, balances[domain.TF1h].GreaterThan(d("250")), "winning trade grows the balance: %s", balances[domain.TF1h])

	open, err = repo.OpenPositions(sim.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := repo.ClosedPositionsSince(sim.ID, pos.EntryTime)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitTakeProfit, closed[0].ExitReason)
	assert.Equal(t, pos.ExitTime, closed[0].ExitTime)
	assertDecimal(t, "3499", closed[0].ExitPrice)
	assert.True(t, closed[0].NetPnLTL.IsPositive())
	assert.True(t, pos.NetPnLGrams.Equal(closed[0].NetPnLGrams))
}

func TestClosePositionTwiceFails(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	pos := openTestPosition(sim)
	require.NoError(t, repo.OpenPosition(pos, d("200")))

	settle(pos, d("3499"), d("3500"), sim.Costs)
	pos.ExitTime = pos.EntryTime.Add(time.Hour)
	pos.ExitReason = domain.ExitTakeProfit
	require.NoError(t, repo.ClosePosition(pos, d("252")))

	err := repo.ClosePosition(pos, d("254"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not open")

	// The double close must not credit capital again.
	balances, err := repo.Capital(sim.ID)
	require.NoError(t, err)
	assertDecimal(t, "252", balances[domain.TF1h])
}

func TestOpenPositionWithoutCapitalRow(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	pos := openTestPosition(sim)
	pos.SimID = "ghost"
	err := repo.OpenPosition(pos, d("200"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capital row")
}

func TestUpdateTrailingPersists(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	pos := openTestPosition(sim)
	require.NoError(t, repo.OpenPosition(pos, d("200")))

	pos.BestPrice = d("3505")
	pos.TrailingStop = d("3494.8")
	require.NoError(t, repo.UpdateTrailing(pos))

	open, err := repo.OpenPositions(sim.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assertDecimal(t, "3494.8", open[0].TrailingStop)
	assertDecimal(t, "3505", open[0].BestPrice)
}

func TestPositionsLimit(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	base := time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC)
	for i, tf := range []domain.Timeframe{domain.TF15m, domain.TF1h, domain.TF4h} {
		pos := openTestPosition(sim)
		pos.ID = string(tf) + "-pos"
		pos.Timeframe = tf
		pos.EntryTime = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.OpenPosition(pos, d("200")))
	}

	positions, err := repo.Positions(sim.ID, 2)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "4h-pos", positions[0].ID, "newest first")
}

func TestUpsertDaily(t *testing.T) {
	repo := setupStateRepo(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, repo.Create(sim))

	perf := &domain.DailyPerformance{
		SimID:           sim.ID,
		Date:            "2026-08-24",
		StartingCapital: d("999.5"),
		EndingCapital:   d("1001"),
		ClosedTrades:    2,
		Wins:            1,
		Losses:          1,
		DailyPnLGrams:   d("1.5"),
		DailyPnLPct:     d("0.15"),
	}
	require.NoError(t, repo.UpsertDaily(perf))

	// A re-roll of the same day replaces the row.
	perf.ClosedTrades = 3
	perf.Wins = 2
	perf.EndingCapital = d("1003")
	perf.DailyPnLGrams = d("3.5")
	require.NoError(t, repo.UpsertDaily(perf))

	earlier := &domain.DailyPerformance{
		SimID: sim.ID, Date: "2026-08-23",
		StartingCapital: d("1000"), EndingCapital: d("999.5"),
		ClosedTrades: 1, Losses: 1,
		DailyPnLGrams: d("-0.5"), DailyPnLPct: d("-0.05"),
	}
	require.NoError(t, repo.UpsertDaily(earlier))

	history, err := repo.DailyHistory(sim.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-08-24", history[0].Date, "newest first")
	assert.Equal(t, 3, history[0].ClosedTrades)
	assert.Equal(t, 2, history[0].Wins)
	assertDecimal(t, "3.5", history[0].DailyPnLGrams)
	assertDecimal(t, "-0.5", history[1].DailyPnLGrams)

	capped, err := repo.DailyHistory(sim.ID, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
}
