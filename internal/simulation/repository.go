// Package simulation implements the paper-trading engine: per-simulation
// workers that open positions from analysis records, monitor them on
// every tick, and account in decimal grams and TL.
package simulation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
)

// Repository persists simulations, their per-timeframe capital, their
// positions, and the daily roll-ups.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new simulation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "simulation").Logger(),
	}
}

// Create stores a simulation and earmarks its capital evenly across the
// timeframes, atomically.
func (r *Repository) Create(sim *domain.Simulation) error {
	costs, err := json.Marshal(sim.Costs)
	if err != nil {
		return fmt.Errorf("failed to encode costs: %w", err)
	}
	thresholds, err := json.Marshal(sim.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}

	perTF := domain.RoundGrams(sim.InitialCapital.Div(decimal.NewFromInt(int64(len(domain.Timeframes)))))

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO simulations (id, name, strategy_type, status, pause_reason, initial_capital, costs_json, thresholds_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sim.ID, sim.Name, string(sim.StrategyType), string(sim.Status), sim.PauseReason,
			sim.InitialCapital.String(), string(costs), string(thresholds), sim.CreatedAt.UTC().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert simulation: %w", err)
		}

		for _, tf := range domain.Timeframes {
			_, err := tx.Exec(`
				INSERT INTO sim_capital (sim_id, timeframe, balance) VALUES (?, ?, ?)
			`, sim.ID, string(tf), perTF.String())
			if err != nil {
				return fmt.Errorf("failed to earmark capital for %s: %w", tf, err)
			}
		}
		return nil
	})
}

// List returns all simulations, newest first.
func (r *Repository) List() ([]*domain.Simulation, error) {
	rows, err := r.db.Query(`
		SELECT id, name, strategy_type, status, pause_reason, initial_capital, costs_json, thresholds_json, created_at
		FROM simulations
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}
	defer rows.Close()

	var sims []*domain.Simulation
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skipping unreadable simulation row")
			continue
		}
		sims = append(sims, sim)
	}
	return sims, rows.Err()
}

// Get returns one simulation by id, or nil.
func (r *Repository) Get(id string) (*domain.Simulation, error) {
	rows, err := r.db.Query(`
		SELECT id, name, strategy_type, status, pause_reason, initial_capital, costs_json, thresholds_json, created_at
		FROM simulations
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch simulation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSimulation(rows)
}

func scanSimulation(rows *sql.Rows) (*domain.Simulation, error) {
	var sim domain.Simulation
	var strategyType, status, capital, costs, thresholds string
	var pauseReason sql.NullString
	var createdAt int64
	if err := rows.Scan(&sim.ID, &sim.Name, &strategyType, &status, &pauseReason, &capital, &costs, &thresholds, &createdAt); err != nil {
		return nil, err
	}
	sim.StrategyType = domain.StrategyType(strategyType)
	sim.Status = domain.SimulationStatus(status)
	sim.PauseReason = pauseReason.String
	sim.CreatedAt = time.Unix(createdAt, 0).UTC()

	var err error
	if sim.InitialCapital, err = decimal.NewFromString(capital); err != nil {
		return nil, fmt.Errorf("bad capital %q: %w", capital, err)
	}
	if err := json.Unmarshal([]byte(costs), &sim.Costs); err != nil {
		return nil, fmt.Errorf("bad costs json: %w", err)
	}
	if err := json.Unmarshal([]byte(thresholds), &sim.Thresholds); err != nil {
		return nil, fmt.Errorf("bad thresholds json: %w", err)
	}
	return &sim, nil
}

// SetStatus transitions a simulation's lifecycle state.
func (r *Repository) SetStatus(id string, status domain.SimulationStatus, reason string) error {
	err := database.WithRetry(func() error {
		_, err := r.db.Exec(`UPDATE simulations SET status = ?, pause_reason = ? WHERE id = ?`,
			string(status), reason, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set simulation status: %w", err)
	}
	return nil
}

// Capital returns the per-timeframe balances of a simulation.
func (r *Repository) Capital(simID string) (map[domain.Timeframe]decimal.Decimal, error) {
	rows, err := r.db.Query(`SELECT timeframe, balance FROM sim_capital WHERE sim_id = ?`, simID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capital: %w", err)
	}
	defer rows.Close()

	balances := make(map[domain.Timeframe]decimal.Decimal)
	for rows.Next() {
		var tf, balance string
		if err := rows.Scan(&tf, &balance); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("bad balance %q: %w", balance, err)
		}
		balances[domain.Timeframe(tf)] = d
	}
	return balances, rows.Err()
}

// OpenPosition atomically debits the timeframe's capital and creates the
// position row.
func (r *Repository) OpenPosition(pos *domain.Position, newBalance decimal.Decimal) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sim_capital SET balance = ? WHERE sim_id = ? AND timeframe = ?`,
			newBalance.String(), pos.SimID, string(pos.Timeframe))
		if err != nil {
			return fmt.Errorf("failed to debit capital: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("no capital row for %s/%s", pos.SimID, pos.Timeframe)
		}

		_, err = tx.Exec(`
			INSERT INTO sim_positions
				(id, sim_id, timeframe, type, size_grams, entry_price, entry_ts,
				 entry_confidence, entry_atr, stop_loss, take_profit,
				 trailing_stop, best_price, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			pos.ID, pos.SimID, string(pos.Timeframe), string(pos.Type),
			pos.SizeGrams.String(), pos.EntryPrice.String(), pos.EntryTime.UTC().Unix(),
			pos.EntryConfidence, pos.EntryATR,
			pos.StopLoss.String(), pos.TakeProfit.String(),
			pos.TrailingStop.String(), pos.BestPrice.String(), string(domain.PositionOpen),
		)
		if err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
		return nil
	})
}

// ClosePosition atomically finalizes the position row and credits the
// returned grams back to the timeframe's capital.
func (r *Repository) ClosePosition(pos *domain.Position, newBalance decimal.Decimal) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sim_positions SET
				status = ?, exit_price = ?, exit_ts = ?, exit_reason = ?,
				gross_pnl_tl = ?, gross_pnl_grams = ?, costs_tl = ?,
				net_pnl_tl = ?, net_pnl_grams = ?,
				trailing_stop = ?, best_price = ?
			WHERE id = ? AND status = ?
		`,
			string(domain.PositionClosed), pos.ExitPrice.String(), pos.ExitTime.UTC().Unix(), pos.ExitReason,
			pos.GrossPnLTL.String(), pos.GrossPnLGrams.String(), pos.CostsTL.String(),
			pos.NetPnLTL.String(), pos.NetPnLGrams.String(),
			pos.TrailingStop.String(), pos.BestPrice.String(),
			pos.ID, string(domain.PositionOpen),
		)
		if err != nil {
			return fmt.Errorf("failed to close position: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("position %s is not open", pos.ID)
		}

		_, err = tx.Exec(`UPDATE sim_capital SET balance = ? WHERE sim_id = ? AND timeframe = ?`,
			newBalance.String(), pos.SimID, string(pos.Timeframe))
		if err != nil {
			return fmt.Errorf("failed to credit capital: %w", err)
		}
		return nil
	})
}

// UpdateTrailing persists trailing-stop progress on an open position.
func (r *Repository) UpdateTrailing(pos *domain.Position) error {
	err := database.WithRetry(func() error {
		_, err := r.db.Exec(`UPDATE sim_positions SET trailing_stop = ?, best_price = ? WHERE id = ?`,
			pos.TrailingStop.String(), pos.BestPrice.String(), pos.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update trailing stop: %w", err)
	}
	return nil
}

// OpenPositions returns the open positions of a simulation.
func (r *Repository) OpenPositions(simID string) ([]*domain.Position, error) {
	return r.queryPositions(`
		SELECT `+positionColumns+`
		FROM sim_positions
		WHERE sim_id = ? AND status = ?
		ORDER BY entry_ts DESC
	`, simID, string(domain.PositionOpen))
}

// ClosedPositionsSince returns positions of a simulation closed at or
// after ts, newest first.
func (r *Repository) ClosedPositionsSince(simID string, ts time.Time) ([]*domain.Position, error) {
	return r.queryPositions(`
		SELECT `+positionColumns+`
		FROM sim_positions
		WHERE sim_id = ? AND status = ? AND exit_ts >= ?
		ORDER BY exit_ts DESC
	`, simID, string(domain.PositionClosed), ts.UTC().Unix())
}

// Positions returns all positions of a simulation, newest first, capped.
func (r *Repository) Positions(simID string, limit int) ([]*domain.Position, error) {
	return r.queryPositions(`
		SELECT `+positionColumns+`
		FROM sim_positions
		WHERE sim_id = ?
		ORDER BY entry_ts DESC
		LIMIT ?
	`, simID, limit)
}

const positionColumns = `
	id, sim_id, timeframe, type, size_grams, entry_price, entry_ts,
	entry_confidence, entry_atr, stop_loss, take_profit,
	trailing_stop, best_price, status,
	exit_price, exit_ts, exit_reason,
	gross_pnl_tl, gross_pnl_grams, costs_tl, net_pnl_tl, net_pnl_grams`

func (r *Repository) queryPositions(query string, args ...any) ([]*domain.Position, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skipping unreadable position row")
			continue
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func scanPosition(rows *sql.Rows) (*domain.Position, error) {
	var pos domain.Position
	var tf, posType, status string
	var size, entryPrice, stopLoss, takeProfit string
	var entryTs int64
	var trailing, best, exitPrice, exitReason sql.NullString
	var exitTs sql.NullInt64
	var grossTL, grossGrams, costs, netTL, netGrams sql.NullString

	if err := rows.Scan(
		&pos.ID, &pos.SimID, &tf, &posType, &size, &entryPrice, &entryTs,
		&pos.EntryConfidence, &pos.EntryATR, &stopLoss, &takeProfit,
		&trailing, &best, &status,
		&exitPrice, &exitTs, &exitReason,
		&grossTL, &grossGrams, &costs, &netTL, &netGrams,
	); err != nil {
		return nil, err
	}

	pos.Timeframe = domain.Timeframe(tf)
	pos.Type = domain.PositionType(posType)
	pos.Status = domain.PositionStatus(status)
	pos.EntryTime = time.Unix(entryTs, 0).UTC()
	pos.ExitReason = exitReason.String
	if exitTs.Valid {
		pos.ExitTime = time.Unix(exitTs.Int64, 0).UTC()
	}

	var err error
	if pos.SizeGrams, err = decimal.NewFromString(size); err != nil {
		return nil, fmt.Errorf("bad size %q: %w", size, err)
	}
	if pos.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return nil, fmt.Errorf("bad entry price %q: %w", entryPrice, err)
	}
	if pos.StopLoss, err = decimal.NewFromString(stopLoss); err != nil {
		return nil, fmt.Errorf("bad stop loss %q: %w", stopLoss, err)
	}
	if pos.TakeProfit, err = decimal.NewFromString(takeProfit); err != nil {
		return nil, fmt.Errorf("bad take profit %q: %w", takeProfit, err)
	}
	pos.TrailingStop = nullDecimal(trailing)
	pos.BestPrice = nullDecimal(best)
	pos.ExitPrice = nullDecimal(exitPrice)
	pos.GrossPnLTL = nullDecimal(grossTL)
	pos.GrossPnLGrams = nullDecimal(grossGrams)
	pos.CostsTL = nullDecimal(costs)
	pos.NetPnLTL = nullDecimal(netTL)
	pos.NetPnLGrams = nullDecimal(netGrams)
	return &pos, nil
}

func nullDecimal(s sql.NullString) decimal.Decimal {
	if !s.Valid || s.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// UpsertDaily stores one daily performance roll-up.
func (r *Repository) UpsertDaily(perf *domain.DailyPerformance) error {
	query := `
		INSERT INTO sim_daily (sim_id, date, starting_capital, ending_capital, closed_trades, wins, losses, pnl_grams, pnl_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sim_id, date) DO UPDATE SET
			ending_capital = excluded.ending_capital,
			closed_trades = excluded.closed_trades,
			wins = excluded.wins,
			losses = excluded.losses,
			pnl_grams = excluded.pnl_grams,
			pnl_pct = excluded.pnl_pct
	`
	err := database.WithRetry(func() error {
		_, err := r.db.Exec(query,
			perf.SimID, perf.Date,
			perf.StartingCapital.String(), perf.EndingCapital.String(),
			perf.ClosedTrades, perf.Wins, perf.Losses,
			perf.DailyPnLGrams.String(), perf.DailyPnLPct.String(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert daily performance: %w", err)
	}
	return nil
}

// DailyHistory returns a simulation's daily roll-ups, newest first.
func (r *Repository) DailyHistory(simID string, limit int) ([]*domain.DailyPerformance, error) {
	rows, err := r.db.Query(`
		SELECT sim_id, date, starting_capital, ending_capital, closed_trades, wins, losses, pnl_grams, pnl_pct
		FROM sim_daily
		WHERE sim_id = ?
		ORDER BY date DESC
		LIMIT ?
	`, simID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch daily history: %w", err)
	}
	defer rows.Close()

	var history []*domain.DailyPerformance
	for rows.Next() {
		var perf domain.DailyPerformance
		var starting, ending, pnlGrams, pnlPct string
		if err := rows.Scan(&perf.SimID, &perf.Date, &starting, &ending,
			&perf.ClosedTrades, &perf.Wins, &perf.Losses, &pnlGrams, &pnlPct); err != nil {
			r.log.Warn().Err(err).Msg("Skipping unreadable daily row")
			continue
		}
		perf.StartingCapital, _ = decimal.NewFromString(starting)
		perf.EndingCapital, _ = decimal.NewFromString(ending)
		perf.DailyPnLGrams, _ = decimal.NewFromString(pnlGrams)
		perf.DailyPnLPct, _ = decimal.NewFromString(pnlPct)
		history = append(history, &perf)
	}
	return history, rows.Err()
}
