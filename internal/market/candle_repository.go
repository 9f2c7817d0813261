package market

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
)

// CandleRepository handles OHLC candle persistence. The aggregator is the
// sole writer; everyone else reads point-in-time snapshots.
type CandleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCandleRepository creates a new candle repository.
func NewCandleRepository(db *sql.DB, log zerolog.Logger) *CandleRepository {
	return &CandleRepository{
		db:  db,
		log: log.With().Str("repo", "candle").Logger(),
	}
}

const candleColumns = `interval, ts_open, open, high, low, close, tick_count, sealed`

// UpsertCandle replaces the candle at (interval, ts_open). The aggregator
// upserts open candles repeatedly and once more to seal them.
func (r *CandleRepository) UpsertCandle(c domain.Candle) error {
	query := `
		INSERT INTO candles (interval, ts_open, open, high, low, close, tick_count, sealed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interval, ts_open) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			tick_count = excluded.tick_count,
			sealed = excluded.sealed
	`
	err := database.WithRetry(func() error {
		_, err := r.db.Exec(query,
			string(c.Interval),
			c.TsOpen.UTC().Unix(),
			fmtPrice(c.Open),
			fmtPrice(c.High),
			fmtPrice(c.Low),
			fmtPrice(c.Close),
			c.TickCount,
			boolToInt(c.Sealed),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert candle %s@%d: %w", c.Interval, c.TsOpen.Unix(), err)
	}
	return nil
}

// FetchCandles returns up to count candles for the interval ending at end
// (zero end means "up to now"), newest last.
func (r *CandleRepository) FetchCandles(interval domain.Timeframe, count int, end time.Time) ([]domain.Candle, error) {
	endTs := time.Now().UTC().Unix()
	if !end.IsZero() {
		endTs = end.UTC().Unix()
	}

	query := `
		SELECT ` + candleColumns + `
		FROM candles
		WHERE interval = ? AND ts_open <= ?
		ORDER BY ts_open DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, string(interval), endTs, count)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skipping unreadable candle row")
			continue
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to newest-last ordering.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// OpenCandle returns the unsealed candle for the interval, or nil.
func (r *CandleRepository) OpenCandle(interval domain.Timeframe) (*domain.Candle, error) {
	query := `
		SELECT ` + candleColumns + `
		FROM candles
		WHERE interval = ? AND sealed = 0
		ORDER BY ts_open DESC
		LIMIT 1
	`
	rows, err := r.db.Query(query, string(interval))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open candle: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanCandle(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LatestSealed returns the most recent sealed candle for the interval,
// or nil when none exists.
func (r *CandleRepository) LatestSealed(interval domain.Timeframe) (*domain.Candle, error) {
	query := `
		SELECT ` + candleColumns + `
		FROM candles
		WHERE interval = ? AND sealed = 1
		ORDER BY ts_open DESC
		LIMIT 1
	`
	rows, err := r.db.Query(query, string(interval))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest sealed candle: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanCandle(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCandle(rows *sql.Rows) (domain.Candle, error) {
	var c domain.Candle
	var interval string
	var tsOpen int64
	var open, high, low, closeP string
	var sealed int
	if err := rows.Scan(&interval, &tsOpen, &open, &high, &low, &closeP, &c.TickCount, &sealed); err != nil {
		return c, err
	}
	c.Interval = domain.Timeframe(interval)
	c.TsOpen = time.Unix(tsOpen, 0).UTC()
	c.Open = parsePrice(open)
	c.High = parsePrice(high)
	c.Low = parsePrice(low)
	c.Close = parsePrice(closeP)
	c.Sealed = sealed == 1
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
