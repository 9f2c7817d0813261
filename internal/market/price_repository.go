// Package market contains the tick ingestion port, the candle
// aggregator, and their repositories.
package market

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
)

// PriceRepository handles the append-only tick log.
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "price").Logger(),
	}
}

// fmtPrice renders a price with 4 fractional digits. Prices are stored as
// text so no binary-float rounding leaks into the log.
func fmtPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// AppendTick inserts a quote. Idempotent by (ts, gram_gold): replaying
// the same quote is a no-op.
func (r *PriceRepository) AppendTick(q domain.PriceQuote) error {
	query := `
		INSERT OR IGNORE INTO price_data (ts, gram_gold, ounce_usd, usd_try, ounce_try)
		VALUES (?, ?, ?, ?, ?)
	`
	err := database.WithRetry(func() error {
		_, err := r.db.Exec(query,
			q.Timestamp.UTC().Unix(),
			fmtPrice(q.GramGold),
			fmtPrice(q.OunceUSD),
			fmtPrice(q.USDTRY),
			fmtPrice(q.OunceTRY),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append tick: %w", err)
	}
	return nil
}

// FetchTicks returns quotes in [since, until], ascending by timestamp.
func (r *PriceRepository) FetchTicks(since, until time.Time) ([]domain.PriceQuote, error) {
	query := `
		SELECT ts, gram_gold, ounce_usd, usd_try, ounce_try
		FROM price_data
		WHERE ts >= ? AND ts <= ? AND compacted = 0
		ORDER BY ts ASC
	`
	rows, err := r.db.Query(query, since.UTC().Unix(), until.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticks: %w", err)
	}
	defer rows.Close()

	var ticks []domain.PriceQuote
	for rows.Next() {
		var ts int64
		var gram, ounce, usdtry, ouncetry string
		if err := rows.Scan(&ts, &gram, &ounce, &usdtry, &ouncetry); err != nil {
			// A corrupt row must not halt the read loop.
			r.log.Warn().Err(err).Msg("Skipping unreadable tick row")
			continue
		}
		ticks = append(ticks, domain.PriceQuote{
			Timestamp: time.Unix(ts, 0).UTC(),
			GramGold:  parsePrice(gram),
			OunceUSD:  parsePrice(ounce),
			USDTRY:    parsePrice(usdtry),
			OunceTRY:  parsePrice(ouncetry),
		})
	}
	return ticks, rows.Err()
}

// LatestTick returns the most recent quote, or nil when the log is empty.
func (r *PriceRepository) LatestTick() (*domain.PriceQuote, error) {
	query := `
		SELECT ts, gram_gold, ounce_usd, usd_try, ounce_try
		FROM price_data
		ORDER BY ts DESC
		LIMIT 1
	`
	var ts int64
	var gram, ounce, usdtry, ouncetry string
	err := r.db.QueryRow(query).Scan(&ts, &gram, &ounce, &usdtry, &ouncetry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest tick: %w", err)
	}
	return &domain.PriceQuote{
		Timestamp: time.Unix(ts, 0).UTC(),
		GramGold:  parsePrice(gram),
		OunceUSD:  parsePrice(ounce),
		USDTRY:    parsePrice(usdtry),
		OunceTRY:  parsePrice(ouncetry),
	}, nil
}
