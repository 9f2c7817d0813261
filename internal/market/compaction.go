package market

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/goldpulse/internal/database"
)

// MinuteAggregate is the compacted form of one minute of raw ticks,
// stored msgpack-encoded alongside the queryable columns.
type MinuteAggregate struct {
	TsOpen    int64   `msgpack:"ts_open"`
	Open      float64 `msgpack:"open"`
	High      float64 `msgpack:"high"`
	Low       float64 `msgpack:"low"`
	Close     float64 `msgpack:"close"`
	TickCount int     `msgpack:"tick_count"`
	OunceUSD  float64 `msgpack:"ounce_usd"`
	USDTRY    float64 `msgpack:"usd_try"`
}

// Compactor replaces raw ticks older than the retention window with
// per-minute aggregates. Runs off-hours on a cron schedule; safe to rerun.
type Compactor struct {
	db            *sql.DB
	retentionDays int
	cron          *cron.Cron
	log           zerolog.Logger
}

// NewCompactor creates the tick-log compactor.
func NewCompactor(db *sql.DB, retentionDays int, log zerolog.Logger) *Compactor {
	return &Compactor{
		db:            db,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "compaction").Logger(),
	}
}

// Start schedules the daily run.
func (c *Compactor) Start() error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc("30 3 * * *", func() {
		if err := c.Run(time.Now()); err != nil {
			c.log.Error().Err(err).Msg("Compaction run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule compaction: %w", err)
	}
	c.cron.Start()
	c.log.Info().Int("retention_days", c.retentionDays).Msg("Compaction scheduled")
	return nil
}

// Stop cancels the schedule, waiting for a running job to finish.
func (c *Compactor) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

// Run compacts all raw ticks older than the retention window relative to
// now. Each affected minute collapses into a single aggregate row.
func (c *Compactor) Run(now time.Time) error {
	cutoff := now.UTC().AddDate(0, 0, -c.retentionDays).Unix()

	rows, err := c.db.Query(`
		SELECT ts, gram_gold, ounce_usd, usd_try
		FROM price_data
		WHERE ts < ? AND compacted = 0
		ORDER BY ts ASC
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to select ticks for compaction: %w", err)
	}

	type tick struct {
		ts                  int64
		gram, ounce, usdtry float64
	}
	buckets := make(map[int64][]tick)
	var order []int64
	for rows.Next() {
		var t tick
		var gram, ounce, usdtry string
		if err := rows.Scan(&t.ts, &gram, &ounce, &usdtry); err != nil {
			c.log.Warn().Err(err).Msg("Skipping unreadable tick during compaction")
			continue
		}
		t.gram = parsePrice(gram)
		t.ounce = parsePrice(ounce)
		t.usdtry = parsePrice(usdtry)
		minute := t.ts - t.ts%60
		if _, seen := buckets[minute]; !seen {
			order = append(order, minute)
		}
		buckets[minute] = append(buckets[minute], t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(order) == 0 {
		return nil
	}

	compacted := 0
	for _, minute := range order {
		ticks := buckets[minute]
		agg := MinuteAggregate{
			TsOpen:    minute,
			Open:      ticks[0].gram,
			High:      ticks[0].gram,
			Low:       ticks[0].gram,
			Close:     ticks[len(ticks)-1].gram,
			TickCount: len(ticks),
			OunceUSD:  ticks[len(ticks)-1].ounce,
			USDTRY:    ticks[len(ticks)-1].usdtry,
		}
		for _, t := range ticks {
			if t.gram > agg.High {
				agg.High = t.gram
			}
			if t.gram < agg.Low {
				agg.Low = t.gram
			}
		}

		payload, err := msgpack.Marshal(&agg)
		if err != nil {
			return fmt.Errorf("failed to encode minute aggregate: %w", err)
		}

		err = database.WithTransaction(c.db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`DELETE FROM price_data WHERE ts >= ? AND ts < ? AND compacted = 0`, minute, minute+60); err != nil {
				return err
			}
			_, err := tx.Exec(`
				INSERT OR REPLACE INTO price_data (ts, gram_gold, ounce_usd, usd_try, ounce_try, compacted, payload)
				VALUES (?, ?, ?, ?, ?, 1, ?)
			`,
				minute,
				fmtPrice(agg.Close),
				fmtPrice(agg.OunceUSD),
				fmtPrice(agg.USDTRY),
				fmtPrice(agg.OunceUSD*agg.USDTRY),
				payload,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to compact minute %d: %w", minute, err)
		}
		compacted++
	}

	c.log.Info().
		Int("minutes", compacted).
		Time("cutoff", time.Unix(cutoff, 0).UTC()).
		Msg("Tick log compacted")
	return nil
}

// FetchAggregates decodes compacted minute aggregates in [since, until].
func (c *Compactor) FetchAggregates(since, until time.Time) ([]MinuteAggregate, error) {
	rows, err := c.db.Query(`
		SELECT payload FROM price_data
		WHERE ts >= ? AND ts <= ? AND compacted = 1
		ORDER BY ts ASC
	`, since.UTC().Unix(), until.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []MinuteAggregate
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			c.log.Warn().Err(err).Msg("Skipping unreadable aggregate row")
			continue
		}
		var agg MinuteAggregate
		if err := msgpack.Unmarshal(payload, &agg); err != nil {
			c.log.Warn().Err(err).Msg("Skipping undecodable aggregate payload")
			continue
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}
