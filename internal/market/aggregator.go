package market

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
)

// RejectCounter is the health hook for dropped ticks.
type RejectCounter interface {
	TickRejected()
}

// Aggregator folds ticks into OHLC candles for every configured interval
// and emits bar_close events at bucket boundaries. It is the sole writer
// of candle rows.
type Aggregator struct {
	repo      *CandleRepository
	bus       *events.Bus
	intervals []domain.Timeframe
	rejects   RejectCounter
	log       zerolog.Logger

	mu   sync.Mutex
	open map[domain.Timeframe]*domain.Candle
}

// NewAggregator creates an aggregator for the given intervals.
func NewAggregator(repo *CandleRepository, bus *events.Bus, rejects RejectCounter, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		repo:      repo,
		bus:       bus,
		intervals: domain.Timeframes,
		rejects:   rejects,
		log:       log.With().Str("component", "aggregator").Logger(),
		open:      make(map[domain.Timeframe]*domain.Candle),
	}
}

// Recover reloads open candles from the store so a restart resumes the
// in-flight buckets instead of losing them.
func (a *Aggregator) Recover() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, interval := range a.intervals {
		c, err := a.repo.OpenCandle(interval)
		if err != nil {
			return fmt.Errorf("failed to recover open candle for %s: %w", interval, err)
		}
		if c != nil {
			a.open[interval] = c
			a.log.Info().
				Str("interval", string(interval)).
				Time("ts_open", c.TsOpen).
				Msg("Recovered open candle")
		}
	}
	return nil
}

// OnTick folds one quote into every interval's bucket.
func (a *Aggregator) OnTick(q domain.PriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, interval := range a.intervals {
		if err := a.fold(interval, q); err != nil {
			a.log.Error().Err(err).
				Str("interval", string(interval)).
				Msg("Failed to fold tick into candle")
		}
	}
}

func (a *Aggregator) fold(interval domain.Timeframe, q domain.PriceQuote) error {
	bucket := interval.Bucket(q.Timestamp)
	current := a.open[interval]

	// Clock regression: a tick from before the open bucket would rewrite
	// sealed history. Reject it.
	if current != nil && bucket.Before(current.TsOpen) {
		if a.rejects != nil {
			a.rejects.TickRejected()
		}
		a.log.Warn().
			Str("interval", string(interval)).
			Time("tick_ts", q.Timestamp).
			Time("open_ts", current.TsOpen).
			Msg("Rejected out-of-order tick")
		return nil
	}

	if current != nil && bucket.Equal(current.TsOpen) {
		if q.GramGold > current.High {
			current.High = q.GramGold
		}
		if q.GramGold < current.Low {
			current.Low = q.GramGold
		}
		current.Close = q.GramGold
		current.TickCount++
		return a.repo.UpsertCandle(*current)
	}

	// Bucket advanced: seal the prior candle, synthesize any quiet
	// buckets in between, then open the new one.
	if current != nil {
		if err := a.seal(current); err != nil {
			return err
		}
		for synth := current.TsOpen.Add(interval.Duration()); synth.Before(bucket); synth = synth.Add(interval.Duration()) {
			gap := domain.Candle{
				Interval:  interval,
				TsOpen:    synth,
				Open:      current.Close,
				High:      current.Close,
				Low:       current.Close,
				Close:     current.Close,
				TickCount: 0,
			}
			if err := a.seal(&gap); err != nil {
				return err
			}
		}
	}

	fresh := &domain.Candle{
		Interval:  interval,
		TsOpen:    bucket,
		Open:      q.GramGold,
		High:      q.GramGold,
		Low:       q.GramGold,
		Close:     q.GramGold,
		TickCount: 1,
	}
	a.open[interval] = fresh
	return a.repo.UpsertCandle(*fresh)
}

// seal marks the candle final, persists it, and announces the bar close.
func (a *Aggregator) seal(c *domain.Candle) error {
	c.Sealed = true
	if err := a.repo.UpsertCandle(*c); err != nil {
		return err
	}
	a.bus.Publish("aggregator", &events.BarCloseData{
		Interval: c.Interval,
		Candle:   *c,
	})
	a.log.Debug().
		Str("interval", string(c.Interval)).
		Time("ts_open", c.TsOpen).
		Int("ticks", c.TickCount).
		Msg("Candle sealed")
	return nil
}
