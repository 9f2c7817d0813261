package market

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
)

// Ingestor is the single producer on the tick stream. It validates quotes
// pushed by the vendor adapter, persists them, feeds the aggregator, and
// publishes price_update events. Errors never stop the pipeline; they are
// logged and counted.
type Ingestor struct {
	source  domain.QuoteSource
	prices  *PriceRepository
	agg     *Aggregator
	bus     *events.Bus
	rejects RejectCounter
	limiter *rate.Limiter
	log     zerolog.Logger

	ticks   chan domain.PriceQuote
	stop    chan struct{}
	stopped sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewIngestor creates the ingestion port. maxPerSec bounds accepted
// quotes with a token bucket; excess pushes are shed.
func NewIngestor(
	source domain.QuoteSource,
	prices *PriceRepository,
	agg *Aggregator,
	bus *events.Bus,
	rejects RejectCounter,
	maxPerSec float64,
	log zerolog.Logger,
) *Ingestor {
	return &Ingestor{
		source:  source,
		prices:  prices,
		agg:     agg,
		bus:     bus,
		rejects: rejects,
		limiter: rate.NewLimiter(rate.Limit(maxPerSec), 1),
		log:     log.With().Str("component", "ingestor").Logger(),
		ticks:   make(chan domain.PriceQuote, 256),
		stop:    make(chan struct{}),
	}
}

// Start registers the quote callback and launches the consumer loop.
func (i *Ingestor) Start() {
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		i.log.Warn().Msg("Ingestor already started, ignoring")
		return
	}
	i.started = true
	i.mu.Unlock()

	i.source.OnQuote(func(q domain.PriceQuote) {
		if !i.limiter.Allow() {
			i.log.Debug().Msg("Quote shed by rate limiter")
			return
		}
		// The vendor callback must never block on a slow consumer.
		select {
		case i.ticks <- q:
		default:
			i.log.Warn().Msg("Tick channel full, dropping quote")
		}
	})

	i.stopped.Add(1)
	go func() {
		defer i.stopped.Done()
		for {
			select {
			case <-i.stop:
				return
			case q := <-i.ticks:
				i.process(q)
			}
		}
	}()

	i.log.Info().Msg("Ingestor started")
}

// Stop drains no further quotes. In-flight processing completes first.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.started {
		i.mu.Unlock()
		return
	}
	i.started = false
	i.mu.Unlock()

	close(i.stop)
	i.stopped.Wait()
	i.log.Info().Msg("Ingestor stopped")
}

func (i *Ingestor) process(q domain.PriceQuote) {
	if !validQuote(&q) {
		if i.rejects != nil {
			i.rejects.TickRejected()
		}
		i.log.Warn().
			Float64("gram", q.GramGold).
			Float64("ounce", q.OunceUSD).
			Float64("usd_try", q.USDTRY).
			Msg("Rejected malformed quote")
		return
	}

	if err := i.prices.AppendTick(q); err != nil {
		// Storage trouble must not stall the pipeline; the tick still
		// reaches the aggregator and subscribers.
		i.log.Error().Err(err).Msg("Failed to persist tick")
	}

	i.agg.OnTick(q)
	i.bus.Publish("ingestor", events.NewPriceUpdateData(q))
}

// validQuote checks every field is positive and finite, filling in
// ounce_try when the vendor omits it.
func validQuote(q *domain.PriceQuote) bool {
	if q.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{q.GramGold, q.OunceUSD, q.USDTRY} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if q.OunceTRY <= 0 || math.IsNaN(q.OunceTRY) || math.IsInf(q.OunceTRY, 0) {
		q.OunceTRY = q.OunceUSD * q.USDTRY
	}
	return true
}
