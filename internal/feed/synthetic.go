package feed

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/domain"
)

// Synthetic generates a random-walk quote stream for development and
// demos. Prices start near recent market levels and drift with mild
// mean reversion so candles and indicators behave plausibly.
type Synthetic struct {
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	callback func(domain.PriceQuote)
	started  bool
	stop     chan struct{}
	stopped  sync.WaitGroup

	rng    *rand.Rand
	ounce  float64
	usdTry float64
}

// NewSynthetic creates the dev feed emitting one quote per interval.
func NewSynthetic(interval time.Duration, log zerolog.Logger) *Synthetic {
	return &Synthetic{
		interval: interval,
		log:      log.With().Str("client", "synthetic_feed").Logger(),
		stop:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ounce:    2650.0,
		usdTry:   41.0,
	}
}

// OnQuote registers the callback invoked for every generated quote.
func (s *Synthetic) OnQuote(fn func(domain.PriceQuote)) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// Start launches the generator loop.
func (s *Synthetic) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				s.emit(now.UTC())
			}
		}
	}()

	s.log.Info().Dur("interval", s.interval).Msg("Synthetic feed started")
}

// Stop halts the generator.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	s.stopped.Wait()
	s.log.Info().Msg("Synthetic feed stopped")
}

// Troy ounce in grams.
const gramsPerOunce = 31.1035

func (s *Synthetic) emit(now time.Time) {
	s.mu.Lock()
	s.ounce = drift(s.rng, s.ounce, 2650.0, 1.5)
	s.usdTry = drift(s.rng, s.usdTry, 41.0, 0.01)
	ounce, usdTry := s.ounce, s.usdTry
	callback := s.callback
	s.mu.Unlock()

	if callback == nil {
		return
	}
	ounceTry := ounce * usdTry
	callback(domain.PriceQuote{
		Timestamp: now,
		GramGold:  ounceTry / gramsPerOunce,
		OunceUSD:  ounce,
		USDTRY:    usdTry,
		OunceTRY:  ounceTry,
	})
}

// drift takes one mean-reverting random-walk step.
func drift(rng *rand.Rand, current, anchor, step float64) float64 {
	next := current + (rng.Float64()*2-1)*step + (anchor-current)*0.001
	if next <= 0 {
		return current
	}
	return next
}
