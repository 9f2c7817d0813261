// Package feed provides the upstream price vendor adapters. Both adapters
// implement domain.QuoteSource: they push quotes to a registered callback
// and never block on the consumer.
package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/domain"
)

// Poller polls an HTTP vendor endpoint on a fixed cadence and pushes each
// fresh quote to the registered callback.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      zerolog.Logger

	mu       sync.Mutex
	callback func(domain.PriceQuote)
	lastTS   time.Time
	started  bool
	stop     chan struct{}
	stopped  sync.WaitGroup
}

// vendorQuote is the wire format of the upstream endpoint.
type vendorQuote struct {
	Timestamp int64   `json:"ts"`
	GramGold  float64 `json:"gram_gold"`
	OunceUSD  float64 `json:"ounce_usd"`
	USDTRY    float64 `json:"usd_try"`
	OunceTRY  float64 `json:"ounce_try"`
}

// NewPoller creates a vendor poller for the given endpoint.
func NewPoller(url string, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("client", "price_feed").Logger(),
		stop:     make(chan struct{}),
	}
}

// OnQuote registers the callback invoked for every fresh quote.
func (p *Poller) OnQuote(fn func(domain.PriceQuote)) {
	p.mu.Lock()
	p.callback = fn
	p.mu.Unlock()
}

// Start launches the poll loop.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		p.log.Warn().Msg("Feed poller already started, ignoring")
		return
	}
	p.started = true
	p.mu.Unlock()

	p.stopped.Add(1)
	go func() {
		defer p.stopped.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.poll()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.poll()
			}
		}
	}()

	p.log.Info().Str("url", p.url).Dur("interval", p.interval).Msg("Feed poller started")
}

// Stop halts polling. An in-flight request completes first.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.stop)
	p.stopped.Wait()
	p.log.Info().Msg("Feed poller stopped")
}

func (p *Poller) poll() {
	quote, err := p.fetch()
	if err != nil {
		// Vendor trouble is routine; the pipeline just waits for the
		// next cycle.
		p.log.Warn().Err(err).Msg("Feed poll failed")
		return
	}

	p.mu.Lock()
	callback := p.callback
	if !quote.Timestamp.After(p.lastTS) {
		p.mu.Unlock()
		p.log.Debug().Time("ts", quote.Timestamp).Msg("Vendor quote unchanged, skipping")
		return
	}
	p.lastTS = quote.Timestamp
	p.mu.Unlock()

	if callback != nil {
		callback(quote)
	}
}

func (p *Poller) fetch() (domain.PriceQuote, error) {
	resp, err := p.client.Get(p.url)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.PriceQuote{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var raw vendorQuote
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("failed to parse feed response: %w", err)
	}

	ts := time.Unix(raw.Timestamp, 0).UTC()
	if raw.Timestamp == 0 {
		ts = time.Now().UTC()
	}
	return domain.PriceQuote{
		Timestamp: ts,
		GramGold:  raw.GramGold,
		OunceUSD:  raw.OunceUSD,
		USDTRY:    raw.USDTRY,
		OunceTRY:  raw.OunceTRY,
	}, nil
}
