// Package scheduler drives the per-timeframe analysis runs: each
// timeframe has its own runner triggered by bar-close events and a
// fallback timer, with coalesced re-runs and full isolation between
// timeframes.
package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
	"github.com/aristath/goldpulse/internal/market"
	"github.com/aristath/goldpulse/internal/strategy"
)

// CandleCounts is how much history each timeframe's run loads.
var CandleCounts = map[domain.Timeframe]int{
	domain.TF15m: 200,
	domain.TF1h:  200,
	domain.TF4h:  200,
	domain.TF1d:  100,
}

// Counters is the slice of the health monitor the scheduler reports to.
type Counters interface {
	AnalysisCompleted()
	InsufficientDataSeen()
}

// Scheduler owns one runner goroutine per timeframe. A runner is Idle
// until triggered; triggers arriving while it runs collapse into a
// single pending re-run.
type Scheduler struct {
	candles  *market.CandleRepository
	snapshot *strategy.SnapshotBuilder
	hybrid   *strategy.Hybrid
	analyses *strategy.AnalysisRepository
	signals  *strategy.SignalRepository
	bus      *events.Bus
	counters Counters
	log      zerolog.Logger

	runners  map[domain.Timeframe]*runner
	busToken events.Token
	started  bool
}

type runner struct {
	tf      domain.Timeframe
	trigger chan struct{} // buffered 1: pending re-run flag
	stop    chan struct{}
	done    chan struct{}
}

// New creates the scheduler.
func New(
	candles *market.CandleRepository,
	snapshot *strategy.SnapshotBuilder,
	hybrid *strategy.Hybrid,
	analyses *strategy.AnalysisRepository,
	signals *strategy.SignalRepository,
	bus *events.Bus,
	counters Counters,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		candles:  candles,
		snapshot: snapshot,
		hybrid:   hybrid,
		analyses: analyses,
		signals:  signals,
		bus:      bus,
		counters: counters,
		log:      log.With().Str("component", "scheduler").Logger(),
		runners:  make(map[domain.Timeframe]*runner),
	}
}

// Start launches one runner per timeframe and wires the bar-close
// subscription.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true

	for _, tf := range domain.Timeframes {
		r := &runner{
			tf:      tf,
			trigger: make(chan struct{}, 1),
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		}
		s.runners[tf] = r
		go s.runLoop(r)
	}

	s.busToken = s.bus.Subscribe(events.TopicBarClose, func(event *events.Event) {
		data, ok := event.Data.(*events.BarCloseData)
		if !ok {
			return
		}
		s.Trigger(data.Interval)
	})

	s.log.Info().Int("timeframes", len(s.runners)).Msg("Scheduler started")
}

// Stop halts all runners. In-flight runs complete their persistence
// before the runner exits.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.started = false

	s.bus.Unsubscribe(s.busToken)
	for _, r := range s.runners {
		close(r.stop)
	}
	for _, r := range s.runners {
		<-r.done
	}
	s.log.Info().Msg("Scheduler stopped")
}

// Trigger requests an analysis run for tf. Requests during a running
// analysis coalesce into one pending re-run.
func (s *Scheduler) Trigger(tf domain.Timeframe) {
	r, ok := s.runners[tf]
	if !ok {
		return
	}
	select {
	case r.trigger <- struct{}{}:
	default:
		// Re-run already pending.
	}
}

// runLoop is one timeframe's state machine: Idle until a trigger or the
// cadence timer fires, then Running. A failed run is logged and waits
// for the next trigger; it never propagates to other timeframes.
func (s *Scheduler) runLoop(r *runner) {
	defer close(r.done)

	ticker := time.NewTicker(r.tf.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.trigger:
		case <-ticker.C:
		}
		s.runOnce(r.tf, time.Now().UTC())
	}
}

func (s *Scheduler) runOnce(tf domain.Timeframe, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().
				Str("timeframe", string(tf)).
				Interface("panic", rec).
				Msg("Analysis run panicked, will retry on next trigger")
		}
	}()

	started := time.Now()

	candles, err := s.candles.FetchCandles(tf, CandleCounts[tf], time.Time{})
	if err != nil {
		s.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Failed to load candles")
		return
	}

	snapshot, err := s.snapshot.Build(now)
	if err != nil {
		s.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Failed to build market snapshot")
		return
	}

	record, err := s.hybrid.Analyze(tf, candles, snapshot, now)
	if err != nil {
		s.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Analysis failed")
		return
	}

	if err := s.analyses.Insert(record); err != nil {
		s.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Failed to persist analysis record")
		return
	}

	if s.counters != nil {
		s.counters.AnalysisCompleted()
		for _, sub := range record.SubAnalyses {
			if domain.IsInsufficient(sub) {
				s.counters.InsufficientDataSeen()
			}
		}
	}

	s.bus.Publish("scheduler", &events.AnalysisReadyData{Record: record})

	if sig := record.ToSignalRecord(); sig != nil {
		if err := s.signals.Insert(sig); err != nil {
			s.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Failed to persist signal record")
		} else {
			s.bus.Publish("scheduler", &events.SignalData{Record: sig})
		}
	}

	s.log.Info().
		Str("timeframe", string(tf)).
		Str("signal", string(record.Signal)).
		Float64("confidence", record.Confidence).
		Dur("elapsed", time.Since(started)).
		Msg("Analysis run completed")
}
