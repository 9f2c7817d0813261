package simulation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
)

// workerQueueSize bounds each simulation worker's inbox. The tick fan-in
// drops on overflow rather than stalling the bus dispatcher.
const workerQueueSize = 256

// Counters is the slice of the health monitor the engine reports to.
type Counters interface {
	PositionOpened()
	PositionClosed()
}

// Engine runs one worker per active simulation. Each worker owns its
// simulation's capital and positions exclusively; nothing else mutates
// them.
type Engine struct {
	cfg      *config.Config
	repo     *Repository
	bus      *events.Bus
	counters Counters
	log      zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	tokens  []events.Token
	started bool
}

// NewEngine creates the simulation engine.
func NewEngine(cfg *config.Config, repo *Repository, bus *events.Bus, counters Counters, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		repo:     repo,
		bus:      bus,
		counters: counters,
		log:      log.With().Str("component", "simulation").Logger(),
		workers:  make(map[string]*worker),
	}
}

// Start loads the active simulations, spawns their workers, and wires
// the bus subscriptions.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	sims, err := e.repo.List()
	if err != nil {
		return fmt.Errorf("failed to load simulations: %w", err)
	}
	for _, sim := range sims {
		if sim.Status != domain.SimActive {
			continue
		}
		if err := e.spawnLocked(sim); err != nil {
			e.log.Error().Err(err).Str("sim", sim.Name).Msg("Failed to start simulation worker")
		}
	}

	e.tokens = append(e.tokens,
		e.bus.Subscribe(events.TopicAnalysisReady, func(event *events.Event) {
			if data, ok := event.Data.(*events.AnalysisReadyData); ok {
				e.fanOut(data)
			}
		}),
		e.bus.Subscribe(events.TopicPriceUpdate, func(event *events.Event) {
			if data, ok := event.Data.(*events.PriceUpdateData); ok {
				e.fanOut(data)
			}
		}),
	)

	e.started = true
	e.log.Info().Int("workers", len(e.workers)).Msg("Simulation engine started")
	return nil
}

// Stop unsubscribes and drains all workers. In-flight position writes
// complete before Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	tokens := e.tokens
	e.tokens = nil
	workers := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.workers = make(map[string]*worker)
	e.mu.Unlock()

	for _, token := range tokens {
		e.bus.Unsubscribe(token)
	}
	for _, w := range workers {
		close(w.stop)
	}
	for _, w := range workers {
		<-w.done
	}
	e.log.Info().Msg("Simulation engine stopped")
}

func (e *Engine) fanOut(data events.EventData) {
	e.mu.Lock()
	targets := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		targets = append(targets, w)
	}
	e.mu.Unlock()

	for _, w := range targets {
		select {
		case w.inbox <- data:
		default:
			// An overloaded worker misses a tick; the next one carries
			// the same information.
		}
	}
}

// Create persists a new simulation and starts its worker.
func (e *Engine) Create(sim *domain.Simulation) error {
	if sim.ID == "" {
		sim.ID = uuid.NewString()
	}
	if sim.CreatedAt.IsZero() {
		sim.CreatedAt = time.Now().UTC()
	}
	if err := e.repo.Create(sim); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started && sim.Status == domain.SimActive {
		return e.spawnLocked(sim)
	}
	return nil
}

// Pause stops a simulation's worker and marks it PAUSED. Open positions
// stay open until the simulation resumes.
func (e *Engine) Pause(id, reason string) error {
	e.mu.Lock()
	w := e.workers[id]
	delete(e.workers, id)
	e.mu.Unlock()

	if w != nil {
		close(w.stop)
		<-w.done
	}
	return e.repo.SetStatus(id, domain.SimPaused, reason)
}

// Resume reactivates a paused simulation.
func (e *Engine) Resume(id string) error {
	sim, err := e.repo.Get(id)
	if err != nil {
		return err
	}
	if sim == nil {
		return fmt.Errorf("simulation %s not found", id)
	}
	if err := e.repo.SetStatus(id, domain.SimActive, ""); err != nil {
		return err
	}
	sim.Status = domain.SimActive

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.workers[id]; running || !e.started {
		return nil
	}
	return e.spawnLocked(sim)
}

func (e *Engine) spawnLocked(sim *domain.Simulation) error {
	capital, err := e.repo.Capital(sim.ID)
	if err != nil {
		return fmt.Errorf("failed to load capital for %s: %w", sim.Name, err)
	}
	positions, err := e.repo.OpenPositions(sim.ID)
	if err != nil {
		return fmt.Errorf("failed to load open positions for %s: %w", sim.Name, err)
	}

	w := &worker{
		engine:  e,
		sim:     sim,
		inbox:   make(chan events.EventData, workerQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		capital: capital,
		open:    make(map[domain.Timeframe]*domain.Position),
		latest:  make(map[domain.Timeframe]*domain.AnalysisRecord),
		daily:   make(map[domain.Timeframe]decimal.Decimal),
		log:     e.log.With().Str("sim", sim.Name).Logger(),
	}
	for _, pos := range positions {
		w.open[pos.Timeframe] = pos
	}

	e.workers[sim.ID] = w
	go w.loop()
	return nil
}

// worker is the single owner of one simulation's mutable state.
type worker struct {
	engine *Engine
	sim    *domain.Simulation
	inbox  chan events.EventData
	stop   chan struct{}
	done   chan struct{}
	log    zerolog.Logger

	capital map[domain.Timeframe]decimal.Decimal
	open    map[domain.Timeframe]*domain.Position
	latest  map[domain.Timeframe]*domain.AnalysisRecord

	// Realized TL per timeframe for the current trading day.
	daily  map[domain.Timeframe]decimal.Decimal
	dayKey string
}

// loop processes the worker's inbox until stopped. A panic pauses the
// simulation with an invariant-violation reason instead of taking the
// process down.
func (w *worker) loop() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("invariant violation: %v", r)
			w.log.Error().Interface("panic", r).Msg("Simulation worker panicked, pausing")
			if err := w.engine.repo.SetStatus(w.sim.ID, domain.SimPaused, reason); err != nil {
				w.log.Error().Err(err).Msg("Failed to pause simulation after panic")
			}
			w.engine.mu.Lock()
			delete(w.engine.workers, w.sim.ID)
			w.engine.mu.Unlock()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case data := <-w.inbox:
			switch d := data.(type) {
			case *events.AnalysisReadyData:
				w.onAnalysis(d.Record)
			case *events.PriceUpdateData:
				w.onTick(d)
			}
		}
	}
}

// rollDay resets the daily realized-PnL accumulators when the trading
// day (in the window's zone) changes.
func (w *worker) rollDay(ts time.Time) {
	key := ts.In(w.engine.cfg.TradingWindow.Location()).Format("2006-01-02")
	if key == w.dayKey {
		return
	}
	w.dayKey = key
	w.daily = make(map[domain.Timeframe]decimal.Decimal)
}

func (w *worker) onAnalysis(record *domain.AnalysisRecord) {
	w.rollDay(record.Timestamp)
	w.latest[record.Timeframe] = record

	mid := decimal.NewFromFloat(record.GramPrice)
	if pos := w.open[record.Timeframe]; pos != nil {
		w.monitor(pos, mid, record.Timestamp)
		return
	}
	w.tryOpen(record)
}

func (w *worker) onTick(tick *events.PriceUpdateData) {
	w.rollDay(tick.T)
	mid := decimal.NewFromFloat(tick.G)
	for _, tf := range domain.Timeframes {
		if pos := w.open[tf]; pos != nil {
			w.monitor(pos, mid, tick.T)
		}
	}
}

// monitor advances the trailing stop and runs the exit chain for one
// open position.
func (w *worker) monitor(pos *domain.Position, mid decimal.Decimal, now time.Time) {
	if updateTrailing(pos, mid) {
		if err := w.engine.repo.UpdateTrailing(pos); err != nil {
			w.log.Warn().Err(err).Str("position", pos.ID).Msg("Failed to persist trailing stop")
		}
	}

	window := &w.engine.cfg.TradingWindow
	ctx := &exitContext{
		now:           now,
		mid:           mid,
		latest:        w.latest[pos.Timeframe],
		dailyPnLTL:    w.daily[pos.Timeframe],
		tfCapitalTL:   w.capital[pos.Timeframe].Add(pos.SizeGrams).Mul(mid),
		maxDailyLoss:  w.sim.Thresholds.MaxDailyLossPct,
		minConfidence: w.sim.Thresholds.MinConfidence,
		inWindow:      window.Contains(now),
	}

	if reason, fired := evaluateExit(pos, ctx); fired {
		w.closePosition(pos, reason, mid, now)
	}
}

func (w *worker) tryOpen(record *domain.AnalysisRecord) {
	if record.Signal == domain.SignalHold {
		return
	}
	window := &w.engine.cfg.TradingWindow
	if !window.Contains(record.Timestamp) {
		return
	}

	if ok, reason := entryFilter(w.sim, record, window); !ok {
		w.log.Debug().
			Str("timeframe", string(record.Timeframe)).
			Str("reason", reason).
			Msg("Entry filtered")
		return
	}

	tf := record.Timeframe
	tfCapital := w.capital[tf]
	if !tfCapital.IsPositive() {
		return
	}

	mid := decimal.NewFromFloat(record.GramPrice)
	posType := domain.PositionLong
	if record.Signal == domain.SignalSell {
		posType = domain.PositionShort
	}

	entry := entryPrice(mid, w.sim.Costs, posType)
	stopLoss := domain.RoundTL(decimal.NewFromFloat(record.StopLoss))
	takeProfit := domain.RoundTL(decimal.NewFromFloat(record.TakeProfit))
	stopDistance := entry.Sub(stopLoss).Abs()

	size := positionSize(tfCapital, mid, stopDistance,
		w.sim.Thresholds.MaxRiskPct, record.PositionSize, w.engine.cfg.Simulation.MaxPositionPct)
	if !size.IsPositive() {
		return
	}

	pos := &domain.Position{
		ID:              uuid.NewString(),
		SimID:           w.sim.ID,
		Timeframe:       tf,
		Type:            posType,
		SizeGrams:       size,
		EntryPrice:      entry,
		EntryTime:       record.Timestamp,
		EntryConfidence: record.Confidence,
		EntryATR:        record.ATR,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		BestPrice:       entry,
		Status:          domain.PositionOpen,
	}

	newBalance := domain.RoundGrams(tfCapital.Sub(size))
	if newBalance.IsNegative() {
		panic(fmt.Sprintf("capital debit below zero: %s - %s", tfCapital, size))
	}

	if err := w.engine.repo.OpenPosition(pos, newBalance); err != nil {
		w.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Failed to open position")
		return
	}
	w.capital[tf] = newBalance
	w.open[tf] = pos

	if w.engine.counters != nil {
		w.engine.counters.PositionOpened()
	}
	w.engine.bus.Publish("simulation", &events.PositionOpenedData{SimName: w.sim.Name, Position: pos})
	w.log.Info().
		Str("timeframe", string(tf)).
		Str("type", string(posType)).
		Str("size_grams", size.String()).
		Str("entry", entry.String()).
		Msg("Position opened")
}

func (w *worker) closePosition(pos *domain.Position, reason string, mid decimal.Decimal, now time.Time) {
	exit := exitPrice(mid, w.sim.Costs, pos.Type)
	credit := settle(pos, exit, mid, w.sim.Costs)
	pos.ExitTime = now
	pos.ExitReason = reason
	pos.Status = domain.PositionClosed

	tf := pos.Timeframe
	newBalance := domain.RoundGrams(w.capital[tf].Add(credit))
	if newBalance.IsNegative() {
		panic(fmt.Sprintf("capital credit below zero: %s + %s", w.capital[tf], credit))
	}

	if err := w.engine.repo.ClosePosition(pos, newBalance); err != nil {
		w.log.Error().Err(err).Str("position", pos.ID).Msg("Failed to close position")
		return
	}
	w.capital[tf] = newBalance
	delete(w.open, tf)
	w.daily[tf] = w.daily[tf].Add(pos.NetPnLTL)

	if w.engine.counters != nil {
		w.engine.counters.PositionClosed()
	}
	w.engine.bus.Publish("simulation", &events.PositionClosedData{SimName: w.sim.Name, Position: pos})
	w.log.Info().
		Str("timeframe", string(tf)).
		Str("reason", reason).
		Str("net_pnl_tl", pos.NetPnLTL.String()).
		Str("net_pnl_grams", pos.NetPnLGrams.String()).
		Msg("Position closed")
}
