// Package health tracks engine counters and system resources, exposing
// them on the event bus and as Prometheus metrics.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/goldpulse/internal/events"
)

// Monitor owns the engine's health counters. All methods are safe for
// concurrent use.
type Monitor struct {
	TicksRejected    prometheus.Counter
	EventsDropped    prometheus.Gauge
	StoreRetries     prometheus.Counter
	InsufficientData prometheus.Counter
	AnalysesTotal    prometheus.Counter
	PositionsOpened  prometheus.Counter
	PositionsClosed  prometheus.Counter

	bus *events.Bus
	log zerolog.Logger

	mu       sync.Mutex
	counters counters

	stop    chan struct{}
	stopped sync.WaitGroup
	started bool
}

type counters struct {
	ticksRejected    uint64
	storeRetries     uint64
	insufficientData uint64
	analysesTotal    uint64
	positionsOpened  uint64
	positionsClosed  uint64
}

// NewMonitor creates a health monitor and registers its metrics.
func NewMonitor(bus *events.Bus, reg prometheus.Registerer, log zerolog.Logger) *Monitor {
	m := &Monitor{
		TicksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goldpulse_ticks_rejected_total",
			Help: "Quotes rejected by validation or clock regression.",
		}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldpulse_events_dropped_total",
			Help: "Events shed by slow bus subscribers.",
		}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goldpulse_store_retries_total",
			Help: "Transient store errors that were retried.",
		}),
		InsufficientData: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goldpulse_insufficient_data_total",
			Help: "Sub-analyses returning insufficient data.",
		}),
		AnalysesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goldpulse_analyses_total",
			Help: "Completed analysis runs.",
		}),
		PositionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goldpulse_positions_opened_total",
			Help: "Simulated positions opened.",
		}),
		PositionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goldpulse_positions_closed_total",
			Help: "Simulated positions closed.",
		}),
		bus:  bus,
		log:  log.With().Str("component", "health").Logger(),
		stop: make(chan struct{}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksRejected, m.EventsDropped, m.StoreRetries,
			m.InsufficientData, m.AnalysesTotal,
			m.PositionsOpened, m.PositionsClosed,
		)
	}

	return m
}

// Counter increment helpers keep the prometheus metric and the snapshot
// counter in step.

func (m *Monitor) TickRejected() {
	m.TicksRejected.Inc()
	m.mu.Lock()
	m.counters.ticksRejected++
	m.mu.Unlock()
}

func (m *Monitor) StoreRetried() {
	m.StoreRetries.Inc()
	m.mu.Lock()
	m.counters.storeRetries++
	m.mu.Unlock()
}

func (m *Monitor) InsufficientDataSeen() {
	m.InsufficientData.Inc()
	m.mu.Lock()
	m.counters.insufficientData++
	m.mu.Unlock()
}

func (m *Monitor) AnalysisCompleted() {
	m.AnalysesTotal.Inc()
	m.mu.Lock()
	m.counters.analysesTotal++
	m.mu.Unlock()
}

func (m *Monitor) PositionOpened() {
	m.PositionsOpened.Inc()
	m.mu.Lock()
	m.counters.positionsOpened++
	m.mu.Unlock()
}

func (m *Monitor) PositionClosed() {
	m.PositionsClosed.Inc()
	m.mu.Lock()
	m.counters.positionsClosed++
	m.mu.Unlock()
}

// Snapshot builds the current health payload.
func (m *Monitor) Snapshot() *events.SystemHealthData {
	m.mu.Lock()
	c := m.counters
	m.mu.Unlock()

	dropped := m.bus.Dropped()
	m.EventsDropped.Set(float64(dropped))

	data := &events.SystemHealthData{
		TicksRejected:    c.ticksRejected,
		EventsDropped:    dropped,
		StoreRetries:     c.storeRetries,
		InsufficientData: c.insufficientData,
		AnalysesTotal:    c.analysesTotal,
		PositionsOpened:  c.positionsOpened,
		PositionsClosed:  c.positionsClosed,
	}
	if c.analysesTotal > 0 {
		data.InsufficientDataRate = float64(c.insufficientData) / float64(c.analysesTotal)
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		data.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		data.MemoryPercent = vm.UsedPercent
	}

	return data
}

// Start publishes a system_health event at the given interval until Stop.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.stopped.Add(1)
	go func() {
		defer m.stopped.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.bus.Publish("health", m.Snapshot())
			}
		}
	}()

	m.log.Info().Dur("interval", interval).Msg("Health monitor started")
}

// Stop halts the periodic publisher.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stop)
	m.stopped.Wait()
	m.log.Info().Msg("Health monitor stopped")
}
