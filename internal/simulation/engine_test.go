package simulation

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
)

type engineCounters struct {
	opened atomic.Uint64
	closed atomic.Uint64
}

func (c *engineCounters) PositionOpened() { c.opened.Add(1) }
func (c *engineCounters) PositionClosed() { c.closed.Add(1) }

type engineFixture struct {
	engine   *Engine
	repo     *Repository
	bus      *events.Bus
	counters *engineCounters
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := setupStateRepo(t)
	bus := events.NewBus(quietLog())
	counters := &engineCounters{}
	engine := NewEngine(simConfig(t), repo, bus, counters, quietLog())
	return &engineFixture{engine: engine, repo: repo, bus: bus, counters: counters}
}

// buyRecord is an actionable analysis at 10:00 Istanbul.
func buyRecord(tf domain.Timeframe) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		Timestamp:      time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC),
		Timeframe:      tf,
		GramPrice:      3470,
		Signal:         domain.SignalBuy,
		Confidence:     0.6,
		SignalStrength: domain.StrengthModerate,
		PositionSize:   0.20,
		StopLoss:       3440,
		TakeProfit:     3515,
		ATR:            10,
		RSI:            58,
		BBPosition:     0.6,
	}
}

func TestSeedDefaults(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.SeedDefaults())

	sims, err := f.repo.List()
	require.NoError(t, err)
	require.Len(t, sims, len(domain.StrategyTypes))

	byStrategy := make(map[domain.StrategyType]*domain.Simulation)
	for _, sim := range sims {
		byStrategy[sim.StrategyType] = sim
		assert.Equal(t, domain.SimActive, sim.Status)
		assertDecimal(t, "1000", sim.InitialCapital)
	}
	main := byStrategy[domain.StrategyMain]
	require.NotNil(t, main)
	assert.Equal(t, "main", main.Name)

	balances, err := f.repo.Capital(main.ID)
	require.NoError(t, err)
	assertDecimal(t, "250", balances[domain.TF1h])

	// Seeding is first-boot only.
	require.NoError(t, f.engine.SeedDefaults())
	sims, err = f.repo.List()
	require.NoError(t, err)
	assert.Len(t, sims, len(domain.StrategyTypes))
}

func TestEngineOpensAndClosesPosition(t *testing.T) {
	f := newEngineFixture(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, f.repo.Create(sim))

	opened := make(chan *events.Event, 4)
	closed := make(chan *events.Event, 4)
	f.bus.Subscribe(events.TopicPositionOpened, func(e *events.Event) { opened <- e })
	f.bus.Subscribe(events.TopicPositionClosed, func(e *events.Event) { closed <- e })

	require.NoError(t, f.engine.Start())
	t.Cleanup(f.engine.Stop)

	record := buyRecord(domain.TF1h)
	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: record})

	var pos *domain.Position
	select {
	case e := <-opened:
		data, ok := e.Data.(*events.PositionOpenedData)
		require.True(t, ok)
		assert.Equal(t, sim.Name, data.SimName)
		pos = data.Position
	case <-time.After(5 * time.Second):
		t.Fatal("no position opened")
	}

	assert.Equal(t, domain.PositionLong, pos.Type)
	// Risk budget asks for 559g; the 20% cap and the signal's 20%
	// sizing both hold it at 50g, entered at the ask.
	assertDecimal(t, "50", pos.SizeGrams)
	assertDecimal(t, "3471", pos.EntryPrice)
	assertDecimal(t, "3440", pos.StopLoss)

	balances, err := f.repo.Capital(sim.ID)
	require.NoError(t, err)
	assertDecimal(t, "200", balances[domain.TF1h])

	// A tick through the stop closes it.
	f.bus.Publish("feed", &events.PriceUpdateData{
		T: record.Timestamp.Add(5 * time.Minute),
		G: 3400,
	})

	select {
	case e := <-closed:
		data, ok := e.Data.(*events.PositionClosedData)
		require.True(t, ok)
		assert.Equal(t, domain.ExitStopLoss, data.Position.ExitReason)
		assertDecimal(t, "3399", data.Position.ExitPrice)
		assert.True(t, data.Position.NetPnLTL.IsNegative())
	case <-time.After(5 * time.Second):
		t.Fatal("no position closed")
	}

	require.Eventually(t, func() bool {
		open, err := f.repo.OpenPositions(sim.ID)
		return err == nil && len(open) == 0
	}, 2*time.Second, 10*time.Millisecond)

	balances, err = f.repo.Capital(sim.ID)
	require.NoError(t, err)
	assertDecimal(t, "248.911", balances[domain.TF1h])

	assert.EqualValues(t, 1, f.counters.opened.Load())
	assert.EqualValues(t, 1, f.counters.closed.Load())
}

func TestEngineSizesBySignalFraction(t *testing.T) {
	f := newEngineFixture(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, f.repo.Create(sim))

	opened := make(chan *events.Event, 4)
	f.bus.Subscribe(events.TopicPositionOpened, func(e *events.Event) { opened <- e })

	require.NoError(t, f.engine.Start())
	t.Cleanup(f.engine.Stop)

	// Risk budget asks for 559g and the hard cap allows 50g; the
	// signal's 5% sizing keeps the trade at 12.5g.
	record := buyRecord(domain.TF1h)
	record.PositionSize = 0.05
	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: record})

	select {
	case e := <-opened:
		data, ok := e.Data.(*events.PositionOpenedData)
		require.True(t, ok)
		assertDecimal(t, "12.5", data.Position.SizeGrams)
	case <-time.After(5 * time.Second):
		t.Fatal("no position opened")
	}

	balances, err := f.repo.Capital(sim.ID)
	require.NoError(t, err)
	assertDecimal(t, "237.5", balances[domain.TF1h])
}

func TestEngineSkipsHoldAndOffWindowSignals(t *testing.T) {
	f := newEngineFixture(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, f.repo.Create(sim))

	opened := make(chan *events.Event, 4)
	f.bus.Subscribe(events.TopicPositionOpened, func(e *events.Event) { opened <- e })

	require.NoError(t, f.engine.Start())
	t.Cleanup(f.engine.Stop)

	hold := buyRecord(domain.TF15m)
	hold.Signal = domain.SignalHold
	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: hold})

	// 20:00 Istanbul, after the session closed.
	evening := buyRecord(domain.TF4h)
	evening.Timestamp = time.Date(2026, 8, 24, 17, 0, 0, 0, time.UTC)
	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: evening})

	// The worker drains its inbox in order, so this one proves the two
	// before it were dropped.
	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: buyRecord(domain.TF1h)})

	select {
	case e := <-opened:
		data := e.Data.(*events.PositionOpenedData)
		assert.Equal(t, domain.TF1h, data.Position.Timeframe)
	case <-time.After(5 * time.Second):
		t.Fatal("the valid signal never opened")
	}

	open, err := f.repo.OpenPositions(sim.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.TF1h, open[0].Timeframe)
}

func TestEnginePauseAndResume(t *testing.T) {
	f := newEngineFixture(t)
	sim := simFor(domain.StrategyMain)
	require.NoError(t, f.repo.Create(sim))

	opened := make(chan *events.Event, 4)
	f.bus.Subscribe(events.TopicPositionOpened, func(e *events.Event) { opened <- e })

	require.NoError(t, f.engine.Start())
	t.Cleanup(f.engine.Stop)

	require.NoError(t, f.engine.Pause(sim.ID, "manual"))
	got, err := f.repo.Get(sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimPaused, got.Status)
	assert.Equal(t, "manual", got.PauseReason)

	// Signals while paused are lost to this simulation.
	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: buyRecord(domain.TF15m)})

	require.NoError(t, f.engine.Resume(sim.ID))
	got, err = f.repo.Get(sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimActive, got.Status)

	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: buyRecord(domain.TF1h)})

	select {
	case e := <-opened:
		data := e.Data.(*events.PositionOpenedData)
		assert.Equal(t, domain.TF1h, data.Position.Timeframe)
	case <-time.After(5 * time.Second):
		t.Fatal("resumed simulation never traded")
	}

	open, err := f.repo.OpenPositions(sim.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.TF1h, open[0].Timeframe)
}

func TestEngineCreateSpawnsWorker(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Start())
	t.Cleanup(f.engine.Stop)

	opened := make(chan *events.Event, 4)
	f.bus.Subscribe(events.TopicPositionOpened, func(e *events.Event) { opened <- e })

	sim := simFor(domain.StrategyMain)
	sim.ID = ""
	require.NoError(t, f.engine.Create(sim))
	assert.NotEmpty(t, sim.ID, "Create assigns an id")

	f.bus.Publish("scheduler", &events.AnalysisReadyData{Record: buyRecord(domain.TF1h)})

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("created simulation never traded")
	}
}
