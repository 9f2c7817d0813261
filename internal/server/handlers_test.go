package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
	"github.com/aristath/goldpulse/internal/health"
	"github.com/aristath/goldpulse/internal/market"
	"github.com/aristath/goldpulse/internal/simulation"
	"github.com/aristath/goldpulse/internal/strategy"
)

type serverFixture struct {
	srv      *Server
	prices   *market.PriceRepository
	candles  *market.CandleRepository
	analyses *strategy.AnalysisRepository
	signals  *strategy.SignalRepository
	simRepo  *simulation.Repository
}

func openMemDB(t *testing.T, profile database.Profile) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(database.SchemaFor(profile))
	require.NoError(t, err)
	return db
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	quiet := zerolog.New(nil).Level(zerolog.Disabled)

	cfg := &config.Config{
		Port:               8090,
		CollectionInterval: 5 * time.Second,
		MinConfidenceThresholds: map[domain.Timeframe]float64{
			domain.TF15m: 0.35, domain.TF1h: 0.40, domain.TF4h: 0.45, domain.TF1d: 0.50,
		},
		GramOverrideConfidence: 0.50,
		MinVolatilityPct:       0.005,
		ModuleWeights: map[string]float64{
			"divergence": 0.06, "structure": 0.05, "smc": 0.04,
			"regime": 0.04, "fibonacci": 0.03, "patterns": 0.03,
		},
		Simulation: config.SimulationDefaults{
			SpreadTL: 2.0, CommissionPct: 0.0003, MaxPositionPct: 0.20,
			MaxDailyLossPct: 0.02, MaxRiskPct: 0.02, MinConfidence: 0.35, InitialCapital: 1000,
		},
		TradingWindow:    config.TradingWindow{Start: "09:00", End: "17:00", Zone: "Europe/Istanbul"},
		RetentionDaysRaw: 7,
	}
	require.NoError(t, cfg.Validate())

	historyDB := openMemDB(t, database.ProfileHistory)
	stateDB := openMemDB(t, database.ProfileStandard)

	bus := events.NewBus(quiet)
	monitor := health.NewMonitor(bus, nil, quiet)
	f := &serverFixture{
		prices:   market.NewPriceRepository(historyDB, quiet),
		candles:  market.NewCandleRepository(historyDB, quiet),
		analyses: strategy.NewAnalysisRepository(historyDB, quiet),
		signals:  strategy.NewSignalRepository(historyDB, quiet),
		simRepo:  simulation.NewRepository(stateDB, quiet),
	}
	engine := simulation.NewEngine(cfg, f.simRepo, bus, monitor, quiet)

	f.srv = New(Deps{
		Config:   cfg,
		Bus:      bus,
		Monitor:  monitor,
		Prices:   f.prices,
		Candles:  f.candles,
		Analyses: f.analyses,
		Signals:  f.signals,
		SimRepo:  f.simRepo,
		Engine:   engine,
		Registry: prometheus.NewRegistry(),
		Log:      quiet,
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeJSON[map[string]any](t, rec)
	assert.Contains(t, payload, "analyses_total")

	rec = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLatestPriceEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/prices/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	quote := domain.PriceQuote{
		Timestamp: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		GramGold:  3470.5,
		OunceUSD:  2650.2,
		USDTRY:    40.72,
		OunceTRY:  107916.1,
	}
	require.NoError(t, f.prices.AppendTick(quote))

	rec = f.do(t, http.MethodGet, "/api/prices/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[domain.PriceQuote](t, rec)
	assert.InDelta(t, 3470.5, got.GramGold, 1e-9)
	assert.Equal(t, quote.Timestamp, got.Timestamp)
}

func TestCandlesEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/candles/5m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.candles.UpsertCandle(domain.Candle{
			Interval: domain.TF1h,
			TsOpen:   base.Add(time.Duration(i) * time.Hour),
			Open:     3470, High: 3475, Low: 3465, Close: 3472,
			TickCount: 50,
			Sealed:    true,
		}))
	}

	rec = f.do(t, http.MethodGet, "/api/candles/1h?count=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[[]domain.Candle](t, rec)
	assert.Len(t, got, 2)
}

func TestAnalysisEndpoints(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/analysis/2h/latest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/analysis/1h/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	record := &domain.AnalysisRecord{
		Timestamp:      time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		Timeframe:      domain.TF1h,
		GramPrice:      3470.5,
		Signal:         domain.SignalBuy,
		Confidence:     0.62,
		SignalStrength: domain.StrengthModerate,
		Summary:        "1h: MODERATE BUY",
		SubAnalyses: domain.SubAnalyses{
			&domain.Divergence{Bullish: true, Strength: 4, Confidence: 0.9},
		},
	}
	require.NoError(t, f.analyses.Insert(record))

	rec = f.do(t, http.MethodGet, "/api/analysis/1h/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[domain.AnalysisRecord](t, rec)
	assert.Equal(t, domain.SignalBuy, got.Signal)
	require.Len(t, got.SubAnalyses, 1)
	assert.Equal(t, domain.KindDivergence, got.SubAnalyses[0].Kind())

	rec = f.do(t, http.MethodGet, "/api/analysis/1h?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeJSON[[]domain.AnalysisRecord](t, rec)
	assert.Len(t, history, 1)

	rec = f.do(t, http.MethodGet, "/api/analysis/1h?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	sig := &domain.SignalRecord{
		Timestamp:  time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		Timeframe:  domain.TF1h,
		Signal:     domain.SignalBuy,
		Confidence: 0.62,
		Strength:   domain.StrengthModerate,
		GramPrice:  3470.5,
	}
	require.NoError(t, f.signals.Insert(sig))

	rec := f.do(t, http.MethodGet, "/api/signals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[[]domain.SignalRecord](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalBuy, got[0].Signal)
}

func TestCreateSimulationValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/simulations/", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/simulations/", `{"strategy_type":"MAIN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/simulations/", `{"name":"alpha","strategy_type":"YOLO"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulationLifecycleEndpoints(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/simulations/", `{"name":"alpha","strategy_type":"MAIN"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[domain.Simulation](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, domain.SimActive, created.Status)
	assert.True(t, created.InitialCapital.Equal(decimal.NewFromInt(1000)))

	rec = f.do(t, http.MethodGet, "/api/simulations/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[[]map[string]any](t, rec)
	require.Len(t, list, 1)
	capital, ok := list[0]["capital"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, capital, len(domain.Timeframes))

	rec = f.do(t, http.MethodGet, "/api/simulations/"+created.ID+"/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decodeJSON[[]domain.Position](t, rec)
	assert.Empty(t, positions)

	rec = f.do(t, http.MethodGet, "/api/simulations/"+created.ID+"/daily", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/simulations/"+created.ID+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := f.simRepo.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimPaused, got.Status)

	rec = f.do(t, http.MethodPost, "/api/simulations/"+created.ID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = f.simRepo.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimActive, got.Status)
}
