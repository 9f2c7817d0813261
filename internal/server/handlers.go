package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/domain"
)

// handlers projects engine state into the JSON API.
type handlers struct {
	deps Deps
	log  zerolog.Logger
}

func newHandlers(deps Deps, log zerolog.Logger) *handlers {
	return &handlers{deps: deps, log: log}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.deps.Monitor.Snapshot())
}

func (h *handlers) handleLatestPrice(w http.ResponseWriter, r *http.Request) {
	tick, err := h.deps.Prices.LatestTick()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tick == nil {
		h.writeError(w, http.StatusNotFound, "no prices yet")
		return
	}
	h.writeJSON(w, http.StatusOK, tick)
}

func (h *handlers) handleCandles(w http.ResponseWriter, r *http.Request) {
	interval := domain.Timeframe(chi.URLParam(r, "interval"))
	if !interval.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown interval")
		return
	}
	count := queryInt(r, "count", 200)

	candles, err := h.deps.Candles.FetchCandles(interval, count, time.Time{})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, candles)
}

func (h *handlers) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	tf := domain.Timeframe(chi.URLParam(r, "timeframe"))
	if !tf.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown timeframe")
		return
	}

	record, err := h.deps.Analyses.FetchLatest(tf)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "no analysis yet")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *handlers) handleAnalysisHistory(w http.ResponseWriter, r *http.Request) {
	tf := domain.Timeframe(chi.URLParam(r, "timeframe"))
	if !tf.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown timeframe")
		return
	}
	limit := queryInt(r, "limit", 100)
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = ts
	}

	records, err := h.deps.Analyses.FetchRange(tf, since, time.Now().UTC(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *handlers) handleSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := h.deps.Signals.FetchRecent(queryInt(r, "limit", 50))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, signals)
}

// simulationView joins a simulation with its live capital balances.
type simulationView struct {
	*domain.Simulation
	Capital map[domain.Timeframe]decimal.Decimal `json:"capital"`
}

func (h *handlers) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	sims, err := h.deps.SimRepo.List()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]simulationView, 0, len(sims))
	for _, sim := range sims {
		capital, err := h.deps.SimRepo.Capital(sim.ID)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views = append(views, simulationView{Simulation: sim, Capital: capital})
	}
	h.writeJSON(w, http.StatusOK, views)
}

// createSimulationRequest is the POST /api/simulations body. Omitted
// fields fall back to the configured defaults.
type createSimulationRequest struct {
	Name            string  `json:"name"`
	StrategyType    string  `json:"strategy_type"`
	InitialCapital  float64 `json:"initial_capital,omitempty"`
	SpreadTL        float64 `json:"spread_tl,omitempty"`
	CommissionPct   float64 `json:"commission_pct,omitempty"`
	MinConfidence   float64 `json:"min_confidence,omitempty"`
	MaxRiskPct      float64 `json:"max_risk_pct,omitempty"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct,omitempty"`
}

func (h *handlers) handleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	var req createSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	strategyType := domain.StrategyType(req.StrategyType)
	if !validStrategy(strategyType) {
		h.writeError(w, http.StatusBadRequest, "unknown strategy_type")
		return
	}

	defaults := h.deps.Config.Simulation
	sim := &domain.Simulation{
		Name:         req.Name,
		StrategyType: strategyType,
		Status:       domain.SimActive,
		InitialCapital: decimal.NewFromFloat(
			orDefault(req.InitialCapital, defaults.InitialCapital)),
		Costs: domain.SimulationCosts{
			SpreadTL:      decimal.NewFromFloat(orDefault(req.SpreadTL, defaults.SpreadTL)),
			CommissionPct: decimal.NewFromFloat(orDefault(req.CommissionPct, defaults.CommissionPct)),
		},
		Thresholds: domain.SimulationThresholds{
			MinConfidence:   orDefault(req.MinConfidence, defaults.MinConfidence),
			MaxRiskPct:      orDefault(req.MaxRiskPct, defaults.MaxRiskPct),
			MaxDailyLossPct: orDefault(req.MaxDailyLossPct, defaults.MaxDailyLossPct),
		},
	}

	if err := h.deps.Engine.Create(sim); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, sim)
}

func (h *handlers) handleSimulationPositions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	positions, err := h.deps.SimRepo.Positions(id, queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

func (h *handlers) handleSimulationDaily(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := h.deps.SimRepo.DailyHistory(id, queryInt(r, "limit", 90))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *handlers) handlePauseSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Engine.Pause(id, "paused by operator"); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SimPaused)})
}

func (h *handlers) handleResumeSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Engine.Resume(id); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SimActive)})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func orDefault(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func validStrategy(t domain.StrategyType) bool {
	for _, known := range domain.StrategyTypes {
		if t == known {
			return true
		}
	}
	return false
}
