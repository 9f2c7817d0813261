// Package server provides the HTTP surface of GoldPulse: the REST API,
// the SSE and websocket event streams, and the Prometheus endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/events"
	"github.com/aristath/goldpulse/internal/health"
	"github.com/aristath/goldpulse/internal/market"
	"github.com/aristath/goldpulse/internal/simulation"
	"github.com/aristath/goldpulse/internal/strategy"
)

// Deps are the services the HTTP layer reads from. Handlers never own
// state; they project repository and engine state into JSON.
type Deps struct {
	Config   *config.Config
	Bus      *events.Bus
	Monitor  *health.Monitor
	Prices   *market.PriceRepository
	Candles  *market.CandleRepository
	Analyses *strategy.AnalysisRepository
	Signals  *strategy.SignalRepository
	SimRepo  *simulation.Repository
	Engine   *simulation.Engine
	Registry *prometheus.Registry
	Log      zerolog.Logger
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	log    zerolog.Logger
}

// New creates the HTTP server.
func New(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		log:    deps.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own lifetime
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	handlers := newHandlers(s.deps, s.log)
	stream := newEventsStreamHandler(s.deps.Bus, s.log)
	ws := newWSHandler(s.deps.Bus, s.log)

	s.router.Get("/health", handlers.handleHealth)
	s.router.Get("/ws", ws.serve)
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", stream.serve)

		r.Get("/prices/latest", handlers.handleLatestPrice)
		r.Get("/candles/{interval}", handlers.handleCandles)

		r.Get("/analysis/{timeframe}/latest", handlers.handleLatestAnalysis)
		r.Get("/analysis/{timeframe}", handlers.handleAnalysisHistory)
		r.Get("/signals", handlers.handleSignals)

		r.Get("/health", handlers.handleHealth)

		r.Route("/simulations", func(r chi.Router) {
			r.Get("/", handlers.handleListSimulations)
			r.Post("/", handlers.handleCreateSimulation)
			r.Get("/{id}/positions", handlers.handleSimulationPositions)
			r.Get("/{id}/daily", handlers.handleSimulationDaily)
			r.Post("/{id}/pause", handlers.handlePauseSimulation)
			r.Post("/{id}/resume", handlers.handleResumeSimulation)
		})
	})
}

// Start starts the HTTP listener. Blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.deps.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
