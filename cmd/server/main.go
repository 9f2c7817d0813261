// Package main is the entry point for the GoldPulse gold analysis and
// paper-trading engine. Startup wires the pipeline in dependency order:
// databases, event bus, repositories, market ingestion, strategy and
// scheduler, simulations, HTTP server. Shutdown unwinds in reverse so no
// component observes a dependency that is already gone.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/config"
	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
	"github.com/aristath/goldpulse/internal/events"
	"github.com/aristath/goldpulse/internal/feed"
	"github.com/aristath/goldpulse/internal/health"
	"github.com/aristath/goldpulse/internal/market"
	"github.com/aristath/goldpulse/internal/scheduler"
	"github.com/aristath/goldpulse/internal/server"
	"github.com/aristath/goldpulse/internal/simulation"
	"github.com/aristath/goldpulse/internal/strategy"
	"github.com/aristath/goldpulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting GoldPulse")

	// Two-database layout: append-heavy time series in history.db, the
	// simulation ledger in state.db with full-durability sync.
	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileHistory,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	stateDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "state.db"),
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state database")
	}
	defer stateDB.Close()

	if err := historyDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}
	if err := stateDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate state database")
	}

	bus := events.NewBus(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	monitor := health.NewMonitor(bus, registry, log)
	database.SetRetryHook(monitor.StoreRetried)

	// Repositories.
	prices := market.NewPriceRepository(historyDB.Conn(), log)
	candles := market.NewCandleRepository(historyDB.Conn(), log)
	analyses := strategy.NewAnalysisRepository(historyDB.Conn(), log)
	signals := strategy.NewSignalRepository(historyDB.Conn(), log)
	simRepo := simulation.NewRepository(stateDB.Conn(), log)

	// Market pipeline: feed -> ingestor -> aggregator -> bus.
	aggregator := market.NewAggregator(candles, bus, monitor, log)
	if err := aggregator.Recover(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover open candles")
	}

	source := buildFeed(cfg, log)
	ingestor := market.NewIngestor(source, prices, aggregator, bus, monitor, 1.0, log)

	compactor := market.NewCompactor(historyDB.Conn(), cfg.RetentionDaysRaw, log)

	// Strategy pipeline.
	snapshots := strategy.NewSnapshotBuilder(prices)
	combiner := strategy.NewCombiner(cfg, log)
	hybrid := strategy.NewHybrid(cfg, combiner, log)
	sched := scheduler.New(candles, snapshots, hybrid, analyses, signals, bus, monitor, log)

	// Simulations.
	engine := simulation.NewEngine(cfg, simRepo, bus, monitor, log)
	if err := engine.SeedDefaults(); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed default simulations")
	}
	roller := simulation.NewRoller(simRepo, bus, cfg.TradingWindow.Location(), log)

	srv := server.New(server.Deps{
		Config:   cfg,
		Bus:      bus,
		Monitor:  monitor,
		Prices:   prices,
		Candles:  candles,
		Analyses: analyses,
		Signals:  signals,
		SimRepo:  simRepo,
		Engine:   engine,
		Registry: registry,
		Log:      log,
	})

	// Start order: consumers before producers, so the first tick already
	// has somewhere to go.
	monitor.Start(30 * time.Second)
	if err := engine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start simulation engine")
	}
	sched.Start()
	if err := roller.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start daily roller")
	}
	if err := compactor.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start tick compactor")
	}
	ingestor.Start()
	source.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	source.Stop()
	ingestor.Stop()
	compactor.Stop()
	roller.Stop()
	sched.Stop()
	engine.Stop()
	monitor.Stop()

	if err := historyDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("History WAL checkpoint failed")
	}
	if err := stateDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("State WAL checkpoint failed")
	}

	log.Info().Msg("GoldPulse stopped")
}

// priceFeed is the lifecycle surface shared by both feed adapters.
type priceFeed interface {
	domain.QuoteSource
	Start()
	Stop()
}

// buildFeed selects the vendor poller, or the synthetic dev feed when no
// endpoint is configured.
func buildFeed(cfg *config.Config, log zerolog.Logger) priceFeed {
	if cfg.FeedURL == "" {
		log.Warn().Msg("No feed URL configured, using synthetic dev feed")
		return feed.NewSynthetic(cfg.CollectionInterval, log)
	}
	return feed.NewPoller(cfg.FeedURL, cfg.CollectionInterval, log)
}
