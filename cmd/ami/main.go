package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/api"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/fetch"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/health"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/index"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/metrics"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/storage"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/version"

	// Import sources to register them
	_ "github.com/PabloPoletti/argentina-market-intelligence/pkg/sources/api"
	_ "github.com/PabloPoletti/argentina-market-intelligence/pkg/sources/file"
	_ "github.com/PabloPoletti/argentina-market-intelligence/pkg/sources/scrape"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
	once       = flag.Bool("once", false, "Run a single collection pass and exit")
	serveOnly  = flag.Bool("serve", false, "Serve stored data only, without collecting")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("ami version %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting ami", "version", version.Version)

	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed", "error", err.Error())
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	eng, err := newEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize engine", "error", err.Error())
		os.Exit(1)
	}
	defer eng.close()

	if *once {
		if err := eng.runOnce(ctx); err != nil {
			logger.Error("Collection run failed", "error", err.Error())
			eng.close()
			os.Exit(1)
		}
		return
	}

	errChan := make(chan error, 1)

	if !*serveOnly {
		go func() {
			errChan <- eng.runLoop(ctx)
		}()
	}

	if cfg.Server.Enabled {
		go func() {
			errChan <- eng.serve(ctx)
		}()
	} else if *serveOnly {
		logger.Error("--serve requires server.enabled in the configuration")
		os.Exit(1)
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.Error("Component failed", "error", err.Error())
			cancel()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	eng.shutdown(shutdownCtx)

	logger.Info("Shutdown complete")
}

// engine wires the pipeline collaborators together for one process.
type engine struct {
	cfg          *config.Config
	logger       *logging.Logger
	tracker      *health.Tracker
	orchestrator *fetch.Orchestrator
	aggregator   *consensus.Aggregator
	calculator   *index.Calculator
	store        *storage.Store
	exporter     *storage.Exporter
	httpServer   *api.Server
	wsServer     *api.WebSocketServer
}

func newEngine(cfg *config.Config, logger *logging.Logger) (*engine, error) {
	tiers, err := fetch.BuildTiers(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build source tiers: %w", err)
	}

	var sourceIDs []string
	for _, tier := range tiers {
		for _, src := range tier.Sources {
			sourceIDs = append(sourceIDs, src.Name())
		}
	}
	tracker := health.NewTracker(cfg.Health, sourceIDs)

	calculator, err := index.NewCalculator(cfg.Index, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create index calculator: %w", err)
	}

	eng := &engine{
		cfg:          cfg,
		logger:       logger,
		tracker:      tracker,
		orchestrator: fetch.New(tiers, tracker, cfg.Fetch.Timeout.ToDuration(), logger),
		aggregator:   consensus.NewAggregator(cfg.Aggregation, logger),
		calculator:   calculator,
	}

	if cfg.Storage.Path != "" {
		eng.store, err = storage.Open(cfg.Storage.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}
	if cfg.Storage.ExportDir != "" {
		eng.exporter, err = storage.NewExporter(cfg.Storage.ExportDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	if cfg.Server.Enabled {
		if eng.store == nil {
			return nil, errors.New("server requires storage.path to be configured")
		}
		eng.httpServer = api.NewServer(cfg.Server.Addr, eng.store, tracker, cfg.Server.CacheTTL.ToDuration(), logger)
		if cfg.Server.WebSocket.Enabled {
			eng.wsServer = api.NewWebSocketServer(cfg.Server.WebSocket.Addr, logger)
			eng.httpServer.SetWebSocketServer(eng.wsServer)
		}
	}

	return eng, nil
}

// runOnce executes one full pipeline pass: collect, clean, aggregate,
// index, persist, publish. A pass where every source fails is an error;
// no placeholder data is ever produced in its place.
func (e *engine) runOnce(ctx context.Context) error {
	result, err := e.orchestrator.Run(ctx)
	if err != nil {
		var all *fetch.AllSourcesFailedError
		if errors.As(err, &all) {
			e.logger.Error("Every source failed, no data for this run", "error", all.Error())
		}
		return err
	}

	cleaned, dropped := observation.Clean(result.Observations)
	metrics.RecordObservations("all", len(cleaned), dropped)
	if len(cleaned) == 0 {
		return fmt.Errorf("all %d collected observations were invalid", len(result.Observations))
	}

	prices, err := e.aggregator.Aggregate(cleaned, e.tracker.Snapshot())
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	var series *index.Series
	if e.store != nil {
		if err := e.store.SaveConsensus(ctx, prices); err != nil {
			return fmt.Errorf("failed to persist consensus: %w", err)
		}

		// The index chains over the full stored history, not just this run.
		history, err := e.store.AllConsensus(ctx)
		if err != nil {
			return fmt.Errorf("failed to load price history: %w", err)
		}
		series, err = e.calculator.Compute(history)
		if err != nil && !errors.Is(err, index.ErrDegenerateBase) {
			return fmt.Errorf("index computation failed: %w", err)
		}
		if errors.Is(err, index.ErrDegenerateBase) {
			e.logger.Error("Index series is undefined", "error", err.Error())
		}
		if err := e.store.SaveIndex(ctx, series); err != nil {
			return fmt.Errorf("failed to persist index: %w", err)
		}
		if err := e.store.SaveHealthReport(ctx, e.tracker.Report()); err != nil {
			e.logger.Warn("Failed to persist health report", "error", err.Error())
		}
	} else {
		series, err = e.calculator.Compute(prices)
		if err != nil && !errors.Is(err, index.ErrDegenerateBase) {
			return fmt.Errorf("index computation failed: %w", err)
		}
	}

	if e.exporter != nil {
		if _, err := e.exporter.ExportConsensusCSV(prices); err != nil {
			e.logger.Warn("Consensus export failed", "error", err.Error())
		}
		if _, err := e.exporter.ExportIndexJSON(series); err != nil {
			e.logger.Warn("Index export failed", "error", err.Error())
		}
	}

	if e.httpServer != nil {
		e.httpServer.InvalidateCache()
	}
	if e.wsServer != nil {
		e.wsServer.SendUpdate(api.RunUpdate{Prices: prices, Series: series})
	}

	e.logger.Info("Run complete",
		"observations", len(cleaned),
		"dropped", dropped,
		"products", len(prices),
		"duration", result.Duration.String())

	return nil
}

// runLoop runs collection passes at the configured interval until the
// context is canceled. A failed pass is logged and retried next interval.
func (e *engine) runLoop(ctx context.Context) error {
	interval := e.cfg.Fetch.Interval.ToDuration()

	if err := e.runOnce(ctx); err != nil {
		e.logger.Error("Collection run failed", "error", err.Error())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.runOnce(ctx); err != nil {
				e.logger.Error("Collection run failed", "error", err.Error())
			}
		}
	}
}

// serve runs the HTTP (and optional WebSocket) API until shutdown.
func (e *engine) serve(ctx context.Context) error {
	if e.wsServer != nil {
		go func() {
			if err := e.wsServer.Start(ctx); err != nil {
				e.logger.Error("WebSocket server error", "error", err.Error())
			}
		}()
	}
	return e.httpServer.Start()
}

// shutdown stops the servers gracefully.
func (e *engine) shutdown(ctx context.Context) {
	if e.httpServer != nil {
		if err := e.httpServer.Stop(ctx); err != nil {
			e.logger.Warn("HTTP server shutdown failed", "error", err.Error())
		}
	}
	if e.wsServer != nil {
		e.wsServer.Stop()
	}
}

func (e *engine) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("Failed to close storage", "error", err.Error())
		}
	}
}
