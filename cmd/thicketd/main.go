// Command thicketd runs the background pipeline: the event registry,
// the queue-consuming agents, and the maintenance scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thicketlab/thicket/internal/agents"
	"github.com/thicketlab/thicket/internal/config"
	"github.com/thicketlab/thicket/internal/embedding"
	"github.com/thicketlab/thicket/internal/graph"
	"github.com/thicketlab/thicket/internal/handlers"
	"github.com/thicketlab/thicket/internal/otel"
	"github.com/thicketlab/thicket/internal/sched"
	"github.com/thicketlab/thicket/internal/similarity"
	"github.com/thicketlab/thicket/internal/store"
	"github.com/thicketlab/thicket/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "thicketd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	homeDir := flag.String("home", config.DefaultHomeDir(), "data directory")
	quiet := flag.Bool("quiet", false, "suppress stdout logging")
	flag.Parse()

	cfg, err := config.Load(*homeDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *quiet {
		cfg.Quiet = true
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cfg.Quiet)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProvider, err := otel.Init(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	index := similarity.NewIndex(st)
	gr := graph.New(st, logger)
	batch := graph.NewBatchJob(st, logger, metrics, cfg.Graph.MinEdgeScore)

	registry, err := handlers.NewRegistry(handlers.Deps{
		Store:    st,
		Graph:    gr,
		Provider: provider,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("build event registry: %w", err)
	}

	surfacing, err := agents.NewSurfacingAgent(st, logger)
	if err != nil {
		return fmt.Errorf("build surfacing agent: %w", err)
	}

	pollInterval := time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second
	orch := agents.NewOrchestrator(st, logger, metrics, pollInterval, cfg.Queue.BatchSize)
	orch.Register(agents.NewAgent(
		agents.NewConnectionAgent(st, index, registry, logger,
			cfg.Graph.SimilarityThreshold, cfg.Graph.MaxSimilar),
		st, logger, metrics))
	orch.Register(agents.NewAgent(
		agents.NewNurtureAgent(st, index, logger,
			cfg.Graph.SimilarityThreshold, cfg.Graph.MaxSimilar),
		st, logger, metrics))
	orch.Register(agents.NewAgent(
		agents.NewObjectiveAgent(st, registry, logger,
			cfg.Graph.ReconnectionThreshold, cfg.Graph.MaxSuggestions),
		st, logger, metrics))
	orch.Register(agents.NewAgent(surfacing, st, logger, metrics))

	scheduler, err := sched.New(st, batch, logger, sched.Options{
		Cron:         cfg.MaintenanceCron,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		StaleAfter:   time.Duration(cfg.Queue.StaleAfterSeconds) * time.Second,
		CleanupAfter: time.Duration(cfg.Queue.CleanupAfterHours) * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start agents: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", "error", err)
	}

	logger.Info("thicketd running",
		"home", cfg.HomeDir,
		"db", cfg.DBPath,
		"embedding_provider", cfg.Embedding.Provider,
	)

	reloads := watcher.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			scheduler.Stop()
			if err := orch.Stop(); err != nil {
				logger.Error("agent shutdown incomplete", "error", err)
			}
			return nil
		case ev, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			// Tunables like thresholds and weights take effect on the
			// next restart of the affected component; log the change so
			// operators know a restart is pending.
			logger.Info("config change detected; restart to apply", "path", ev.Path)
		}
	}
}

func newProvider(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	case "local":
		return embedding.NewLocal(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
