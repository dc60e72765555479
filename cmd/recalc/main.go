package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/aevon-lab/recalc/internal/core/config"
	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/aevon-lab/recalc/internal/core/storage"
	"github.com/aevon-lab/recalc/internal/core/storage/memory"
	"github.com/aevon-lab/recalc/internal/core/storage/postgres"
	"github.com/aevon-lab/recalc/internal/engine"
	"github.com/aevon-lab/recalc/internal/formula"
	"github.com/aevon-lab/recalc/internal/metrics"
	"github.com/aevon-lab/recalc/internal/migrations"
	"github.com/aevon-lab/recalc/internal/model"
	"github.com/aevon-lab/recalc/internal/reactor"
	"github.com/aevon-lab/recalc/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "recalc.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Bootstrap logger, replaced once the config is known
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("Loaded config", "config", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Storage
	var (
		store    storage.Store
		health   server.HealthChecker
		notifier storage.Notifier
	)
	switch cfg.Database.Type {
	case "postgres":
		dbAdapter, err := postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()

		// 2.1. Run Database Migrations
		if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}

		// 2.2. Change notifications, polling remains the fallback
		if cfg.Feed.ListenChannel != "" {
			listener, err := postgres.NewListener(cfg.Database.DSN, cfg.Feed.ListenChannel)
			if err != nil {
				slog.Warn("Change notifications unavailable, polling only", "error", err)
			} else {
				defer listener.Close()
				go listener.Run(ctx)
				notifier = listener
			}
		}

		store = postgres.NewStore(dbAdapter)
		health = dbAdapter
	case "memory":
		mem := memory.New()
		store = mem
		notifier = mem
		slog.Warn("Using in-memory store, nothing is persisted")
	}

	// 3. Model source
	var modelSource storage.ModelStore = store
	if cfg.Models.SourceType == "filesystem" {
		modelSource = model.NewFileSystemSource(cfg.Models.Path)
	}

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Engine
	eng := engine.New(store, formula.NewHCLCompiler(), engine.Options{
		InitModel:        cfg.Engine.InitModel,
		InitPollInterval: cfg.Engine.InitPollInterval,
		StrictFormulas:   cfg.Engine.StrictFormulas,
		WorkerCount:      cfg.Engine.WorkerCount,
		QueueSize:        cfg.Engine.QueueSize,
		Retry: storage.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
		Reactor: reactor.Options{
			EvalTimeout:        cfg.Engine.EvalTimeout,
			StoreTimeout:       cfg.Engine.StoreTimeout,
			MaxCascadeDepth:    cfg.Engine.MaxCascadeDepth,
			CascadeHistorySize: cfg.Engine.CascadeHistorySize,
			MaxEvalFailures:    cfg.Engine.MaxEvalFailures,
			QuarantineTTL:      cfg.Engine.QuarantineTTL,
			EntryConcurrency:   cfg.Engine.EntryConcurrency,
			Metrics:            m,
		},
		Consumer: reactor.ConsumerOptions{
			Name:         cfg.Feed.Consumer,
			BatchSize:    cfg.Feed.BatchSize,
			PollInterval: cfg.Feed.PollInterval,
			StartFrom:    cfg.Feed.StartFrom,
			GapTimeout:   cfg.Feed.GapTimeout,
			Metrics:      m,
		},
		ModelSource: modelSource,
		Notifier:    notifier,
	})

	// 6. Start Services
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		err := eng.Start(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, recalcerr.ErrNotInitialized):
			slog.Warn("Engine idle until restart: platform not initialized")
		default:
			slog.Error("Engine stopped with error", "error", err)
			if !cfg.Server.Enabled {
				cancel()
			}
		}
	}()

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if cfg.Server.Enabled {
		srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), health, eng, reg, cfg.Server.Mode)
		if err := srv.Run(ctx); err != nil {
			slog.Error("Server stopped with error", "error", err)
			cancel()
		}
	} else {
		<-ctx.Done()
	}

	<-engineDone
	slog.Info("Shutdown complete")
}

func newLogger(cfg corecfg.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
