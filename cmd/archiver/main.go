// archiver consumes an orchestrator event stream and persists batches to
// PostgreSQL, exposing Prometheus metrics while it runs.
//
// Usage: go run ./cmd/archiver --config configs/archiver.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swarmdash/eventstream/internal/archive"
	"github.com/swarmdash/eventstream/internal/config"
	"github.com/swarmdash/eventstream/internal/database"
	"github.com/swarmdash/eventstream/internal/metrics"
	"github.com/swarmdash/eventstream/internal/model"
	"github.com/swarmdash/eventstream/internal/stream"
	"github.com/swarmdash/eventstream/internal/transport"
	"github.com/swarmdash/eventstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/archiver.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting archiver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateDatabase(); err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(reg)
	metricsServer := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg, logger)
	metricsServer.Start()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}()

	arc := archive.New(archive.Config{
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
	}, pool, logger)
	if err := arc.Start(ctx); err != nil {
		logger.Error("failed to start archiver", "error", err)
		os.Exit(1)
	}

	client := stream.New(stream.Config{
		URL:                  cfg.Stream.URL,
		Protocols:            cfg.Stream.Protocols,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Stream.ReconnectDelay,
		HeartbeatInterval:    cfg.Stream.HeartbeatInterval,
		DisableAggregation:   !cfg.Aggregation.On(),
		BatchInterval:        cfg.Aggregation.BatchInterval,
		MaxBatchSize:         cfg.Aggregation.MaxBatchSize,
		HistoryCapacity:      cfg.History.Capacity,
		Logger:               logger,
		Metrics:              collectors,
		OnBatch: func(b model.Batch) {
			arc.Add(b.Events)
		},
	})

	client.OnStatusChange(func(s transport.State) {
		logger.Info("connection state changed", "state", s)
		if s == transport.StateError {
			logger.Error("stream gave up", "error", client.LastError())
			cancel()
		}
	})

	for _, ch := range cfg.Stream.Channels {
		client.Subscribe(ch)
	}

	logger.Info("connecting to stream",
		"url", cfg.Stream.URL,
		"channels", cfg.Stream.Channels,
	)
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	logger.Info("shutting down")
	client.Close()

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := arc.Stop(stopCtx); err != nil {
		logger.Error("archiver stop failed", "error", err)
	}

	stats := arc.Stats()
	logger.Info("archiver finished",
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"flushes", stats.Flushes,
		"errors", stats.Errors,
	)
}
