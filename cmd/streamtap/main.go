// streamtap connects to an orchestrator event stream and prints events to
// the console.
//
// Usage:
//
//	go run ./cmd/streamtap --url ws://localhost:8080/stream --channels agents,tasks
//	go run ./cmd/streamtap --config configs/stream.yaml --verbose
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/swarmdash/eventstream/internal/config"
	"github.com/swarmdash/eventstream/internal/model"
	"github.com/swarmdash/eventstream/internal/stream"
	"github.com/swarmdash/eventstream/internal/transport"
	"github.com/swarmdash/eventstream/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	url := flag.String("url", "", "stream URL (overrides config)")
	channels := flag.String("channels", "", "comma-separated channels to subscribe")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := resolveConfig(logger, *configPath, *url, *channels)
	if cfg.Stream.URL == "" {
		logger.Error("no stream URL; pass --url or --config")
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
		OnBatch: func(b model.Batch) {
			printBatch(logger, b, *verbose)
		},
	})
	defer client.Close()

	client.OnStatusChange(func(s transport.State) {
		logger.Info("connection state changed", "state", s)
	})

	// Without aggregation there are no batches, so print raw frames.
	if !cfg.Aggregation.On() {
		client.OnAny(func(f model.Frame) {
			fmt.Printf("%s channel=%s payload=%s\n", f.Type, f.Channel, compact(f.Payload))
		})
	}

	for _, ch := range cfg.Stream.Channels {
		client.Subscribe(ch)
	}

	logger.Info("connecting", "url", cfg.Stream.URL, "channels", cfg.Stream.Channels)
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stats := client.History().Stats()
	logger.Info("shutting down",
		"events_seen", stats.Total,
		"last_error", client.LastError(),
	)
}

// resolveConfig merges the optional config file with command-line overrides.
func resolveConfig(logger *slog.Logger, path, url, channels string) *config.Config {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadAndValidate(path)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}

	if url != "" {
		cfg.Stream.URL = url
	}
	if channels != "" {
		cfg.Stream.Channels = strings.Split(channels, ",")
	}
	return cfg
}

func printBatch(logger *slog.Logger, b model.Batch, verbose bool) {
	for _, e := range b.Events {
		if verbose {
			full, err := json.Marshal(e)
			if err != nil {
				logger.Warn("marshal event", "error", err)
				continue
			}
			fmt.Println(string(full))
			continue
		}
		fmt.Printf("[%s] %s channel=%s payload=%s\n", b.ID, e.Type, e.Channel, compact(e.Payload))
	}
}

// compact truncates long payloads for one-line output.
func compact(raw json.RawMessage) string {
	const max = 120
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
