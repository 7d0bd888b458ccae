package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polledge/config"
	"github.com/alejandrodnm/polledge/internal/adapters/feed"
	"github.com/alejandrodnm/polledge/internal/adapters/gateway"
	"github.com/alejandrodnm/polledge/internal/adapters/storage"
	"github.com/alejandrodnm/polledge/internal/monitor"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	markets := flag.String("markets", "markets.json", "path to the market snapshot fixture")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("autopilot starting",
		"config", *configPath,
		"interval", cfg.RefreshInterval(),
		"dsn", cfg.Storage.DSN)

	ledger, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	marketFeed, err := feed.Load(*markets)
	if err != nil {
		slog.Error("failed to load market fixture", "err", err, "path", *markets)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	state, err := ledger.Metrics(ctx, cfg.Portfolio.StartingCash)
	if err != nil {
		slog.Error("failed to read portfolio state", "err", err)
		os.Exit(1)
	}
	paper := gateway.NewPaper(state.CashAvailable)

	m := monitor.New(ledger, marketFeed, paper, monitor.Config{
		Interval: cfg.RefreshInterval(),
	})

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("monitor exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("autopilot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
