package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensqt/perpcore/internal/api"
	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/supervisor"
	"github.com/opensqt/perpcore/internal/webhook"
	"github.com/opensqt/perpcore/pkg/logging"
	"github.com/opensqt/perpcore/pkg/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/tradingcore.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tradingcore version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting tradingcore",
		"version", version,
		"exchange", cfg.Exchange.Name,
		"instruments", len(cfg.Instruments),
		"httpPort", cfg.App.HTTPPort,
	)

	if cfg.Telemetry.MetricsEnabled {
		if err := telemetry.InitMetrics(); err != nil {
			logger.Warn("failed to initialize metrics exporter", "error", err)
		} else {
			logger.Info("metrics exporter initialized")
		}
	}

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Error("failed to construct supervisor", "error", err)
		os.Exit(1)
	}

	webhookHandler := webhook.New(sup.Dispatch, cfg, logger, cfg.App.WebhookRatePerSecond, cfg.App.WebhookRateBurst)
	server := api.New(sup, cfg, webhookHandler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		errCh <- sup.Run(ctx)
	}()
	go func() {
		errCh <- server.Run(ctx)
	}()

	logger.Info("tradingcore is running",
		"http_addr", fmt.Sprintf(":%d", cfg.App.HTTPPort),
		"websocket_url", fmt.Sprintf("ws://localhost:%d/ws", cfg.App.HTTPPort),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.App.HTTPPort),
	)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("component exited with error", "error", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("received shutdown signal, gracefully shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", "error", err)
	}

	logger.Info("tradingcore stopped")
}
