package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"apishield/internal/alerts"
	"apishield/internal/api"
	"apishield/internal/classifier"
	"apishield/internal/config"
	"apishield/internal/engine"
	"apishield/internal/ingest"
	"apishield/internal/logging"
	"apishield/internal/metrics"
	"apishield/internal/model"
	"apishield/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "apishield.yaml", "path to config file (yaml or json)")
	flag.Parse()

	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config", cfgManager.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider := classifier.NewProvider(config.ResolvePath(cfg.Model.Path), logger)
	if err := provider.Load(); err != nil {
		logger.Warn("no classifier model, running degraded", "path", cfg.Model.Path, "err", err)
	}

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	featureStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	sink := alerts.NewLog(cfg.AlertLog, logger)
	notifier := alerts.NewNotifier(cfg.Notify, logger)
	defer notifier.Close()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	eng := engine.NewEngine(cfg, logger, provider, alertsStore, featureStore, sink, store, notifier)

	events := make(chan model.Event, cfg.Ingest.ChannelBuffer)
	ingest.StartFileTail(ctx, cfgManager, events, eng, logger)
	ingest.StartKafka(ctx, cfgManager, events, eng, logger)
	ingest.StartTCPStream(ctx, cfgManager, events, eng, logger)
	ingest.StartREST(ctx, cfgManager, events, eng, logger)

	api.Start(ctx, cfgManager, featureStore, alertsStore, sink, eng, provider, logger, version)

	if cfgManager.Path() != "" {
		go cfgManager.Watch(0,
			func(next *config.Config) {
				eng.UpdateConfig(next)
				logger.Info("config reloaded")
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	if err := eng.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("detector exited", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
