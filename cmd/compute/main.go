package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cowindex/internal/app"
	"cowindex/internal/config"
	"cowindex/internal/infrastructure/kafka"
	"cowindex/internal/infrastructure/storage"
	"cowindex/internal/interfaces/httpapi"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		slog.Error("KAFKA_BROKERS is required for compute streaming")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown := app.InitObservability(ctx, cfg, app.BuildInfo{Service: "cowindex-compute", Version: version})
	defer shutdown()

	cache := app.ConnectRedis(ctx, cfg)
	if cache != nil {
		defer cache.Close()
	}

	metrics := httpapi.NewMetrics()
	service, err := app.NewService(cfg, cache, metrics)
	if err != nil {
		slog.Error("service error", "err", err)
		os.Exit(1)
	}

	handle, err := storage.Open(storage.OpenConfig{
		SQLitePath:    cfg.SQLitePath,
		DBDSN:         cfg.DBDSN,
		ClickhouseDSN: cfg.ClickhouseDSN,
		Redis:         cache,
		CacheTTL:      cfg.CacheTTL,
	})
	if err != nil {
		slog.Error("storage error", "err", err)
		os.Exit(1)
	}
	defer handle.Close()

	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	consumer, err := kafka.NewConsumer(reader, service, handle, metrics, kafka.ConsumerConfig{
		ChainID:       cfg.ChainID,
		BatchSize:     int(cfg.BatchSize),
		FlushInterval: cfg.PollInterval,
	})
	if err != nil {
		slog.Error("consumer error", "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("metrics listening", "addr", cfg.HTTPAddr)
		if err := httpapi.ListenAndServe(ctx, cfg.HTTPAddr, httpapi.MetricsHandler(metrics)); err != nil {
			slog.Error("metrics server error", "err", err)
			cancel()
		}
	}()

	slog.Info("compute streaming started",
		"topic", cfg.KafkaTopic,
		"group", cfg.KafkaGroupID,
		"backend", handle.Backend,
	)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("compute stopped", "err", err)
		os.Exit(1)
	}
}
