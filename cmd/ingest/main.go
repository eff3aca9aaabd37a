package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cowindex/internal/app"
	"cowindex/internal/application"
	"cowindex/internal/config"
	"cowindex/internal/infrastructure/kafka"
	"cowindex/internal/infrastructure/storage"
	"cowindex/internal/infrastructure/subgraph"
	"cowindex/internal/interfaces/httpapi"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown := app.InitObservability(ctx, cfg, app.BuildInfo{Service: "cowindex-ingest", Version: version})
	defer shutdown()

	source, err := subgraph.NewClient(subgraph.Config{
		URL:        cfg.SubgraphURL,
		Timeout:    cfg.HTTPClientTimeout,
		MaxRetries: cfg.HTTPClientRetries,
	})
	if err != nil {
		slog.Error("subgraph error", "err", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		ChainID: cfg.ChainID,
	})
	if err != nil {
		slog.Error("kafka producer error", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	handle, err := storage.Open(storage.OpenConfig{
		SQLitePath:    cfg.SQLitePath,
		DBDSN:         cfg.DBDSN,
		ClickhouseDSN: cfg.ClickhouseDSN,
	})
	if err != nil {
		slog.Error("storage error", "err", err)
		os.Exit(1)
	}
	defer handle.Close()

	metrics := httpapi.NewMetrics()
	if cursor, ok, err := handle.Cursor.LastSettlementTimestamp(ctx); err == nil && ok {
		metrics.SetIngestCursor(cursor)
	}

	ingester, err := application.NewIngester(source, producer, handle.Cursor, metrics, application.IngestConfig{
		StartTimestamp: cfg.StartTimestamp,
		PollInterval:   cfg.PollInterval,
		BatchSize:      int(cfg.BatchSize),
	})
	if err != nil {
		slog.Error("ingester error", "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("metrics listening", "addr", cfg.HTTPAddr)
		if err := httpapi.ListenAndServe(ctx, cfg.HTTPAddr, httpapi.MetricsHandler(metrics)); err != nil {
			slog.Error("metrics server error", "err", err)
			cancel()
		}
	}()

	slog.Info("settlement ingest started",
		"topic", cfg.KafkaTopic,
		"chain_id", cfg.ChainID,
		"backend", handle.Backend,
		"start_timestamp", cfg.StartTimestamp,
	)
	if err := ingester.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("ingest stopped", "err", err)
		os.Exit(1)
	}
}
