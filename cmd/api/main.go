package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cowindex/internal/app"
	"cowindex/internal/config"
	"cowindex/internal/infrastructure/storage"
	"cowindex/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown := app.InitObservability(ctx, cfg, app.BuildInfo{Service: "cowindex-api", Version: version})
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

	var store httpapi.ResultStore
	if cfg.SQLitePath != "" || cfg.DBDSN != "" {
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
		store = handle
		slog.Info("result store opened", "backend", handle.Backend)
	}

	server, err := httpapi.NewServer(service, store, service.RPC, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	slog.Info("http server listening",
		"addr", cfg.HTTPAddr,
		"strategy", cfg.ReconstructionStrategy,
		"price_pinning", cfg.PricePinning,
	)
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}
}
