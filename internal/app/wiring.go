// Package app holds the wiring shared by the cowindex binaries.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/config"
	"cowindex/internal/infrastructure/ethrpc"
	"cowindex/internal/infrastructure/logging"
	"cowindex/internal/infrastructure/orderbook"
	"cowindex/internal/infrastructure/rediscache"
	"cowindex/internal/infrastructure/subgraph"
	"cowindex/internal/infrastructure/telemetry"

	"github.com/redis/go-redis/v9"
)

type BuildInfo struct {
	Service   string
	Version   string
	Commit    string
	BuildTime string
}

// InitObservability installs logging and tracing. A file logger rotates on
// SIGHUP until ctx ends. The returned func flushes pending spans and closes
// the log file.
func InitObservability(ctx context.Context, cfg config.Config, build BuildInfo) func() {
	rotating, err := logging.Init(logging.Config{
		Service:    build.Service,
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	}
	stopHangup := func() {}
	if rotating != nil {
		hangup := make(chan os.Signal, 1)
		signal.Notify(hangup, syscall.SIGHUP)
		stopHangup = func() { signal.Stop(hangup) }
		go rotating.RotateOn(ctx, hangup)
	}

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		ServiceName: build.Service,
		Version:     build.Version,
		Endpoint:    cfg.OtelEndpoint,
	})
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
		stopHangup()
		if rotating != nil {
			_ = rotating.Close()
		}
	}
}

// ConnectRedis returns nil when REDIS_ADDR is unset or unreachable; callers
// then run without caches.
func ConnectRedis(ctx context.Context, cfg config.Config) *redis.Client {
	client, err := rediscache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "err", err)
		return nil
	}
	return client
}

// Service bundles the cowiness service with the RPC client used for
// readiness checks.
type Service struct {
	*application.Service
	RPC *ethrpc.Client
}

func NewService(cfg config.Config, cache *redis.Client, observer application.ComputeObserver) (*Service, error) {
	strategy, err := application.ParseReconstructionStrategy(cfg.ReconstructionStrategy)
	if err != nil {
		return nil, err
	}
	pinning, err := application.ParsePricePinning(cfg.PricePinning)
	if err != nil {
		return nil, err
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:        cfg.RPCURL,
		Timeout:    cfg.HTTPClientTimeout,
		MaxRetries: cfg.HTTPClientRetries,
	})
	if err != nil {
		return nil, err
	}
	orderClient, err := orderbook.NewClient(orderbook.Config{
		URL:        cfg.OrderbookURL,
		Timeout:    cfg.HTTPClientTimeout,
		MaxRetries: cfg.HTTPClientRetries,
	})
	if err != nil {
		return nil, err
	}
	priceClient, err := subgraph.NewClient(subgraph.Config{
		URL:        cfg.SubgraphURL,
		Timeout:    cfg.HTTPClientTimeout,
		MaxRetries: cfg.HTTPClientRetries,
	})
	if err != nil {
		return nil, err
	}

	receipts, err := rediscache.NewReceiptCache(rpcClient, cache, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	orders, err := rediscache.NewOrderCache(orderClient, cache, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}

	service, err := application.NewService(receipts, orders, priceClient, observer, application.ServiceConfig{
		Network: application.Network{
			Settlement: cfg.SettlementAddress,
			Native:     cfg.NativeToken,
			Wrapped:    cfg.WrappedNative,
		},
		Strategy:     strategy,
		PricePinning: pinning,
		FetchWorkers: cfg.FetchWorkers,
	})
	if err != nil {
		return nil, err
	}
	return &Service{Service: service, RPC: rpcClient}, nil
}
