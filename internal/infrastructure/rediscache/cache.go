package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	receiptKeyPrefix = "cowindex:receipt:"
	orderKeyPrefix   = "cowindex:order:"
	defaultTTL       = 24 * time.Hour
)

// Connect returns nil without error when addr is empty, which callers treat
// as caching disabled.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ReceiptCache memoizes receipts. Settled receipts do not change, so only
// successful lookups are stored.
type ReceiptCache struct {
	source application.ReceiptSource
	cache  *redis.Client
	ttl    time.Duration
}

func NewReceiptCache(source application.ReceiptSource, cache *redis.Client, ttl time.Duration) (*ReceiptCache, error) {
	if source == nil {
		return nil, errors.New("receipt source is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ReceiptCache{source: source, cache: cache, ttl: ttl}, nil
}

func (c *ReceiptCache) FetchReceipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	return cached(ctx, c.cache, c.ttl, receiptKeyPrefix+strings.ToLower(txHash), func() (domain.Receipt, error) {
		return c.source.FetchReceipt(ctx, txHash)
	})
}

// OrderCache memoizes orderbook lookups by uid.
type OrderCache struct {
	source application.OrderSource
	cache  *redis.Client
	ttl    time.Duration
}

func NewOrderCache(source application.OrderSource, cache *redis.Client, ttl time.Duration) (*OrderCache, error) {
	if source == nil {
		return nil, errors.New("order source is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &OrderCache{source: source, cache: cache, ttl: ttl}, nil
}

func (c *OrderCache) FetchOrder(ctx context.Context, uid string) (domain.Order, error) {
	return cached(ctx, c.cache, c.ttl, orderKeyPrefix+strings.ToLower(uid), func() (domain.Order, error) {
		return c.source.FetchOrder(ctx, uid)
	})
}

// cached reads key, falling back to load on a miss or any redis failure.
func cached[T any](ctx context.Context, cache *redis.Client, ttl time.Duration, key string, load func() (T, error)) (T, error) {
	if cache == nil {
		return load()
	}
	if raw, err := cache.Get(ctx, key).Bytes(); err == nil {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Debug("cache read failed", "key", key, "err", err)
	}

	value, err := load()
	if err != nil {
		return value, err
	}
	if payload, err := json.Marshal(value); err == nil {
		if err := cache.Set(ctx, key, payload, ttl).Err(); err != nil {
			slog.Debug("cache write failed", "key", key, "err", err)
		}
	}
	return value, nil
}
