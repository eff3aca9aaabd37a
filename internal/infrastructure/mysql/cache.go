package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	settlementCacheVersionKey = "cowindex:settlements:version"
	settlementCacheKeyPrefix  = "cowindex:settlements:v"
	defaultCacheTTL           = time.Minute
)

type SettlementStore interface {
	StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error
	QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error)
	Ping(ctx context.Context) error
}

// CachedRepository serves settlement queries from redis. Every write bumps a
// version counter so stale pages are never read back.
type CachedRepository struct {
	store SettlementStore
	cache *redis.Client
	ttl   time.Duration
}

// NewCachedRepository wraps store. A nil cache disables caching.
func NewCachedRepository(store SettlementStore, cache *redis.Client, ttl time.Duration) (*CachedRepository, error) {
	if store == nil {
		return nil, errors.New("settlement store is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{store: store, cache: cache, ttl: ttl}, nil
}

func (r *CachedRepository) StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error {
	if err := r.store.StoreSettlementRecords(ctx, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *CachedRepository) QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error) {
	if r.cache == nil {
		return r.store.QuerySettlements(ctx, filter)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.store.QuerySettlements(ctx, filter)
	}
	key := settlementCacheKey(version, filter)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var records []domain.SettlementRecord
		if err := json.Unmarshal([]byte(cached), &records); err == nil {
			return records, nil
		}
	}

	records, err := r.store.QuerySettlements(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return records, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, settlementCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, settlementCacheVersionKey).Err()
}

func settlementCacheKey(version string, filter application.SettlementQueryFilter) string {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(settlementCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":tx=")
	b.WriteString(orAny(strings.ToLower(filter.TxHash)))
	b.WriteString(":solver=")
	b.WriteString(orAny(strings.ToLower(filter.Solver)))
	b.WriteString(":status=")
	b.WriteString(orAny(string(filter.Status)))
	b.WriteString(":from=")
	if filter.FromTimestamp != nil {
		b.WriteString(strconv.FormatInt(*filter.FromTimestamp, 10))
	} else {
		b.WriteString("any")
	}
	b.WriteString(":to=")
	if filter.ToTimestamp != nil {
		b.WriteString(strconv.FormatInt(*filter.ToTimestamp, 10))
	} else {
		b.WriteString("any")
	}
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(application.ClampLimit(filter.Limit)))
	return b.String()
}

func orAny(value string) string {
	if value == "" {
		return "any"
	}
	return value
}
