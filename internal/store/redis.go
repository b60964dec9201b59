package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/liquidity-pool/internal/model"
)

// RedisConfig holds connection parameters for the Redis client.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
}

// ConnectRedis creates a Redis client and pings it.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Event queries are cached under a generation number that every Apply
// bumps, so stale pages are never served and old keys expire on their own.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Apply(ctx context.Context, cs model.ChangeSet) error {
	if err := s.primary.Apply(ctx, cs); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, snapshotKey)
	s.rdb.Incr(ctx, generationKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return snap, true, nil
		}
	}

	// Cache miss: read from primary.
	snap, ok, err := s.primary.Load(ctx)
	if err != nil || !ok {
		return snap, ok, err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey, data, s.ttl)
	}
	return snap, true, nil
}

func (s *CachedStore) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	gen, err := s.rdb.Get(ctx, generationKey).Int64()
	if err != nil && err != redis.Nil {
		return s.primary.ListEvents(ctx, f)
	}
	key := eventsKey(gen, f)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return events, nil
}

// --- Cache helpers ---

const (
	snapshotKey   = "pool:snapshot"
	generationKey = "pool:generation"
)

func eventsKey(gen int64, f model.EventFilter) string {
	account := "*"
	if f.Account != nil {
		account = f.Account.Hex()
	}
	return fmt.Sprintf("pool:events:%d:%d:%s:%s:%d", gen, f.OrderID, account, f.Type, f.Limit)
}
