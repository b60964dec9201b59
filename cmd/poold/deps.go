package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/liquidity-pool/internal/config"
	"github.com/atmx/liquidity-pool/internal/ledger"
	"github.com/atmx/liquidity-pool/internal/limits"
	"github.com/atmx/liquidity-pool/internal/orderbook"
	"github.com/atmx/liquidity-pool/internal/store"
)

// deps holds the external connections of one process.
type deps struct {
	store   store.Store
	rdb     *redis.Client
	cleanup []func()
}

func (d *deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
}

// openDeps connects the configured store and Redis. Without a database the
// in-memory store is used and nothing survives a restart.
func openDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	if cfg.Postgres.Enabled() {
		pool, err := store.Connect(ctx, cfg.Postgres.Store())
		if err != nil {
			return nil, err
		}
		d.cleanup = append(d.cleanup, pool.Close)
		ps := store.NewPostgresStore(pool)
		if cfg.Postgres.RunMigrations {
			if err := ps.RunMigrations(ctx); err != nil {
				d.Close()
				return nil, err
			}
		}
		d.store = ps
		logger.Info("connected to PostgreSQL")
	} else {
		logger.Warn("postgres not configured, using in-memory store (data will not persist)")
		d.store = store.NewMemoryStore()
	}

	if cfg.Redis.Addr != "" {
		rdb, err := store.ConnectRedis(ctx, cfg.Redis.Store())
		if err != nil {
			d.Close()
			return nil, err
		}
		d.cleanup = append(d.cleanup, func() { rdb.Close() })
		d.rdb = rdb
		if cfg.Postgres.Enabled() {
			d.store = store.NewCachedStore(d.store, rdb, cfg.Redis.CacheTTL.Duration)
			logger.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
		}
	}
	return d, nil
}

// openEngine restores the engine from the store, or seeds it from the
// configured genesis when the store is empty.
func openEngine(ctx context.Context, cfg *config.Config, st store.Store, pub orderbook.Publisher, logger *slog.Logger) (*orderbook.Engine, error) {
	state := ledger.NewState()
	snap, ok, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if ok {
		if err := state.Restore(snap); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}

	opts := []orderbook.Option{
		orderbook.WithPersister(st),
		orderbook.WithLogger(logger),
		orderbook.WithPositionLimiter(limits.NewPositionLimiter(cfg.Keeper.MaxPositionPerSubAccount)),
	}
	if pub != nil {
		opts = append(opts, orderbook.WithPublisher(pub))
	}
	engine := orderbook.New(state, opts...)

	if ok {
		logger.Info("engine restored",
			"assets", len(snap.Assets),
			"pending_orders", len(snap.Orders),
			"next_order_id", snap.Globals.NextOrderID,
		)
		return engine, nil
	}
	seeded, err := engine.Seed(ctx, cfg.Genesis())
	if err != nil {
		return nil, fmt.Errorf("seed genesis: %w", err)
	}
	logger.Info("engine initialised from genesis", "seeded", seeded, "assets", len(cfg.Assets))
	return engine, nil
}
