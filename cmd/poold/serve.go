package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/liquidity-pool/internal/api"
	"github.com/atmx/liquidity-pool/internal/archive"
	"github.com/atmx/liquidity-pool/internal/config"
	"github.com/atmx/liquidity-pool/internal/events"
	"github.com/atmx/liquidity-pool/internal/metrics"
	"github.com/atmx/liquidity-pool/internal/orderbook"
	"github.com/atmx/liquidity-pool/internal/store"
)

func serveCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting poold", "config", config.RedactedConfig(cfg))

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	// Only one process may write to the shared store.
	var lease *store.Lease
	if d.rdb != nil {
		lease, err = store.AcquireLease(ctx, d.rdb, cfg.Redis.LeaseName, cfg.Redis.LeaseTTL.Duration)
		if err != nil {
			return err
		}
		defer lease.Release()
		logger.Info("writer lease acquired", "name", cfg.Redis.LeaseName, "token", lease.Token())
	}

	hub := api.NewHub(logger)
	pub := events.Fanout{hub}
	var bus *events.RedisBus
	if d.rdb != nil {
		bus = events.NewRedisBus(d.rdb, logger)
		pub = append(pub, bus)
	}

	engine, err := openEngine(ctx, cfg, d.store, pub, logger)
	if err != nil {
		return err
	}

	keys := make(map[string]common.Address, len(cfg.Server.APIKeys))
	for _, k := range cfg.Server.APIKeys {
		keys[k.Key] = k.Account
	}
	if len(keys) == 0 {
		logger.Warn("no API keys configured, callers are taken from the " + api.AccountHeader + " header")
	}
	srv := api.NewServer(engine, d.store, keys, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"poold"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		// Websocket connections outlive the request timeout.
		r.Get("/ws", hub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			srv.Mount(r)
		})
	})

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("poold listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down poold...")
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return expireOrders(gctx, engine, cfg.Keeper.ExpiryInterval.Duration, logger)
	})
	if lease != nil {
		g.Go(func() error {
			return lease.Keep(gctx)
		})
	}
	if bus != nil {
		g.Go(func() error {
			return bus.Run(gctx)
		})
	}
	if cfg.S3.Bucket != "" {
		w, err := archive.NewS3Writer(ctx, cfg.S3.Archive())
		if err != nil {
			return err
		}
		if err := w.Health(ctx); err != nil {
			logger.Warn("S3 bucket not reachable, exports will retry", "bucket", cfg.S3.Bucket, "err", err)
		}
		x := archive.NewExporter(engine, w, cfg.S3.Prefix, logger)
		g.Go(func() error {
			return x.Run(gctx, cfg.S3.ExportInterval.Duration)
		})
	}

	err = g.Wait()
	logger.Info("poold stopped", "err", err)
	return err
}

// expireOrders sweeps expired orders every interval.
func expireOrders(ctx context.Context, engine *orderbook.Engine, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := engine.CancelExpired(ctx); err != nil {
				logger.Error("expire orders", "err", err)
			}
		}
	}
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
