package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/simtrade/ledger-engine/internal/api"
	"github.com/simtrade/ledger-engine/internal/ledger"
	"github.com/simtrade/ledger-engine/internal/metrics"
	"github.com/simtrade/ledger-engine/internal/position"
	"github.com/simtrade/ledger-engine/internal/store"
)

type config struct {
	port        string
	databaseURL string
	redisURL    string
	cacheTTL    time.Duration
}

func loadConfig() config {
	cfg := config{
		port:        os.Getenv("PORT"),
		databaseURL: os.Getenv("DATABASE_URL"),
		redisURL:    os.Getenv("REDIS_URL"),
		cacheTTL:    30 * time.Second,
	}
	if cfg.port == "" {
		cfg.port = "8080"
	}
	return cfg
}

// newStore builds the storage stack: PostgreSQL as source of truth, wrapped
// in a Redis read-through cache when configured. Without DATABASE_URL it
// falls back to the in-memory store for local development.
func newStore(ctx context.Context, cfg config) (store.Store, []func(), error) {
	if cfg.databaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.databaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup := []func(){pool.Close}
	var st store.Store = store.NewPostgresStore(pool)
	slog.Info("connected to PostgreSQL")

	if cfg.redisURL != "" {
		opt, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.cacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.cacheTTL)
	}
	return st, cleanup, nil
}

func newRouter(svc *api.Service) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", svc.Routes)
	return r
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := loadConfig()

	st, cleanup, err := newStore(context.Background(), cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	hub := api.NewWSHub()
	go hub.Run()

	svc := api.NewService(ledger.New(st), position.NewCalculator(st), hub)

	srv := &http.Server{
		Addr:         ":" + cfg.port,
		Handler:      newRouter(svc),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down ledger-engine")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
