package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	magnushttp "github.com/magnus-suite/magnus-sync/internal/adapter/http"
	natsadapter "github.com/magnus-suite/magnus-sync/internal/adapter/nats"
	"github.com/magnus-suite/magnus-sync/internal/adapter/otel"
	"github.com/magnus-suite/magnus-sync/internal/adapter/postgres"
	ristrettocache "github.com/magnus-suite/magnus-sync/internal/adapter/ristretto"
	"github.com/magnus-suite/magnus-sync/internal/adapter/ws"
	"github.com/magnus-suite/magnus-sync/internal/config"
	"github.com/magnus-suite/magnus-sync/internal/logger"
	"github.com/magnus-suite/magnus-sync/internal/service"

	// Tool adapters register themselves with the pmtool registry.
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/asana"
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/jira"
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/leantime"
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/linear"
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/monday"
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/notion"
	_ "github.com/magnus-suite/magnus-sync/internal/adapter/openproject"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"sync_interval", cfg.Sync.Interval,
		"default_resolution", cfg.Sync.DefaultResolution,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	store := postgres.NewStore(pool)

	deps := service.Deps{
		Store:  store,
		Logger: log,
	}

	// NATS is the audit sink, not a dependency the engine needs to run.
	queue, err := natsadapter.New(ctx, cfg.NATS.URL)
	if err != nil {
		log.Warn("nats unavailable, audit events disabled", "url", cfg.NATS.URL, "error", err)
	} else {
		defer func() { _ = queue.Close() }()
		deps.Queue = queue
		log.Info("nats connected", "url", cfg.NATS.URL)
	}

	l1, err := ristrettocache.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	deps.Cache = l1

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	deps.Metrics = metrics
	if ah, ok := logCloser.(*logger.AsyncHandler); ok {
		ah.OnDrop(func() { metrics.RecordLogDropped(ctx) })
	}

	hub := ws.NewHub(log)
	deps.Broadcaster = hub

	// --- Engine and scheduler ---

	engine := service.NewEngine(deps, *cfg)

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	scheduler := service.NewScheduler(engine, cfg.Sync.Interval, log)
	go scheduler.Run(schedCtx)

	// --- HTTP ---

	handlers := magnushttp.NewHandlers(engine, store, log)
	router := magnushttp.NewRouter(handlers, cfg.Server, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	hub.Shutdown()
	return nil
}
