package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalogsync/internal/api"
	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/domain"
	"catalogsync/internal/events"
	"catalogsync/internal/identity"
	"catalogsync/internal/logging"
	"catalogsync/internal/metrics"
	"catalogsync/internal/ratelimit"
	"catalogsync/internal/registry"
	"catalogsync/internal/remote"
	"catalogsync/internal/repository"
	"catalogsync/internal/resolver"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/syncer"
	"catalogsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := initCache(redisClient, &logger)

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		logger.Error().Err(err).Str("registry_path", cfg.Registry.Path).Msg("load entity registry")
		return err
	}

	bus := events.NewEventBus()
	audit := events.AuditLogger(&logger)
	for _, eventType := range []string{
		events.EventMappingCreated,
		events.EventTaskEnqueued,
		events.EventTaskThrottled,
		events.EventTaskFailed,
		events.EventTaskCompleted,
	} {
		bus.Subscribe(eventType, audit)
	}

	coordinator := ratelimit.NewCoordinator(cache, reg, time.Duration(cfg.Sync.BudgetTTLSeconds)*time.Second, &logger)
	clients := remote.NewPoolFromConfig(cfg, coordinator, &logger)

	store := identity.NewStore(db, cache, bus, &logger)
	executor := syncer.NewExecutor(cfg.Source.Key, syncer.Deps{
		Registry: reg,
		Clients:  clients,
		Store:    store,
		Resolver: resolver.New(store, reg, clients, cfg.Remote.BaseURL, &logger),
		Names:    identity.NewNameLookup(reg, cache, &logger),
		Locks:    identity.NewPairLocks(),
	}, &logger)

	tenants := make([]string, 0, len(cfg.Tenants))
	for _, tenant := range cfg.Tenants {
		tenants = append(tenants, tenant.Key)
	}
	sched := scheduler.New(db, coordinator, reg, bus, scheduler.Options{
		SourceTenant: cfg.Source.Key,
		Tenants:      tenants,
		MaxAttempts:  cfg.Sync.MaxAttempts,
		Retry:        scheduler.RetryPolicyFromConfig(cfg.Sync),
		Lease:        time.Duration(cfg.Sync.LeaseSeconds) * time.Second,
	}, &logger)

	pool := worker.NewPool(sched, executor, redisClient, worker.Options{
		Workers:      cfg.Sync.Workers,
		PollInterval: time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second,
		BatchSize:    cfg.Sync.BatchSize,
	}, &logger)
	pool.Subscribe(bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)
	go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		deps := api.Deps{Tasks: sched, Budgets: coordinator, Health: db, ExportDir: cfg.Exports.Path}
		if redisClient != nil {
			deps.DeadLetters = pool
		}
		httpServer = api.NewHTTPServer(cfg.API, deps, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Str("source", cfg.Source.Key).
		Int("tenants", len(tenants)).
		Int("workers", cfg.Sync.Workers).
		Msg("Sync service started")

	pool.Start(ctx)
	logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("Sync service stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCache prefers Redis so budgets are shared between processes and falls
// back to process memory while Redis is unreachable.
func initCache(redisClient *redis.Client, logger *zerolog.Logger) domain.Cache {
	memory := repository.NewMemoryCache()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverCache(repository.NewRedisCache(redisClient, "catalogsync:"), memory, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
