package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/adapter/httpserver"
	"github.com/pscheid92/tabconsole/internal/adapter/identity"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/adapter/redis"
	"github.com/pscheid92/tabconsole/internal/adapter/websocket"
	"github.com/pscheid92/tabconsole/internal/app"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/platform/config"
	"github.com/pscheid92/tabconsole/internal/platform/crypto"
	"github.com/pscheid92/tabconsole/internal/platform/logging"
	"github.com/pscheid92/tabconsole/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

// backing is the optional Redis wiring of the tab registry.
type backing struct {
	client       *goredis.Client
	storage      app.StorageFactory
	cacheBackend *redis.QueryCacheBackend
	invalidation *redis.QueryInvalidation
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupSealer(cfg *config.Config) crypto.Service {
	if cfg.CredentialEncryptionKey == "" {
		return nil
	}
	sealer, err := crypto.NewAESGCM(cfg.CredentialEncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}
	return sealer
}

func setupRedis(ctx context.Context, cfg *config.Config) *backing {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, tab credentials live in memory only")
		return nil
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	sealer := setupSealer(cfg)
	return &backing{
		client: client,
		storage: func(tabID string) domain.TabStorage {
			return redis.NewTabStorage(client, tabID, cfg.TabStorageTTL, sealer)
		},
		cacheBackend: redis.NewQueryCacheBackend(client),
		invalidation: redis.NewQueryInvalidation(client),
	}
}

func runGracefulShutdown(srv *httpserver.Server, registry *app.Registry, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopBackground()
		registry.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	reg := metrics.NewRegistry()
	consoleMetrics := metrics.NewConsoleMetrics(reg)

	identityClient := identity.NewClient(cfg.IdentityURL, cfg.IdentityTimeout, metrics.NewCircuitBreakerMetrics(reg))

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	registryCfg := app.RegistryConfig{
		Identity:     identityClient,
		Viewers:      identityClient,
		CacheTTL:     cfg.QueryCacheTTL,
		IdleTimeout:  cfg.TabIdleTimeout,
		Clock:        clock,
		Metrics:      consoleMetrics,
		CacheMetrics: metrics.NewCacheMetrics(reg),
	}

	healthChecks := []httpserver.HealthCheck{{
		Name: "identity",
		Check: func(context.Context) error {
			if identityClient.BreakerState() == circuitbreaker.OpenState {
				return errors.New("identity circuit breaker is open")
			}
			return nil
		},
	}}

	// Pass nil explicitly to avoid a typed-nil invalidator
	var invalidator app.Invalidator

	redisBacking := setupRedis(backgroundCtx, cfg)
	if redisBacking != nil {
		defer func() { _ = redisBacking.client.Close() }()
		registryCfg.Storage = redisBacking.storage
		registryCfg.CacheBackend = redisBacking.cacheBackend
		invalidator = redisBacking.invalidation
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redis.HealthCheck(redisBacking.client)})
	}

	registry := app.NewRegistry(registryCfg)
	appSvc := app.NewService(registry, identityClient, invalidator, consoleMetrics)

	if redisBacking != nil {
		go func() {
			if err := redisBacking.invalidation.Run(backgroundCtx, registry.InvalidateQuery, nil); err != nil {
				slog.Error("Query invalidation subscriber stopped", "error", err)
			}
		}()
	}

	checkOrigin := websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction())
	streamer := websocket.NewStreamer(checkOrigin, clock, metrics.NewWebSocketMetrics(reg))

	srv := httpserver.NewServer(cfg, appSvc, streamer, httpserver.Options{
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: metrics.Handler(reg),
		HealthChecks:   healthChecks,
	})

	done := runGracefulShutdown(srv, registry, stopBackground)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
