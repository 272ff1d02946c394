package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"homeops-platform/internal/api"
	"homeops-platform/internal/cache"
	"homeops-platform/internal/config"
	"homeops-platform/internal/heartbeat"
	"homeops-platform/internal/lifecycle"
	"homeops-platform/internal/models"
	"homeops-platform/internal/ratelimit"
	"homeops-platform/internal/store"
	"homeops-platform/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalw("connect postgres", "error", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatalw("migrations", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	limiter := ratelimit.NewTenantLimiter(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	queryCache := cache.New(rdb, cfg.CacheStatsWindow, logger)

	manager := lifecycle.NewManager(st, cfg.MaxEventRetries, logger)

	aggregator := heartbeat.NewAggregator(st, cfg.ProbeTimeout, logger)
	registerProbes(aggregator, st, rdb)

	interceptor := telemetry.NewInterceptor(st, cfg.SlowRequestThreshold, cfg.TelemetryExclude, cfg.TelemetryBuffer, logger)
	defer interceptor.Close()

	server := api.New(cfg, manager, st,
		&orchestratorFacade{Store: st, aggregator: aggregator},
		&reporterFacade{store: st, cache: queryCache},
		queryCache, limiter, interceptor.Middleware, logger)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Infow("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// orchestratorFacade satisfies api.Orchestrator from the store plus the
// heartbeat aggregator.
type orchestratorFacade struct {
	*store.Store
	aggregator *heartbeat.Aggregator
}

func (o *orchestratorFacade) Heartbeat(ctx context.Context) (models.Heartbeat, error) {
	return o.aggregator.Compute(ctx)
}

// reporterFacade satisfies api.Reporter.
type reporterFacade struct {
	store *store.Store
	cache *cache.QueryCache
}

func (r *reporterFacade) RequestLatencyReport(ctx context.Context, window time.Duration) (store.LatencyReport, error) {
	return r.store.RequestLatencyReport(ctx, window)
}

func (r *reporterFacade) CacheStats(ctx context.Context) (cache.Stats, error) {
	return r.cache.Stats(ctx)
}

func registerProbes(agg *heartbeat.Aggregator, st *store.Store, rdb *redis.Client) {
	agg.Register("database", heartbeat.ProbeFunc(func(ctx context.Context) (models.HealthState, string, error) {
		if err := st.Ping(ctx); err != nil {
			return models.HealthDown, "", err
		}
		return models.HealthHealthy, "", nil
	}))
	agg.Register("redis", heartbeat.ProbeFunc(func(ctx context.Context) (models.HealthState, string, error) {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return models.HealthDown, "", err
		}
		return models.HealthHealthy, "", nil
	}))
	agg.Register("event_bus", heartbeat.ProbeFunc(func(ctx context.Context) (models.HealthState, string, error) {
		n, err := st.CountPendingEvents(ctx)
		if err != nil {
			return models.HealthDown, "", err
		}
		if n > 1000 {
			return models.HealthDegraded, "backlog over 1000 events", nil
		}
		return models.HealthHealthy, "", nil
	}))
}

func newLogger(env string) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}
