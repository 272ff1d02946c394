package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"homeops-platform/internal/bus"
	"homeops-platform/internal/cache"
	"homeops-platform/internal/config"
	"homeops-platform/internal/deadletter"
	"homeops-platform/internal/dispatch"
	"homeops-platform/internal/heartbeat"
	"homeops-platform/internal/models"
	"homeops-platform/internal/store"
	"homeops-platform/internal/telemetry"
	"homeops-platform/internal/workflow"
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

	letters := deadletter.NewHandler(st, logger)
	redelivery := bus.NewRedisRedelivery(rdb)
	backoff := bus.Backoff{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax}
	log := bus.NewLog(st, letters, redelivery, backoff, logger)
	tracker := workflow.NewTracker(st, logger)
	queryCache := cache.New(rdb, cfg.CacheStatsWindow, logger)

	dispatcher := dispatch.New(cfg, log, tracker, logger)
	registerHandlers(dispatcher, logger)
	registerWorkflows(dispatcher, log, queryCache, cfg)

	aggregator := heartbeat.NewAggregator(st, cfg.ProbeTimeout, logger)
	aggregator.Register("database", heartbeat.ProbeFunc(func(ctx context.Context) (models.HealthState, string, error) {
		if err := st.Ping(ctx); err != nil {
			return models.HealthDown, "", err
		}
		return models.HealthHealthy, "", nil
	}))
	aggregator.Register("redis", heartbeat.ProbeFunc(func(ctx context.Context) (models.HealthState, string, error) {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return models.HealthDown, "", err
		}
		return models.HealthHealthy, "", nil
	}))

	maintenance := dispatch.NewMaintenance(cfg, log, redelivery, st, aggregator, st, queryCache, logger)
	if err := maintenance.Start(ctx); err != nil {
		logger.Fatalw("start maintenance", "error", err)
	}
	defer maintenance.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warnw("metrics server stopped", "error", err)
		}
	}()

	logger.Infow("orchestrator started",
		"poll_interval", cfg.DispatchPollInterval, "batch_size", cfg.DispatchBatchSize,
		"backoff_initial", cfg.BackoffInitial)
	if err := dispatcher.Run(ctx); err != nil {
		logger.Infow("orchestrator stopped", "reason", err)
	}
}

// registerHandlers binds per-module consumers. Outbound channels (email,
// SMS, push) live behind an external collaborator, so the notifications
// handler records intent and succeeds.
func registerHandlers(d *dispatch.Dispatcher, logger *zap.SugaredLogger) {
	d.RegisterHandler("notifications", func(ctx context.Context, ev models.BusEvent) error {
		logger.Infow("notification intent recorded", "event_id", ev.ID, "event_type", ev.EventType)
		return nil
	})
	d.RegisterHandler("orchestrator", func(ctx context.Context, ev models.BusEvent) error {
		logger.Debugw("orchestrator observed event", "event_id", ev.ID, "event_type", ev.EventType)
		return nil
	})
}

// registerWorkflows binds multi-step workflow definitions to the
// lifecycle event types that trigger them.
func registerWorkflows(d *dispatch.Dispatcher, log *bus.Log, qc *cache.QueryCache, cfg config.Config) {
	d.RegisterWorkflow("job.completed", dispatch.Definition{
		Name: "job_closeout",
		Steps: []dispatch.Step{
			{Label: "validate_payload", Run: func(ctx context.Context, ev models.BusEvent) error {
				_, err := decodeJobPayload(ev)
				return err
			}},
			{Label: "invalidate_job_cache", Run: func(ctx context.Context, ev models.BusEvent) error {
				p, err := decodeJobPayload(ev)
				if err != nil {
					return err
				}
				return qc.Invalidate(ctx, "jobs:tenant:"+p.Tenant)
			}},
			{Label: "queue_homeowner_survey", Run: func(ctx context.Context, ev models.BusEvent) error {
				_, err := log.Publish(ctx, models.NewBusEvent{
					EventType:     "survey.requested",
					EventName:     "homeowner survey requested",
					SourceModule:  "orchestrator",
					TargetModules: []string{"notifications"},
					Payload:       ev.Payload,
					MaxRetries:    cfg.MaxEventRetries,
				})
				return err
			}},
		},
	})

	d.RegisterWorkflow("job.installer_assigned", dispatch.Definition{
		Name: "installer_briefing",
		Steps: []dispatch.Step{
			{Label: "validate_payload", Run: func(ctx context.Context, ev models.BusEvent) error {
				_, err := decodeJobPayload(ev)
				return err
			}},
			{Label: "queue_installer_notice", Run: func(ctx context.Context, ev models.BusEvent) error {
				_, err := log.Publish(ctx, models.NewBusEvent{
					EventType:     "installer.briefing",
					EventName:     "installer briefing requested",
					SourceModule:  "orchestrator",
					TargetModules: []string{"notifications"},
					Payload:       ev.Payload,
					MaxRetries:    cfg.MaxEventRetries,
				})
				return err
			}},
		},
	})
}

func decodeJobPayload(ev models.BusEvent) (models.JobStatusPayload, error) {
	var p models.JobStatusPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return models.JobStatusPayload{}, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
	}
	if p.JobID == "" {
		return models.JobStatusPayload{}, fmt.Errorf("%s payload missing job_id", ev.EventType)
	}
	return p, nil
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
