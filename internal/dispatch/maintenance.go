package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"homeops-platform/internal/bus"
	"homeops-platform/internal/cache"
	"homeops-platform/internal/config"
	"homeops-platform/internal/heartbeat"
	"homeops-platform/internal/models"
)

// HealthSink persists heartbeat snapshots.
type HealthSink interface {
	UpsertModuleHealth(ctx context.Context, h models.ModuleHealth) error
}

// StaleRetrySource lists retry events whose redelivery schedule was lost.
type StaleRetrySource interface {
	StaleRetryEvents(ctx context.Context, age time.Duration, limit int) ([]string, error)
}

// Maintenance runs the orchestrator's periodic jobs on a cron schedule:
// redelivery promotion, heartbeat snapshots, and cache eviction.
type Maintenance struct {
	cfg        config.Config
	log        *bus.Log
	redelivery *bus.RedisRedelivery
	stale      StaleRetrySource
	aggregator *heartbeat.Aggregator
	sink       HealthSink
	cache      *cache.QueryCache
	cron       *cron.Cron
	logger     *zap.SugaredLogger
}

// NewMaintenance constructs the maintenance runner.
func NewMaintenance(cfg config.Config, log *bus.Log, rd *bus.RedisRedelivery, stale StaleRetrySource,
	agg *heartbeat.Aggregator, sink HealthSink, qc *cache.QueryCache, logger *zap.SugaredLogger) *Maintenance {
	return &Maintenance{
		cfg:        cfg,
		log:        log,
		redelivery: rd,
		stale:      stale,
		aggregator: agg,
		sink:       sink,
		cache:      qc,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start registers and starts the cron jobs.
func (m *Maintenance) Start(ctx context.Context) error {
	jobs := []struct {
		schedule string
		name     string
		run      func(context.Context)
	}{
		{m.cfg.PromotionSchedule, "promote_redeliveries", m.promoteRedeliveries},
		{m.cfg.HeartbeatSchedule, "heartbeat_snapshot", m.heartbeatSnapshot},
		{m.cfg.EvictionSchedule, "cache_eviction", m.evictCache},
	}
	for _, j := range jobs {
		j := j
		if _, err := m.cron.AddFunc(j.schedule, func() { j.run(ctx) }); err != nil {
			return fmt.Errorf("register cron job %s: %w", j.name, err)
		}
	}
	m.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// promoteRedeliveries returns due retry events to pending, plus any
// stragglers whose redis schedule was lost.
func (m *Maintenance) promoteRedeliveries(ctx context.Context) {
	ids, err := m.redelivery.Due(ctx, time.Now(), int64(m.cfg.DispatchBatchSize))
	if err != nil {
		m.logger.Warnw("read due redeliveries failed", "error", err)
	}
	if stragglers, err := m.stale.StaleRetryEvents(ctx, m.cfg.BackoffMax*2, m.cfg.DispatchBatchSize); err != nil {
		m.logger.Warnw("scan stale retry events failed", "error", err)
	} else {
		ids = append(ids, stragglers...)
	}

	promoted := 0
	for _, id := range ids {
		ok, err := m.log.Promote(ctx, id)
		if err != nil {
			m.logger.Warnw("promote retry event failed", "event_id", id, "error", err)
			continue
		}
		if ok {
			promoted++
		}
	}
	if promoted > 0 {
		m.logger.Infow("promoted retry events", "count", promoted)
	}
}

// heartbeatSnapshot computes one heartbeat and persists per-module rows.
func (m *Maintenance) heartbeatSnapshot(ctx context.Context) {
	hb, err := m.aggregator.Compute(ctx)
	if err != nil {
		m.logger.Errorw("heartbeat snapshot failed", "error", err)
		return
	}
	for _, mod := range hb.Modules {
		if err := m.sink.UpsertModuleHealth(ctx, mod); err != nil {
			m.logger.Warnw("persist module health failed", "module", mod.Module, "error", err)
		}
	}
	m.logger.Debugw("heartbeat snapshot",
		"overall", hb.Overall, "pending_events", hb.PendingEvents,
		"dead_letters", hb.DeadLetters, "active_workflows", hb.ActiveWorkflows)
}

func (m *Maintenance) evictCache(ctx context.Context) {
	n, err := m.cache.Evict(ctx, time.Now())
	if err != nil {
		m.logger.Warnw("cache eviction failed", "error", err)
		return
	}
	if n > 0 {
		m.logger.Debugw("evicted expired cache entries", "count", n)
	}
}
