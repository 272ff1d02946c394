package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"homeops-platform/internal/models"
)

// Probe checks one module's health. Implementations should respect ctx;
// the aggregator enforces an independent timeout per probe regardless.
type Probe interface {
	Check(ctx context.Context) (models.HealthState, string, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (models.HealthState, string, error)

func (f ProbeFunc) Check(ctx context.Context) (models.HealthState, string, error) {
	return f(ctx)
}

// Counts supplies the backlog figures folded into the snapshot.
type Counts interface {
	CountPendingEvents(ctx context.Context) (int64, error)
	CountDeadLetters(ctx context.Context) (int64, error)
	CountRunningWorkflows(ctx context.Context) (int64, error)
}

// Aggregator polls registered module probes into one composite snapshot.
// It is an explicitly constructed registry, built at process start and
// torn down with the process; probes register before the first Compute.
type Aggregator struct {
	mu           sync.RWMutex
	probes       map[string]Probe
	counts       Counts
	probeTimeout time.Duration
	logger       *zap.SugaredLogger
}

// NewAggregator constructs the heartbeat aggregator.
func NewAggregator(counts Counts, probeTimeout time.Duration, logger *zap.SugaredLogger) *Aggregator {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Aggregator{
		probes:       make(map[string]Probe),
		counts:       counts,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Register binds a probe to a module name.
func (a *Aggregator) Register(module string, probe Probe) {
	if module == "" || probe == nil {
		return
	}
	a.mu.Lock()
	a.probes[module] = probe
	a.mu.Unlock()
}

// Compute polls every probe under its own timeout and returns a complete
// snapshot. Individual probe failures or timeouts count the module down;
// only backing-store unavailability fails the whole computation, with
// ErrHeartbeatUnavailable.
func (a *Aggregator) Compute(ctx context.Context) (models.Heartbeat, error) {
	a.mu.RLock()
	probes := make(map[string]Probe, len(a.probes))
	for name, p := range a.probes {
		probes[name] = p
	}
	a.mu.RUnlock()

	results := make(chan models.ModuleHealth, len(probes))
	var wg sync.WaitGroup
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			results <- a.runProbe(ctx, name, probe)
		}(name, probe)
	}
	wg.Wait()
	close(results)

	hb := models.Heartbeat{
		Counts:      map[models.HealthState]int{},
		GeneratedAt: time.Now().UTC(),
	}
	for h := range results {
		hb.Modules = append(hb.Modules, h)
		hb.Counts[h.Status]++
	}
	sort.Slice(hb.Modules, func(i, j int) bool { return hb.Modules[i].Module < hb.Modules[j].Module })

	var err error
	if hb.PendingEvents, err = a.counts.CountPendingEvents(ctx); err != nil {
		return models.Heartbeat{}, fmt.Errorf("%w: %v", models.ErrHeartbeatUnavailable, err)
	}
	if hb.DeadLetters, err = a.counts.CountDeadLetters(ctx); err != nil {
		return models.Heartbeat{}, fmt.Errorf("%w: %v", models.ErrHeartbeatUnavailable, err)
	}
	if hb.ActiveWorkflows, err = a.counts.CountRunningWorkflows(ctx); err != nil {
		return models.Heartbeat{}, fmt.Errorf("%w: %v", models.ErrHeartbeatUnavailable, err)
	}

	hb.Overall = overallStatus(hb.Counts)
	return hb, nil
}

// runProbe bounds one probe with its own timeout so an unresponsive
// module cannot stall the whole heartbeat.
func (a *Aggregator) runProbe(ctx context.Context, name string, probe Probe) models.ModuleHealth {
	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	type outcome struct {
		state  models.HealthState
		detail string
		err    error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		state, detail, err := probe.Check(probeCtx)
		ch <- outcome{state, detail, err}
	}()

	h := models.ModuleHealth{Module: name, CheckedAt: start.UTC()}
	select {
	case <-probeCtx.Done():
		h.Status = models.HealthDown
		h.Detail = "probe timeout"
		h.ResponseTimeMS = a.probeTimeout.Milliseconds()
		a.logger.Warnw("health probe timed out", "module", name, "timeout", a.probeTimeout)
	case out := <-ch:
		h.ResponseTimeMS = time.Since(start).Milliseconds()
		if out.err != nil {
			h.Status = models.HealthDown
			h.Detail = out.err.Error()
			a.logger.Warnw("health probe failed", "module", name, "error", out.err)
		} else {
			h.Status = out.state
			h.Detail = out.detail
		}
	}
	return h
}

// overallStatus derives the composite: down beats degraded beats healthy.
func overallStatus(counts map[models.HealthState]int) models.HealthState {
	switch {
	case counts[models.HealthDown] > 0:
		return models.HealthDown
	case counts[models.HealthDegraded] > 0:
		return models.HealthDegraded
	default:
		return models.HealthHealthy
	}
}
