package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homeops-platform/internal/bus"
	"homeops-platform/internal/config"
	"homeops-platform/internal/models"
	"homeops-platform/internal/telemetry"
	"homeops-platform/internal/workflow"
)

// Handler consumes a delivered event on behalf of one target module.
type Handler func(ctx context.Context, ev models.BusEvent) error

// Step is one unit of a workflow definition.
type Step struct {
	Label string
	Run   func(ctx context.Context, ev models.BusEvent) error
}

// Definition binds a named multi-step workflow to an event type.
type Definition struct {
	Name  string
	Steps []Step
}

// Dispatcher claims pending bus events and delivers them to registered
// module handlers, recording workflow executions around multi-step
// definitions and applying the retry policy on failure.
type Dispatcher struct {
	cfg       config.Config
	log       *bus.Log
	tracker   *workflow.Tracker
	handlers  map[string][]Handler  // target module -> handlers
	workflows map[string]Definition // event type -> workflow
	logger    *zap.SugaredLogger
}

// New constructs a dispatcher.
func New(cfg config.Config, log *bus.Log, tracker *workflow.Tracker, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		log:       log,
		tracker:   tracker,
		handlers:  make(map[string][]Handler),
		workflows: make(map[string]Definition),
		logger:    logger,
	}
}

// RegisterHandler binds a handler to a target module name.
func (d *Dispatcher) RegisterHandler(module string, h Handler) {
	if module == "" || h == nil {
		return
	}
	d.handlers[module] = append(d.handlers[module], h)
}

// RegisterWorkflow binds a workflow definition to an event type.
func (d *Dispatcher) RegisterWorkflow(eventType string, def Definition) {
	if eventType == "" || def.Name == "" {
		return
	}
	d.workflows[eventType] = def
}

// Run drives the claim/deliver loop until context cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if n, err := d.log.PendingCount(ctx); err == nil {
			telemetry.PendingEventsGauge.Set(float64(n))
		}

		events, err := d.log.Claim(ctx, d.cfg.DispatchBatchSize)
		if err != nil {
			d.logger.Errorw("claim pending events failed", "error", err)
			sleepCtx(ctx, d.cfg.DispatchPollInterval)
			continue
		}
		if len(events) == 0 {
			sleepCtx(ctx, d.cfg.DispatchPollInterval)
			continue
		}

		for _, ev := range events {
			if err := d.deliver(ctx, ev); err != nil {
				d.logger.Errorw("event delivery bookkeeping failed", "event_id", ev.ID, "error", err)
			}
		}
	}
}

// deliver runs every handler for the event's target modules, then the
// workflow definition for its type if one is registered. The event was
// claimed into processing before arrival.
func (d *Dispatcher) deliver(ctx context.Context, ev models.BusEvent) error {
	if err := d.runHandlers(ctx, ev); err != nil {
		_, ferr := d.log.MarkFailed(ctx, ev.ID, err)
		return ferr
	}

	if def, ok := d.workflows[ev.EventType]; ok {
		if err := d.runWorkflow(ctx, ev, def); err != nil {
			_, ferr := d.log.MarkFailed(ctx, ev.ID, err)
			return ferr
		}
	}

	if _, err := d.log.MarkCompleted(ctx, ev.ID); err != nil {
		return err
	}
	telemetry.EventsDelivered.Inc()
	return nil
}

func (d *Dispatcher) runHandlers(ctx context.Context, ev models.BusEvent) error {
	for _, module := range ev.TargetModules {
		for _, h := range d.handlers[module] {
			if err := h(ctx, ev); err != nil {
				return fmt.Errorf("module %s: %w", module, err)
			}
		}
	}
	return nil
}

// runWorkflow records one execution around the definition's steps. The
// execution is finished failed when a step errors, and the step error is
// returned so the event follows the normal retry path.
func (d *Dispatcher) runWorkflow(ctx context.Context, ev models.BusEvent, def Definition) error {
	total := len(def.Steps)
	eventID := ev.ID
	exec, err := d.tracker.Start(ctx, def.Name, &eventID, &total)
	if err != nil {
		return fmt.Errorf("start workflow %s: %w", def.Name, err)
	}

	for _, step := range def.Steps {
		if err := step.Run(ctx, ev); err != nil {
			msg := err.Error()
			if _, ferr := d.tracker.Finish(ctx, exec.ID, false, nil, &msg); ferr != nil {
				d.logger.Errorw("finish failed workflow", "execution_id", exec.ID, "error", ferr)
			}
			return fmt.Errorf("workflow %s step %s: %w", def.Name, step.Label, err)
		}
		if _, err := d.tracker.Advance(ctx, exec.ID, step.Label); err != nil {
			return fmt.Errorf("advance workflow %s: %w", def.Name, err)
		}
	}

	result, _ := json.Marshal(map[string]any{"event_id": ev.ID, "steps": total})
	if _, err := d.tracker.Finish(ctx, exec.ID, true, result, nil); err != nil {
		return fmt.Errorf("finish workflow %s: %w", def.Name, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
