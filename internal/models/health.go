package models

import (
	"time"
)

// HealthState is the status of a single module probe.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// ModuleHealth is the latest probe result for one module.
type ModuleHealth struct {
	Module         string      `json:"module"`
	Status         HealthState `json:"status"`
	ResponseTimeMS int64       `json:"response_time_ms"`
	CheckedAt      time.Time   `json:"checked_at"`
	Detail         string      `json:"detail,omitempty"`
}

// Heartbeat is the composite snapshot across all registered modules.
// Overall is down if any module is down, degraded if any module is
// degraded, otherwise healthy.
type Heartbeat struct {
	Overall         HealthState         `json:"overall"`
	Modules         []ModuleHealth      `json:"modules"`
	Counts          map[HealthState]int `json:"counts"`
	PendingEvents   int64               `json:"pending_events"`
	DeadLetters     int64               `json:"dead_letters"`
	ActiveWorkflows int64               `json:"active_workflows"`
	GeneratedAt     time.Time           `json:"generated_at"`
}
