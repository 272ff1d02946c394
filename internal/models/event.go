package models

import (
	"encoding/json"
	"time"
)

// EventStatus enumerates event bus record states.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventRetry      EventStatus = "retry"
)

// BusEvent is one append-only row in the event bus log.
type BusEvent struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	EventName     string          `json:"event_name"`
	SourceModule  string          `json:"source_module"`
	TargetModules []string        `json:"target_modules"`
	Payload       json.RawMessage `json:"payload"`
	Status        EventStatus     `json:"status"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	LastError     *string         `json:"last_error,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewBusEvent collects the producer-supplied fields of an event.
// Payload is validated by the producer; statically known kinds should
// marshal a typed struct rather than a raw map.
type NewBusEvent struct {
	EventType     string          `json:"event_type"`
	EventName     string          `json:"event_name"`
	SourceModule  string          `json:"source_module"`
	TargetModules []string        `json:"target_modules"`
	Payload       json.RawMessage `json:"payload"`
	MaxRetries    int             `json:"max_retries"`
}

// JobStatusPayload is the typed payload of job.<status> lifecycle events.
type JobStatusPayload struct {
	JobID      string    `json:"job_id"`
	Tenant     string    `json:"tenant"`
	FromStatus JobStatus `json:"from_status"`
	ToStatus   JobStatus `json:"to_status"`
}
