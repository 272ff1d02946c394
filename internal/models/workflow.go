package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus enumerates workflow execution states.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// WorkflowExecution records one multi-step workflow run triggered by a
// bus event. CompletedAt and DurationMS are set exactly when the status
// is terminal; StepsCompleted never decreases.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	WorkflowName   string          `json:"workflow_name"`
	TriggerEventID *string         `json:"trigger_event_id,omitempty"`
	Status         WorkflowStatus  `json:"status"`
	StepsCompleted int             `json:"steps_completed"`
	TotalSteps     *int            `json:"total_steps,omitempty"`
	CurrentStep    string          `json:"current_step"`
	ResultData     json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	DurationMS     *int64          `json:"duration_ms,omitempty"`
}
