package models

import (
	"encoding/json"
	"time"
)

// DeadLetter captures a terminally failed event for auditing.
// Rows are append-only; there is no update or delete path.
type DeadLetter struct {
	ID           string          `json:"id"`
	EventID      *string         `json:"event_id,omitempty"`
	EventType    string          `json:"event_type"`
	EventName    string          `json:"event_name"`
	SourceModule string          `json:"source_module"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"error_message"`
	ErrorStack   *string         `json:"error_stack,omitempty"`
	RetryCount   int             `json:"retry_count"`
	FailedAt     time.Time       `json:"failed_at"`
}
