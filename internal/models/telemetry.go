package models

import (
	"time"
)

// RequestMetric is one captured request timing sample.
type RequestMetric struct {
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	StatusCode    int       `json:"status_code"`
	DurationMS    float64   `json:"duration_ms"`
	RequestBytes  int64     `json:"request_bytes"`
	ResponseBytes int64     `json:"response_bytes"`
	IsSlow        bool      `json:"is_slow"`
	Tenant        string    `json:"tenant"`
	RecordedAt    time.Time `json:"recorded_at"`
}
