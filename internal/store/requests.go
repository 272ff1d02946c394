package store

import (
	"context"
	"fmt"
	"time"

	"homeops-platform/internal/models"
)

// InsertRequestMetric persists one telemetry sample. Callers treat
// failures as non-fatal; the request path never waits on this write.
func (s *Store) InsertRequestMetric(ctx context.Context, m models.RequestMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO request_metrics (method, path, status_code, duration_ms, request_bytes, response_bytes, is_slow, tenant, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.Method, m.Path, m.StatusCode, m.DurationMS, m.RequestBytes, m.ResponseBytes,
		m.IsSlow, m.Tenant, m.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert request metric: %w", err)
	}
	return nil
}

// LatencyReport aggregates request telemetry over a window.
type LatencyReport struct {
	WindowStart  time.Time `json:"window_start"`
	SampleCount  int64     `json:"sample_count"`
	P50MS        float64   `json:"p50_ms"`
	P95MS        float64   `json:"p95_ms"`
	P99MS        float64   `json:"p99_ms"`
	SlowRequests int64     `json:"slow_requests"`
	SlowRatio    float64   `json:"slow_ratio"`
}

// RequestLatencyReport computes percentile latencies and the slow-request
// ratio over the trailing window.
func (s *Store) RequestLatencyReport(ctx context.Context, window time.Duration) (LatencyReport, error) {
	since := time.Now().UTC().Add(-window)
	rep := LatencyReport{WindowStart: since}

	var p50, p95, p99 *float64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_slow),
		       percentile_cont(0.50) WITHIN GROUP (ORDER BY duration_ms),
		       percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms),
		       percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms)
		FROM request_metrics WHERE recorded_at >= $1
	`, since).Scan(&rep.SampleCount, &rep.SlowRequests, &p50, &p95, &p99)
	if err != nil {
		return LatencyReport{}, fmt.Errorf("request latency report: %w", err)
	}
	if p50 != nil {
		rep.P50MS, rep.P95MS, rep.P99MS = *p50, *p95, *p99
	}
	if rep.SampleCount > 0 {
		rep.SlowRatio = float64(rep.SlowRequests) / float64(rep.SampleCount)
	}
	return rep, nil
}
