package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"homeops-platform/internal/models"
)

// Recorder persists request samples; the middleware never waits on it.
type Recorder interface {
	InsertRequestMetric(ctx context.Context, m models.RequestMetric) error
}

// Interceptor captures per-request timing and hands samples to a
// background writer. A telemetry failure never alters or delays the
// response: samples are dropped when the buffer is full and write errors
// are swallowed and logged.
type Interceptor struct {
	recorder      Recorder
	logger        *zap.SugaredLogger
	slowThreshold time.Duration
	exclude       []string
	samples       chan models.RequestMetric
	quit          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewInterceptor builds the interceptor and starts its writer goroutine.
func NewInterceptor(rec Recorder, slowThreshold time.Duration, exclude []string, buffer int, logger *zap.SugaredLogger) *Interceptor {
	if buffer <= 0 {
		buffer = 1024
	}
	i := &Interceptor{
		recorder:      rec,
		logger:        logger,
		slowThreshold: slowThreshold,
		exclude:       exclude,
		samples:       make(chan models.RequestMetric, buffer),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go i.writeLoop()
	return i
}

// Close drains buffered samples and stops the writer. The samples
// channel itself is never closed, so a request that finishes after
// shutdown started still enqueues safely; its sample is dropped.
func (i *Interceptor) Close() {
	i.closeOnce.Do(func() { close(i.quit) })
	<-i.done
}

// Middleware wraps a handler with timing capture and the X-Response-Time
// header. Excluded prefixes pass through untouched.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range i.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		start := time.Now()
		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK, start: start}
		next.ServeHTTP(cw, r)
		elapsed := time.Since(start)

		durationMS := float64(elapsed) / float64(time.Millisecond)
		isSlow := elapsed > i.slowThreshold
		RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		if isSlow {
			SlowRequests.Inc()
			i.logger.Warnw("slow request", "method", r.Method, "path", r.URL.Path, "duration_ms", durationMS)
		}

		sample := models.RequestMetric{
			Method:        r.Method,
			Path:          r.URL.Path,
			StatusCode:    cw.status,
			DurationMS:    durationMS,
			RequestBytes:  r.ContentLength,
			ResponseBytes: cw.bytes,
			IsSlow:        isSlow,
			Tenant:        tenantFrom(r),
			RecordedAt:    start.UTC(),
		}
		select {
		case <-i.quit:
			DroppedSamples.Inc()
		default:
			select {
			case i.samples <- sample:
			default:
				DroppedSamples.Inc()
			}
		}
	})
}

func (i *Interceptor) writeLoop() {
	defer close(i.done)
	for {
		select {
		case sample := <-i.samples:
			i.persist(sample)
		case <-i.quit:
			for {
				select {
				case sample := <-i.samples:
					i.persist(sample)
				default:
					return
				}
			}
		}
	}
}

func (i *Interceptor) persist(sample models.RequestMetric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := i.recorder.InsertRequestMetric(ctx, sample); err != nil {
		i.logger.Warnw("persist request metric failed", "path", sample.Path, "error", err)
	}
}

func tenantFrom(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

// captureWriter records status and byte counts and stamps the timing
// header just before the first write, while headers are still open.
type captureWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	start       time.Time
	wroteHeader bool
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.Header().Set("X-Response-Time", fmt.Sprintf("%.2fms", float64(time.Since(w.start))/float64(time.Millisecond)))
		w.wroteHeader = true
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
