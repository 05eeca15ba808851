package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports service operation counters, latency
// histograms, retention purge counts and audit write failures.
type PrometheusMetricsRecorder struct {
	operations    *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	purged        *prometheus.CounterVec
	auditFailures *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the service collectors with reg.
// A nil reg uses the default Prometheus registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vivarium_service_operations_total",
			Help: "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vivarium_service_operation_duration_seconds",
			Help:    "Service operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		purged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vivarium_retention_purged_total",
			Help: "Records permanently removed by the retention sweeper.",
		}, []string{"entity"}),
		auditFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vivarium_audit_write_failures_total",
			Help: "Audit rows dropped after the primary mutation committed.",
		}, []string{"action"}),
	}
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePurged implements RetentionRecorder.
func (r *PrometheusMetricsRecorder) ObservePurged(entity EntityType, count int) {
	if count <= 0 {
		return
	}
	r.purged.WithLabelValues(string(entity)).Add(float64(count))
}

// ObserveAuditFailure implements AuditFailureRecorder.
func (r *PrometheusMetricsRecorder) ObserveAuditFailure(action string) {
	r.auditFailures.WithLabelValues(action).Inc()
}

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes spans to a writer and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	limit   int
}

// NewJSONTracer constructs a tracer that writes spans as JSON lines to w.
// At most limit spans are retained for Entries; limit <= 0 keeps 1024.
func NewJSONTracer(w io.Writer, limit int) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	if limit <= 0 {
		limit = 1024
	}
	return &JSONTraceTracer{enc: enc, limit: limit}
}

// Entries returns a copy of the retained spans, oldest first.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements the Tracer interface.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() {
		ended := time.Now().UTC()
		entry := JSONTraceEntry{
			Operation:  s.operation,
			Status:     "success",
			DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
			StartedAt:  s.started,
			EndedAt:    ended,
		}
		if err != nil {
			entry.Status = "error"
			entry.Error = err.Error()
		}
		s.tracer.record(entry)
	})
}

func (t *JSONTraceTracer) record(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if over := len(t.entries) - t.limit; over > 0 {
		t.entries = append([]JSONTraceEntry(nil), t.entries[over:]...)
	}
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}
