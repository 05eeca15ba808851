package core

import (
	"context"
	"time"

	"vivarium/internal/blob"
)

// Logger is the minimal structured logging surface used by the service.
// Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock abstracts time for retention math and lifecycle timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// RetentionRecorder is an optional MetricsRecorder extension counting purged records.
type RetentionRecorder interface {
	ObservePurged(entity EntityType, count int)
}

// AuditFailureRecorder is an optional MetricsRecorder extension counting
// audit rows that could not be written.
type AuditFailureRecorder interface {
	ObserveAuditFailure(action string)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithArchive sets the blob store receiving tombstones of purged records.
func WithArchive(store blob.Store) Option {
	return func(s *Service) {
		s.archive = store
	}
}

// WithPublicBaseURL sets the base URL encoded into generated QR codes.
func WithPublicBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.publicBaseURL = base
		}
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

func systemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}
