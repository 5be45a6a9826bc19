// Package observe provides observability primitives for the castpipe worker:
// OpenTelemetry metrics with a Prometheus exporter bridge so metrics can be
// scraped via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all castpipe metrics.
const meterName = "github.com/castpipe/castpipe"

// Metrics holds all OpenTelemetry metric instruments for the worker.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StepDuration tracks pipeline step wall-clock time. Use with attributes:
	//   attribute.String("step", ...), attribute.String("status", ...)
	StepDuration metric.Float64Histogram

	// ChunksTranscribed counts per-chunk transcription outcomes. Use with
	// attribute: attribute.String("status", "ok"|"failed")
	ChunksTranscribed metric.Int64Counter

	// ProviderRequests counts external service calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts external service errors by provider.
	ProviderErrors metric.Int64Counter

	// RetryAttempts counts retry-loop re-executions by operation.
	RetryAttempts metric.Int64Counter

	// ActiveRuns tracks the number of pipeline runs currently executing.
	ActiveRuns metric.Int64UpDownCounter
}

// stepBuckets defines histogram bucket boundaries (in seconds) sized for
// audio-processing steps, which run from sub-second to tens of minutes.
var stepBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StepDuration, err = m.Float64Histogram("castpipe.step.duration",
		metric.WithDescription("Wall-clock duration of pipeline steps by step name and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunksTranscribed, err = m.Int64Counter("castpipe.chunks.transcribed",
		metric.WithDescription("Total chunk transcription outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("castpipe.provider.requests",
		metric.WithDescription("Total external service requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("castpipe.provider.errors",
		metric.WithDescription("Total external service errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.RetryAttempts, err = m.Int64Counter("castpipe.retry.attempts",
		metric.WithDescription("Total retry-loop re-executions by operation."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("castpipe.active_runs",
		metric.WithDescription("Number of pipeline runs currently executing."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStep records one step execution with the standard attribute set.
func (m *Metrics) RecordStep(ctx context.Context, step, status string, seconds float64) {
	m.StepDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("status", status),
		),
	)
}

// RecordChunk records one chunk transcription outcome.
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.ChunksTranscribed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderRequest records an external service call outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records an external service error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordRetry records one retry-loop re-execution.
func (m *Metrics) RecordRetry(ctx context.Context, operation string) {
	m.RetryAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}
