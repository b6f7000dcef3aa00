// Package observe provides application-wide observability primitives for
// facetrial: OpenTelemetry metrics, structured-logging HTTP middleware, and
// SDK provider initialisation.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all facetrial metrics.
const meterName = "github.com/visagelab/facetrial"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// DetectDuration tracks per-frame expression-detection latency.
	DetectDuration metric.Float64Histogram

	// UploadDuration tracks capture-artifact upload latency.
	UploadDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// Detections counts scheduler detections. Use with attribute:
	//   attribute.String("status", "ok"|"miss"|"error")
	Detections metric.Int64Counter

	// SamplesAppended counts samples appended to the session buffer.
	SamplesAppended metric.Int64Counter

	// SamplesEvicted counts samples evicted from the buffer by the capacity
	// bound.
	SamplesEvicted metric.Int64Counter

	// PersistenceErrors counts swallowed persistence failures. Use with
	// attribute: attribute.String("step", "upload"|"submit")
	PersistenceErrors metric.Int64Counter

	// ActiveSessions tracks the number of live experiment sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// single-frame inference and small-file uploads.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DetectDuration, err = m.Float64Histogram("facetrial.detect.duration",
		metric.WithDescription("Latency of per-frame expression detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("facetrial.upload.duration",
		metric.WithDescription("Latency of capture artifact uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("facetrial.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.Detections, err = m.Int64Counter("facetrial.detections",
		metric.WithDescription("Scheduler detections by status."),
	); err != nil {
		return nil, err
	}
	if met.SamplesAppended, err = m.Int64Counter("facetrial.samples.appended",
		metric.WithDescription("Samples appended to the session buffer."),
	); err != nil {
		return nil, err
	}
	if met.SamplesEvicted, err = m.Int64Counter("facetrial.samples.evicted",
		metric.WithDescription("Samples evicted by the buffer capacity bound."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceErrors, err = m.Int64Counter("facetrial.persistence.errors",
		metric.WithDescription("Swallowed persistence failures by step."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("facetrial.sessions.active",
		metric.WithDescription("Number of live experiment sessions."),
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
