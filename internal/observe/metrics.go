// Package observe provides application-wide observability primitives for
// Clarion: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// wires a Prometheus exporter so everything remains scrapable via the
// standard /metrics endpoint on the HTTP server. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Clarion metrics.
const meterName = "github.com/auralab/clarion"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// RunDuration tracks end-to-end denoise run latency. Use with
	// attribute.String("surface", "http"|"udp"|"stream") and
	// attribute.String("status", "ok"|"error").
	RunDuration metric.Float64Histogram

	// FrameDuration tracks single frame evaluation latency.
	FrameDuration metric.Float64Histogram

	// GuardWait tracks time spent waiting to acquire the processor guard.
	GuardWait metric.Float64Histogram

	// Runs counts denoise runs. Use with attribute.String("status", ...).
	Runs metric.Int64Counter

	// ActiveRuns tracks the number of runs currently admitted (including
	// those waiting on the guard).
	ActiveRuns metric.Int64UpDownCounter

	// FramesProcessed counts individual frame evaluations.
	FramesProcessed metric.Int64Counter

	// DatagramRequests counts UDP requests. Use with
	// attribute.String("status", "ok"|"error"|"malformed").
	DatagramRequests metric.Int64Counter

	// ArtifactsCleaned counts temp files removed by the artifact store.
	ArtifactsCleaned metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...) and attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// runBuckets defines histogram bucket boundaries (in seconds) for whole
// denoise runs, which span from tens of milliseconds to minutes for long
// recordings.
var runBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// frameBuckets defines bucket boundaries (in seconds) for single-frame
// evaluation, which sits in the sub-millisecond to tens-of-ms range.
var frameBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RunDuration, err = m.Float64Histogram("clarion.denoise.run.duration",
		metric.WithDescription("End-to-end latency of a denoise run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FrameDuration, err = m.Float64Histogram("clarion.denoise.frame.duration",
		metric.WithDescription("Latency of a single frame evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GuardWait, err = m.Float64Histogram("clarion.denoise.guard.wait",
		metric.WithDescription("Time spent waiting for exclusive processor access."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("clarion.denoise.runs",
		metric.WithDescription("Number of denoise runs started."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("clarion.denoise.active_runs",
		metric.WithDescription("Number of denoise runs currently admitted."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("clarion.denoise.frames",
		metric.WithDescription("Number of frames evaluated."),
	); err != nil {
		return nil, err
	}
	if met.DatagramRequests, err = m.Int64Counter("clarion.udp.requests",
		metric.WithDescription("Number of UDP datagram requests received."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactsCleaned, err = m.Int64Counter("clarion.artifacts.cleaned",
		metric.WithDescription("Number of temporary artifacts removed."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("clarion.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] instance built from the
// global OTel meter provider. Instruments built before [InitProvider] runs
// record into the no-op default provider, so call InitProvider first in
// production wiring.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
