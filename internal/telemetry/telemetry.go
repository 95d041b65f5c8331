// Package telemetry wires the metrics pipeline: an OpenTelemetry meter backed
// by a Prometheus exporter, exposed for scraping through the gateway. A nil
// *Metrics is a valid no-op, so callers never branch on whether telemetry is
// enabled.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Job outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeInvalidInput = "invalid_input"
	OutcomeFailed       = "failed"
)

// Instrument names.
const (
	jobsCounterName       = "voiceclone_jobs_total"
	synthDurationName     = "voiceclone_synthesis_duration_seconds"
	outcomeAttributeKey   = "outcome"
	jobsCounterDesc       = "Completed synthesis jobs by outcome."
	synthDurationDesc     = "Wall-clock duration of engine synthesis calls."
	synthDurationUnitName = "s"
)

// Metrics holds the meter provider and the instruments the worker records on.
type Metrics struct {
	provider      *sdkmetric.MeterProvider
	handler       http.Handler
	jobs          metric.Int64Counter
	synthDuration metric.Float64Histogram
}

// New builds the Prometheus-backed meter provider, registers it globally, and
// creates the worker's instruments.
func New(serviceName string) (*Metrics, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	jobs, err := meter.Int64Counter(
		jobsCounterName,
		metric.WithDescription(jobsCounterDesc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs counter: %w", err)
	}

	synthDuration, err := meter.Float64Histogram(
		synthDurationName,
		metric.WithDescription(synthDurationDesc),
		metric.WithUnit(synthDurationUnitName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis duration histogram: %w", err)
	}

	return &Metrics{
		provider:      provider,
		handler:       promhttp.Handler(),
		jobs:          jobs,
		synthDuration: synthDuration,
	}, nil
}

// Handler returns the scrape endpoint handler, or nil when telemetry is off.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}

	return m.handler
}

// RecordJob counts one completed job under the given outcome label.
func (m *Metrics) RecordJob(ctx context.Context, outcome string) {
	if m == nil {
		return
	}

	m.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(outcomeAttributeKey, outcome),
	))
}

// RecordSynthesis records the duration of one engine synthesis call.
func (m *Metrics) RecordSynthesis(ctx context.Context, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.synthDuration.Record(ctx, elapsed.Seconds())
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}

	err := m.provider.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}

	return nil
}
