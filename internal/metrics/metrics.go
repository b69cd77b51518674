// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics collects run-execution metrics through the
// OpenTelemetry metrics API, exported over the Prometheus text format
// at /metrics. Grounded on the teacher's internal/tracing.MetricsCollector,
// scoped down to the counters and histograms this repo's run-execution
// core actually emits.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Registry wraps an OTel MeterProvider backed by the Prometheus
// exporter, plus the instruments the run-execution core emits.
type Registry struct {
	provider *sdkmetric.MeterProvider

	runsTotal     metric.Int64Counter
	stepsTotal    metric.Int64Counter
	gateEvalTotal metric.Int64Counter
	runDuration   metric.Float64Histogram
}

// NewRegistry builds a Registry. A failure constructing any instrument
// is a programming error (fixed instrument names/units), so NewRegistry
// panics rather than threading an error through every call site —
// matching promauto's own panic-on-duplicate-registration convention.
func NewRegistry() *Registry {
	exporter, err := prometheus.New()
	if err != nil {
		panic("metrics: creating prometheus exporter: " + err.Error())
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("fyreflow.core")

	runsTotal, err := meter.Int64Counter(
		"fyreflow_runs_total",
		metric.WithDescription("Total pipeline runs submitted, by triggered_by and terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic("metrics: runs_total: " + err.Error())
	}

	stepsTotal, err := meter.Int64Counter(
		"fyreflow_steps_total",
		metric.WithDescription("Total step dispatches, by provider and outcome"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		panic("metrics: steps_total: " + err.Error())
	}

	gateEvalTotal, err := meter.Int64Counter(
		"fyreflow_gate_evaluations_total",
		metric.WithDescription("Total quality gate evaluations, by kind and result"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		panic("metrics: gate_evaluations_total: " + err.Error())
	}

	runDuration, err := meter.Float64Histogram(
		"fyreflow_run_duration_seconds",
		metric.WithDescription("Pipeline run wall-clock duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic("metrics: run_duration_seconds: " + err.Error())
	}

	return &Registry{
		provider:      provider,
		runsTotal:     runsTotal,
		stepsTotal:    stepsTotal,
		gateEvalTotal: gateEvalTotal,
		runDuration:   runDuration,
	}
}

// Handler serves the Prometheus text exposition format. The OTel
// Prometheus exporter registers itself with the default Prometheus
// registry, so promhttp.Handler picks up every instrument above.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunSubmitted increments the runs counter for a newly submitted run.
func (r *Registry) RecordRunSubmitted(ctx context.Context, triggeredBy string) {
	r.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("triggered_by", triggeredBy),
		attribute.String("status", "queued"),
	))
}

// RecordRunTerminal records a run reaching a terminal status and its
// total wall-clock duration.
func (r *Registry) RecordRunTerminal(ctx context.Context, status string, durationSeconds float64) {
	r.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	r.runDuration.Record(ctx, durationSeconds, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStep records one step dispatch outcome.
func (r *Registry) RecordStep(ctx context.Context, providerID, outcome string) {
	r.stepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("outcome", outcome),
	))
}

// RecordGateEvaluation records one quality gate evaluation result.
func (r *Registry) RecordGateEvaluation(ctx context.Context, kind, result string) {
	r.gateEvalTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// Shutdown flushes and releases the underlying meter provider.
func (r *Registry) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
