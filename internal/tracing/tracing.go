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

// Package tracing wraps the OpenTelemetry tracing SDK behind a small
// Provider the run-execution core instruments its dispatch loop with.
// It is entirely optional: a Config with Enabled == false (or a nil
// *Provider) makes every span a no-op, so the run-execution core never
// has to special-case "tracing is off".
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// credentialsFromTLS adapts a *tls.Config to the gRPC transport
// credentials otlptracegrpc.WithTLSCredentials expects.
func credentialsFromTLS(cfg *tls.Config) credentials.TransportCredentials {
	return credentials.NewTLS(cfg)
}

// ExporterType selects which span exporter backs a Provider.
type ExporterType string

const (
	ExporterNone     ExporterType = ""
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
	ExporterStdout   ExporterType = "stdout"
)

// Config configures a Provider. Grounded on the teacher's
// internal/tracing.Config, scoped down to the fields this repo's
// run-execution core actually exercises (trace export only — the
// teacher's sampling/storage/redaction knobs belong to its own
// broader audit subsystem, out of this spec's core).
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	Exporter ExporterType
	Endpoint string
	Insecure bool
	TLS      *tls.Config
}

// Provider wraps an SDK TracerProvider. A nil *Provider is valid and
// behaves as a no-op (Tracer falls back to the global otel.Tracer,
// which defaults to a no-op implementation until something calls
// otel.SetTracerProvider).
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a Provider from cfg. When cfg.Enabled is false it
// returns (nil, nil) rather than an error, so callers can always pass
// the result straight to runner.Config.Tracing.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: building %s exporter: %w", cfg.Exporter, err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", nonEmpty(cfg.ServiceName, "fyreflow-core")),
		attribute.String("service.version", nonEmpty(cfg.ServiceVersion, "dev")),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// newExporter dispatches to the concrete exporter constructor
// matching cfg.Exporter, mirroring the teacher's
// internal/tracing/export package's one-constructor-per-backend shape.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else if cfg.TLS != nil {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentialsFromTLS(cfg.TLS)))
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else if cfg.TLS != nil {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(cfg.TLS))
		}
		return otlptracehttp.New(ctx, opts...)
	case ExporterStdout, ExporterNone:
		return stdouttrace.New()
	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.Exporter)
	}
}

// Tracer returns a named tracer: the Provider's own when configured,
// otherwise the process-global otel.Tracer (a no-op until some other
// Provider has called otel.SetTracerProvider). The signature matches
// trace.TracerProvider so *Provider satisfies it directly.
func (p *Provider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return p.tp.Tracer(name, opts...)
}

// Shutdown flushes pending spans and releases exporter resources. Nil
// receivers are a no-op so callers don't need to guard Shutdown calls.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
