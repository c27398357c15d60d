// Package telemetry installs the OpenTelemetry tracer provider used by the
// enforcement and approval services.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "aegis-mcp"

// Config selects where spans are written.
type Config struct {
	Enabled bool
	// Output is a file path; empty means stderr. Stdout is never used
	// because the MCP stdio transport owns it.
	Output  string
	Version string
}

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Setup installs a global tracer provider exporting spans as JSON. When
// tracing is disabled it leaves the no-op provider in place.
func Setup(cfg Config) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp, err := NewProvider(exporter, cfg.Version)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			err = errors.Join(err, closer.Close())
		}
		return err
	}, nil
}

// NewProvider builds a provider that hands every span to exporter as soon
// as it ends.
func NewProvider(exporter sdktrace.SpanExporter, version string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}
