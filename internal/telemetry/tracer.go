package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Options configures InitTracer.
type Options struct {
	ServiceName string
	Exporter    string
	// Writer receives stdout exports. Defaults to os.Stdout.
	Writer io.Writer
	Logger *slog.Logger
}

// InitTracer initializes OpenTelemetry tracing and returns the provider's
// shutdown function. With the "none" exporter the global no-op provider is
// left in place and the shutdown function does nothing.
func InitTracer(opts Options) (func(context.Context) error, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized",
		slog.String("service", opts.ServiceName),
		slog.String("exporter", opts.Exporter),
	)

	return tp.Shutdown, nil
}
