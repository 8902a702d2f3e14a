package cmd

import (
	"context"

	"github.com/dukex/crmflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer exports spans over OTLP when enabled and records nothing otherwise.
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tp, err := otelhelper.NewTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return tp.Tracer(serviceName), tp.Shutdown, nil
}
