package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mattjoyce/pluginhost"

// Tracer returns the module's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartPluginSpan starts "plugin.<op>" around one plugin call.
func StartPluginSpan(ctx context.Context, op, pluginName string, records int) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "plugin."+op)
	span.SetAttributes(
		attribute.String("plugin.name", pluginName),
		attribute.Int("plugin.records", records),
	)
	return ctx, span
}

// EndPluginSpan ends the span, marking it failed when any error was seen.
func EndPluginSpan(span trace.Span, errs ...error) {
	failed := 0
	for _, err := range errs {
		if err != nil {
			span.RecordError(err)
			failed++
		}
	}
	if failed > 0 {
		span.SetAttributes(attribute.Int("plugin.errors", failed))
		span.SetStatus(codes.Error, "plugin reported errors")
	}
	span.End()
}
