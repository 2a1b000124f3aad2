package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// EnvTraceParent is the environment variable carrying the W3C traceparent.
const EnvTraceParent = "TRACEPARENT"

const traceParentKey = "traceparent"

// Env returns the environment entries that continue ctx's trace in a child
// process. It is empty when ctx carries no sampled span.
func Env(ctx context.Context) []string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	tp := carrier.Get(traceParentKey)
	if tp == "" {
		return nil
	}
	return []string{EnvTraceParent + "=" + tp}
}

// FromEnv continues the trace named by $TRACEPARENT as looked up by getenv.
func FromEnv(ctx context.Context, getenv func(string) string) context.Context {
	tp := getenv(EnvTraceParent)
	if tp == "" {
		return ctx
	}
	return propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier{traceParentKey: tp})
}
