package executor

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer grounds per-directive spans on hector's observability.GetTracer
// idiom (pkg/observability/tracer.go), simplified to the global API: the
// cmd/playbooks binary installs a TracerProvider; without one the otel
// default no-op stays in place.
func tracer() trace.Tracer {
	return otel.Tracer("github.com/playbooks-run/core/executor")
}
