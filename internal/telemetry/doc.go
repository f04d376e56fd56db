// Package telemetry wires the process-wide observability stack: the slog
// handler (JSON or tint text), the Prometheus collectors exposed on /metrics
// and the OpenTelemetry tracer provider.
package telemetry
