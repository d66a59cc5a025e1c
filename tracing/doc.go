// Package tracing wraps OpenTelemetry so that lifecycle code can open spans
// around transitions, approvals and hook executions without importing the
// upstream packages directly.
package tracing
