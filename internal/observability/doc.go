// Package observability builds the process logger, the Prometheus metrics
// and the OpenTelemetry tracer.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler masks bearer tokens, OAuth
// client secrets and tokens, age identities and provider API keys in both
// messages and attributes. Request, user and thread ids stored in the
// context with WithRequestID, WithUserID and WithThreadID are attached to
// every record logged with a *Context method.
//
// # Metrics
//
// Metrics registers the tero_* series and implements the engine Observer
// and the test suite Metrics interfaces:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	mux.Handle("GET /metrics", metrics.Handler())
//
// # Tracing
//
// NewTracer exports spans over OTLP gRPC. Without an endpoint it falls back
// to the global no-op provider, so spans cost nothing.
package observability
