/*
Package telemetry wires OpenTelemetry tracing and metrics into the task
orchestrator's HTTP surface and dispatch path.

It has three pieces:

  - OTelProvider (otel.go) implements core.Telemetry (StartSpan/RecordMetric)
    against the OTLP/HTTP exporters, batching traces and metrics for export.
  - TracingMiddleware (http.go) wraps an http.Handler with otelhttp
    instrumentation, extracting W3C TraceContext headers and recording one
    span per request.
  - TelemetryLogger (logger.go) is the package's own rate-limited console
    logger, kept separate from core.Logger so telemetry failures never
    depend on (or recurse into) the application's own logging path.

Usage:

	provider, err := telemetry.NewOTelProvider("orchestrator", otlpEndpoint)
	...
	traced := telemetry.TracingMiddleware("orchestrator")(mux)
	http.ListenAndServe(":8080", traced)

If otlpEndpoint is unset, callers skip provider construction and pass a
core.NoOpTelemetry instead; TracingMiddleware is always safe to apply since
otelhttp falls back to a no-op tracer when no global provider is configured.
*/
package telemetry
