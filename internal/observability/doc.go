// Package observability holds threadwise's logging, metrics and tracing.
//
// Logging installs a slog handler that redacts secrets (Slack tokens,
// provider API keys, JWTs) and copies correlation fields from the context:
// request_id, session_id, user_id, channel, thread_id and the active trace_id.
//
//	slog.SetDefault(observability.NewLogger(observability.LogConfig{Level: "info", Format: "auto"}))
//
// Metrics registers Prometheus collectors prefixed threadwise_ and satisfies
// the observer interfaces of the mention, tools, llm and ratelimit packages:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	executor := tools.NewExecutor(registry, tools.WithObserver(metrics))
//
// Tracing installs an OTLP gRPC exporter when an endpoint is configured.
// Components start spans from otel.Tracer, so the global provider set here is
// all they need:
//
//	tracer, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
//	    Endpoint: "localhost:4317",
//	})
//	defer shutdown(context.Background())
package observability
