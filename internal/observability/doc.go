// Package observability provides logging, metrics, and distributed tracing
// for a codey process: structured logs via slog with redaction of secrets,
// Prometheus counters/histograms for LLM and tool-execution activity, and
// OpenTelemetry spans around each dispatched LLM request and tool call.
//
// # Metrics
//
// Metrics track LLM request latency and token usage, and tool execution
// latency, by provider/model/tool name and outcome:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... dispatch an LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute a tool ...
//	metrics.RecordToolExecution("read_file", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on log/slog, with:
//   - automatic request/run/tool-call ID correlation pulled from context
//   - redaction of API keys, tokens, and other secret-shaped values
//   - JSON output for production, text for interactive use
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	ctx = observability.AddRunID(ctx, runID)
//	logger.Info(ctx, "dispatching tool call", "tool", call.Name)
//	logger.Error(ctx, "llm request failed", "error", err, "api_key", apiKey) // redacted
//
// # Tracing
//
// Tracing uses OpenTelemetry to wrap each LLM request and tool execution in
// a span, so a slow turn can be broken down into its constituent calls:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "codey",
//	    Endpoint:     "localhost:4317", // empty disables export; spans still nest
//	    SamplingRate: 1.0,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer span.End()
//	if err != nil {
//	    tracer.RecordError(span, err)
//	}
//
// # Nil-safety
//
// *Tracer and *Metrics are both safe to use as nil: every method on a nil
// receiver is a no-op. Agent, Executor, and Orchestrator all accept them as
// optional collaborators for exactly this reason, so a caller that never
// configures observability pays nothing for it beyond a few nil checks.
package observability
