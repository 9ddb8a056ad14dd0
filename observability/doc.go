// Package observability wires OpenTelemetry metrics and tracing for queues,
// breakers, bulkheads and the HTTP API.
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, &meterCfg, log)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("taskguard"))
//	metrics.RecordJobAdded(ctx, "mail", "send")
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, &tracerCfg, log)
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanJobExecute)
//	defer observability.EndSpan(span, err)
//
// Tests use NewNopMetrics or a ManualReader from the metric SDK.
package observability
