// Package observability provides OpenTelemetry tracing and metrics for
// the gateway, following cloud-native best practices.
//
// # Tracing and metrics
//
// Initialize a provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "gateway",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// Track an operation from start to finish — this starts a span, records
// RED (Rate, Errors, Duration) metrics, and ends the span when the
// returned function is called with the operation's error (nil on
// success):
//
//	ctx, end := obs.TrackOperation(ctx, "dispatch.invoke/ai.generateText",
//		observability.ProcedureCall(name, rateClass, actorID)...)
//	defer func() { end(err) }()
//
// # Service level objectives
//
// Register a latency/success-rate target per operation and report
// compliance against it once observations accumulate:
//
//	tracker := observability.NewSLOTracker()
//	tracker.SetTarget(&observability.SLOTarget{
//		Operation: "ai.generateText", LatencyP99: 20 * time.Second, SuccessRate: 0.98,
//	})
//	tracker.Record(observability.SLOObservation{Operation: "ai.generateText", Latency: d, Success: err == nil})
//	status, err := tracker.Status("ai.generateText")
package observability
