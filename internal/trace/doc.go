// Package trace records what the compiler driver is doing and when.
//
// Lowering a module is a fan-out of per-function work feeding shared
// registries, and when it stalls the interesting question is which function
// or phase is holding everyone up. Spans answer that: the driver opens one
// per phase and one per function, and the events land in a stream, a crash
// ring, or both.
//
// Enable tracing from the command line:
//
//	opal lower --trace=- --trace-level=phase prog.ir
//
// Tracer implementations:
//
//   - NopTracer: zero overhead when disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: circular buffer kept for crash dumps
//   - MultiTracer: fan-out to several tracers
//
// Levels gate scopes: LevelPhase emits driver and pass boundaries,
// LevelDetail adds per-function spans, LevelDebug adds per-instruction
// points.
//
// Tracers travel through the driver via context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//	span := trace.Begin(t, trace.ScopePass, "lower", 0)
//	defer span.End("")
package trace
