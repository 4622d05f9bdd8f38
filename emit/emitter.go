package emit

import "context"

// Emitter receives observability events from a running batch job.
//
// Implementations must be non-blocking and safe for concurrent use — the
// controller calls Emit from every worker goroutine.
type Emitter interface {
	// Emit sends a single event. Must not panic; backends should log and
	// swallow their own failures.
	Emit(event Event)

	// EmitBatch sends several events in one call, preserving order.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered.
	Flush(ctx context.Context) error
}
