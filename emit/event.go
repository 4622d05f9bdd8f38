// Package emit provides pluggable observability for batch engine execution.
package emit

// Event represents an observability event emitted during batch execution.
//
// Events surface the engine's run-level state transitions: a record
// loaded into the chain, the switch to the draining phase, records
// finalized or failed, and the end of the run.
type Event struct {
	// RunID identifies the run directory this event belongs to.
	RunID string

	// StepIndex is the 1-based chain position the event concerns. Zero for
	// batch-level events (phase transitions, summary writes).
	StepIndex int

	// Msg is a short, stable event name, e.g. "record_loaded",
	// "phase_draining", "records_finalized", "records_failed",
	// "run_finished".
	Msg string

	// Meta carries event-specific structured data, e.g. "record_id",
	// "count", "error", "phase".
	Meta map[string]interface{}
}
