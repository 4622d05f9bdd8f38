package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/batchforge/batchengine/store"
)

// StepFunc is the user-supplied transformation invoked once a step's
// aggregation quantity has been reached. It may suspend (block on ctx) and
// may fail with any error; failure is not fatal to the engine.
type StepFunc func(ctx context.Context, payloads []interface{}) (interface{}, error)

// Step is one node of the chain: it buffers upstream payloads until its
// aggregation quantity is reached, then invokes fn and hands the result to
// its successor.
type Step struct {
	stepIndex            int
	name                 string
	aggregationQuantity  int
	fn                   StepFunc
	successor            *Step
	pc                   *store.Context
	chainLength          int

	mu              sync.Mutex
	pendingRecords  []string
	pendingPayloads []interface{}
}

// newStep constructs one chain node. quantity must be >= 1.
func newStep(index int, name string, quantity int, fn StepFunc, pc *store.Context, chainLength int) *Step {
	return &Step{
		stepIndex:           index,
		name:                name,
		aggregationQuantity: quantity,
		fn:                  fn,
		pc:                  pc,
		chainLength:         chainLength,
	}
}

// Execute is the aggregator's public contract (spec §4.2): accept an
// upstream SER, buffer it, and either checkpoint an ACCUMULATING snapshot
// or dispatch a full batch through fn.
func (s *Step) Execute(ctx context.Context, incoming SER) (SER, error) {
	if !isValidIncoming(incoming) {
		return badInputSER(s.stepIndex, fmt.Sprintf("step %q rejected incoming ser with status %q", s.name, incoming.Status)), nil
	}

	s.mu.Lock()
	s.pendingRecords = append(s.pendingRecords, incoming.DependentRecords...)
	s.pendingPayloads = append(s.pendingPayloads, incoming.OutputPayload)
	if len(s.pendingPayloads) < s.aggregationQuantity {
		defer s.mu.Unlock()
		return s.checkpointAccumulating(ctx)
	}
	// Quota reached: take and clear the full batch under the same lock that
	// appended to it, so no later arrival can join or empty this batch.
	records, payloads := s.pendingRecords, s.pendingPayloads
	s.pendingRecords, s.pendingPayloads = nil, nil
	s.mu.Unlock()
	return s.runBatch(ctx, records, payloads)
}

// checkpointAccumulating persists the current buffer as an ACCUMULATING
// snapshot. s.mu is held by the caller for the whole checkpoint, so a
// dispatch of this step cannot finalize these records before their
// ACCUMULATING pointers are written.
func (s *Step) checkpointAccumulating(ctx context.Context) (SER, error) {
	snapshot := SER{
		StepIndex:        s.stepIndex,
		Status:           StatusAccumulating,
		DependentRecords: append([]string(nil), s.pendingRecords...),
		AccPayload:       append([]interface{}(nil), s.pendingPayloads...),
	}

	if err := checkpoint(ctx, s.pc, &snapshot, s.chainLength); err != nil {
		return SER{}, err
	}
	return snapshot, nil
}

// HasPending reports whether this step currently buffers any unflushed
// payloads, used by the controller's drain logic to find steps to force.
func (s *Step) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingPayloads) > 0
}

// ForceDrain flushes whatever is currently buffered through fn regardless
// of aggregation_quantity. This is the contractual drain semantics: users
// opt in to possibly-under-quota final batches once the source is
// exhausted (spec §4.4.2).
func (s *Step) ForceDrain(ctx context.Context) (SER, error) {
	return s.dispatch(ctx)
}

// InjectRecoveredState seeds this step's pending buffers directly from a
// prior run's SER snapshot, used by retry to rehydrate in-flight work
// (spec §4.4.3).
func (s *Step) InjectRecoveredState(snapshot SER) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRecords = append(s.pendingRecords, snapshot.DependentRecords...)
	s.pendingPayloads = append(s.pendingPayloads, snapshot.AccPayload...)
}

// dispatch snapshots and clears the buffers atomically with respect to the
// fn call, then invokes fn and checkpoints the outcome (spec §4.2 step 5).
func (s *Step) dispatch(ctx context.Context) (SER, error) {
	s.mu.Lock()
	records := s.pendingRecords
	payloads := s.pendingPayloads
	s.pendingRecords = nil
	s.pendingPayloads = nil
	s.mu.Unlock()
	return s.runBatch(ctx, records, payloads)
}

// runBatch invokes fn on one already-snapshotted batch and checkpoints the
// outcome.
func (s *Step) runBatch(ctx context.Context, records []string, payloads []interface{}) (SER, error) {
	working := SER{StepIndex: s.stepIndex, DependentRecords: records, AccPayload: payloads}

	output, err := s.fn(ctx, payloads)
	if err != nil {
		working.Status = StatusFailed
		working.Error = UserStepError(err).Error()
		if cerr := checkpoint(ctx, s.pc, &working, s.chainLength); cerr != nil {
			return SER{}, cerr
		}
		return working, nil
	}

	working.Status = StatusProcessing
	if cerr := checkpoint(ctx, s.pc, &working, s.chainLength); cerr != nil {
		return SER{}, cerr
	}
	working.OutputPayload = output
	working.Status = StatusSuccessful

	if s.successor != nil {
		return s.successor.Execute(ctx, working)
	}

	if cerr := checkpoint(ctx, s.pc, &working, s.chainLength); cerr != nil {
		return SER{}, cerr
	}
	return working, nil
}
