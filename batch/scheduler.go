package batch

import (
	"context"
	"sync"
	"time"

	"github.com/batchforge/batchengine/emit"
	"github.com/batchforge/batchengine/store"
)

// runState is the bounded concurrency controller for one Run invocation.
// It tracks how many worker goroutines are mid-call (current_concurrency)
// and drives the pump/drain/finish state machine described in spec
// §4.4.1-§4.4.2. Every KV and chain-state access it touches goes through
// Chain/Step/Status, which already serialize internally, satisfying the
// spec's §9 requirement that a threaded implementation serialize all such
// access.
type runState struct {
	job    *Job
	pc     *store.Context
	chain  *Chain
	status *Status
	runID  string

	wg         sync.WaitGroup
	mu         sync.Mutex
	inFlight   int
	err        error
	finishOnce sync.Once
	drainMu    sync.Mutex
}

func (r *runState) recordErr(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

func (r *runState) currentConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// spawn launches n fresh pump iterations, each a goroutine tracked by the
// WaitGroup the caller waits on.
func (r *runState) spawn(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		r.mu.Lock()
		r.inFlight++
		r.mu.Unlock()
		if r.job.metrics != nil {
			r.job.metrics.UpdateConcurrency(r.runID, r.currentConcurrency())
		}
		r.wg.Add(1)
		go r.pumpOnce(ctx)
	}
}

func (r *runState) releaseSlot() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	if r.job.metrics != nil {
		r.job.metrics.UpdateConcurrency(r.runID, r.currentConcurrency())
	}
}

// pumpOnce is one worker's pump routine (spec §4.4.1): pull a record,
// drive it through the chain, and either schedule refills, count a
// failure, or leave it parked.
func (r *runState) pumpOnce(ctx context.Context) {
	defer r.wg.Done()

	if ctx.Err() != nil {
		r.releaseSlot()
		return
	}

	rec, err := r.job.source.GetNext(ctx)
	if err != nil {
		r.releaseSlot()
		r.recordErr(PersistenceError("get_next", err))
		return
	}

	if rec == nil {
		r.releaseSlot()
		if r.status.CurrentPhase() == PhaseInjecting {
			r.status.SetPhase(PhaseDraining)
			if perr := r.status.Persist(ctx, r.pc); perr != nil {
				r.recordErr(perr)
				return
			}
			r.job.emitter.Emit(emit.Event{RunID: r.runID, Msg: "phase_draining"})
		}
		r.afterSlotFreed(ctx)
		return
	}

	r.status.RecordLoaded(rec.ID)
	if perr := r.status.Persist(ctx, r.pc); perr != nil {
		r.releaseSlot()
		r.recordErr(perr)
		return
	}
	if r.job.metrics != nil {
		r.job.metrics.IncrementLoaded(r.runID, 1)
	}
	r.job.emitter.Emit(emit.Event{RunID: r.runID, Msg: "record_loaded", Meta: map[string]interface{}{"record_id": rec.ID}})

	bootstrap := bootstrapSER(rec.ID, rec.Payload)
	start := time.Now()
	result, err := r.chain.Head().Execute(ctx, bootstrap)

	if err != nil {
		r.releaseSlot()
		r.recordErr(err)
		return
	}

	finalized, err := r.applyResult(ctx, result, start)
	if err != nil {
		r.releaseSlot()
		r.recordErr(err)
		return
	}
	if finalized > 0 {
		r.spawn(ctx, finalized)
	}

	// The slot is released only after this worker's result is applied and
	// its refills are spawned, so a zero concurrency count always means no
	// worker is still executing or bookkeeping.
	r.releaseSlot()
	r.afterSlotFreed(ctx)
}

// applyResult processes one chain execution outcome: bookkeeping for
// finalized or failed records. It returns how many fresh pump iterations
// should be scheduled to keep the concurrency window full (spec §4.4.1
// step 4).
func (r *runState) applyResult(ctx context.Context, result SER, start time.Time) (int, error) {
	switch {
	case result.Status == StatusSuccessful && result.StepIndex == r.chain.Length():
		n := len(result.DependentRecords)
		if r.job.metrics != nil {
			r.job.metrics.RecordStepLatency(r.runID, "terminal", time.Since(start), "success")
		}
		r.job.emitter.Emit(emit.Event{RunID: r.runID, Msg: "records_finalized", Meta: map[string]interface{}{"count": n}})
		return n, nil

	case result.Status == StatusFailed:
		n := len(result.DependentRecords)
		if n == 0 {
			n = 1
		}
		r.status.RecordFailed(n)
		if err := r.status.Persist(ctx, r.pc); err != nil {
			return 0, err
		}
		if r.job.metrics != nil {
			r.job.metrics.IncrementFailed(r.runID, n)
		}
		r.job.emitter.Emit(emit.Event{RunID: r.runID, Msg: "records_failed", Meta: map[string]interface{}{"count": n, "error": result.Error}})
		return 0, nil

	default:
		// ACCUMULATING/PROCESSING: the record is now parked in an
		// aggregator; no refill is scheduled for it here.
		return 0, nil
	}
}

// afterSlotFreed implements the drain and end-of-batch checks a worker
// performs after finishing its call (spec §4.4.2). Since current
// concurrency counts workers mid-call, "every in-flight record is parked"
// holds exactly when that count is zero; only then is the chain forced.
// The checks run under drainMu so that two workers finishing together do
// not drain the same buffers twice.
func (r *runState) afterSlotFreed(ctx context.Context) {
	if r.status.CurrentPhase() != PhaseDraining {
		return
	}
	r.drainMu.Lock()
	defer r.drainMu.Unlock()
	r.drainLocked(ctx)
}

// drainLocked forces the chain tail while every in-flight record is parked,
// recursing after each forced drain to re-check whether the run has reached
// quiescence, and runs end-of-batch once nothing remains. drainMu is held.
func (r *runState) drainLocked(ctx context.Context) {
	inChain := r.chain.RecordsInChain()
	concurrency := r.currentConcurrency()
	fanIn := r.chain.PipelineFanIn()

	if inChain > 0 && inChain < fanIn && concurrency == 0 {
		if r.job.metrics != nil {
			r.job.metrics.IncrementDrainEvents(r.runID)
		}
		results, err := r.chain.ForceTail(ctx)
		if err != nil {
			r.recordErr(err)
			return
		}
		for _, res := range results {
			if _, err := r.applyResult(ctx, res, time.Now()); err != nil {
				r.recordErr(err)
				return
			}
		}
		r.drainLocked(ctx)
		return
	}

	if concurrency == 0 && inChain == 0 {
		r.finish(ctx)
	}
}

// finish runs end-of-batch exactly once: final status, run summary,
// closing the persistence context.
func (r *runState) finish(ctx context.Context) {
	r.finishOnce.Do(func() {
		r.status.Finish(time.Now())
		if err := r.status.Persist(ctx, r.pc); err != nil {
			r.recordErr(err)
		}
		phase := r.status.CurrentPhase()
		if err := writeSummary(ctx, r.pc, phase, r.job.summaryLimit); err != nil {
			r.recordErr(err)
		}
		r.job.emitter.Emit(emit.Event{RunID: r.runID, Msg: "run_finished", Meta: map[string]interface{}{"phase": string(phase)}})
		if err := r.pc.Close(); err != nil {
			r.recordErr(PersistenceError("close persistence context", err))
		}
	})
}
