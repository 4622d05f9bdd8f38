package batch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/batchforge/batchengine/emit"
	"github.com/batchforge/batchengine/store"
)

// Record is one user payload addressed by a stable string id. The engine
// treats Payload as opaque; only ID participates in bookkeeping.
type Record struct {
	ID      string
	Payload interface{}
}

// Source is the user-supplied record source (out of scope per the engine's
// own design — files, sockets, queues are the embedder's concern). GetNext
// may suspend; returning (nil, nil) is the permanent end-of-stream signal.
type Source interface {
	GetNext(ctx context.Context) (*Record, error)
}

// JobBuilder accumulates configuration before Build validates it and
// produces an immutable Job, matching the embedder API's chained-method
// shape: NewJob(name).ConcurrencyMultiplier(n).AddStep(...).Source(src).
// Store(backend).Build().
type JobBuilder struct {
	cfg *jobConfig
	err error
}

// NewJob starts a builder for a job named name.
func NewJob(name string) *JobBuilder {
	return &JobBuilder{cfg: &jobConfig{
		name:         name,
		summaryLimit: 10000,
		cwd:          ".",
		emitter:      emit.NewNullEmitter(),
	}}
}

// ConcurrencyMultiplier sets the factor multiplied by the chain's
// pipeline_fan_in to get max_concurrent_records.
func (b *JobBuilder) ConcurrencyMultiplier(n int) *JobBuilder {
	b.cfg.concurrencyMultiplier = n
	return b
}

// AddStep appends one aggregator step to the chain, in call order.
func (b *JobBuilder) AddStep(name string, aggregationQuantity int, fn StepFunc) *JobBuilder {
	if aggregationQuantity < 1 {
		b.err = ConfigError("step " + name + ": aggregation quantity must be >= 1")
		return b
	}
	b.cfg.steps = append(b.cfg.steps, stepSpec{name: name, quantity: aggregationQuantity, fn: fn})
	return b
}

// Source sets the record source records are pulled from during run.
func (b *JobBuilder) Source(src Source) *JobBuilder {
	b.cfg.source = src
	return b
}

// Store sets the persistence backend used to open run directories.
func (b *JobBuilder) Store(backend store.Backend) *JobBuilder {
	b.cfg.backend = backend
	return b
}

// WithOptions applies secondary configuration (emitter, metrics, summary
// limit, work dir).
func (b *JobBuilder) WithOptions(opts ...Option) *JobBuilder {
	for _, opt := range opts {
		if err := opt(b.cfg); err != nil {
			b.err = err
			return b
		}
	}
	return b
}

// Build validates the accumulated configuration and returns an immutable
// Job, or a ConfigError (spec §7: missing chain, zero concurrency
// multiplier, duplicate step instance are all fatal at build time).
func (b *JobBuilder) Build() (*Job, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.cfg.name == "" {
		return nil, ConfigError("job name must not be empty")
	}
	if len(b.cfg.steps) == 0 {
		return nil, ConfigError("job must have at least one step")
	}
	if b.cfg.concurrencyMultiplier <= 0 {
		return nil, ConfigError("concurrency multiplier must be positive")
	}
	if b.cfg.source == nil {
		return nil, ConfigError("job must have a source")
	}
	if b.cfg.backend == nil {
		return nil, ConfigError("job must have a store backend")
	}

	seen := make(map[string]bool, len(b.cfg.steps))
	for _, s := range b.cfg.steps {
		if seen[s.name] {
			return nil, ConfigError("duplicate step name: " + s.name)
		}
		seen[s.name] = true
		if s.fn == nil {
			return nil, ConfigError("step " + s.name + " has no function")
		}
	}

	return &Job{
		name:                  b.cfg.name,
		concurrencyMultiplier: b.cfg.concurrencyMultiplier,
		stepSpecs:             b.cfg.steps,
		source:                b.cfg.source,
		backend:               b.cfg.backend,
		cwd:                   b.cfg.cwd,
		emitter:               b.cfg.emitter,
		metrics:               b.cfg.metrics,
		summaryLimit:          b.cfg.summaryLimit,
	}, nil
}

// Job is the top-level driver: it pumps records from the source, enforces
// concurrency, invokes the chain, handles end-of-input drain, and
// implements Run and Retry.
type Job struct {
	name                  string
	concurrencyMultiplier int
	stepSpecs             []stepSpec
	source                Source
	backend               store.Backend
	cwd                   string
	emitter               emit.Emitter
	metrics               *Metrics
	summaryLimit          int
}

// buildChain wires a fresh Chain bound to pc. Each Run/Retry call gets its
// own Chain since steps hold buffers and a persistence-context pointer
// scoped to that run.
func (j *Job) buildChain(pc *store.Context) *Chain {
	length := len(j.stepSpecs)
	steps := make([]*Step, length)
	for i, spec := range j.stepSpecs {
		steps[i] = newStep(i+1, spec.name, spec.quantity, spec.fn, pc, length)
	}
	return newChain(steps)
}

// Run opens a fresh run directory and drives records from the source
// through the chain with bounded concurrency (spec §4.4.1). It returns the
// final Status — including RunDir, so a caller can locate the run on disk
// without re-deriving the path — regardless of whether the run finished
// clean or with per-record failures.
func (j *Job) Run(ctx context.Context) (*Status, error) {
	now := time.Now()
	pc, err := store.Open(j.backend, j.cwd, j.name, store.ExecRun, now)
	if err != nil {
		return nil, PersistenceError("open persistence context", err)
	}

	chain := j.buildChain(pc)
	status := NewStatus(j.name, store.ExecRun)
	status.Start(PhaseInjecting, now)
	status.RunDir = pc.RunDir
	runID := filepath.Base(pc.RunDir)

	if err := status.Persist(ctx, pc); err != nil {
		_ = pc.Close()
		return nil, err
	}

	r := &runState{job: j, pc: pc, chain: chain, status: status, runID: runID}

	maxConcurrent := chain.PipelineFanIn() * j.concurrencyMultiplier
	r.spawn(ctx, maxConcurrent)
	r.wg.Wait()

	// Run returns a nil error even when individual records failed:
	// step-level failures are recorded and counted, not rethrown (spec
	// §7). The run still completes, ending in FINISHED_ERR; the returned
	// Status carries the phase and counts so callers can learn of partial
	// failure. Run only returns an error for fatal conditions: a
	// persistence failure or a get_next failure from the source.
	if r.err != nil {
		return status, r.err
	}
	return status, nil
}
