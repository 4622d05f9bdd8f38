package batch

import (
	"github.com/batchforge/batchengine/emit"
	"github.com/batchforge/batchengine/store"
)

// Option configures secondary, optional Job behavior: observability,
// summary limits, and working directory. The chain itself and its
// required wiring (source, store, concurrency multiplier) go through the
// builder's chained methods in job.go, matching the embedder API's
// `.name(s).concurrency_multiplier(n).add_step(step)` shape; Option is for
// everything beyond that minimum.
type Option func(*jobConfig) error

// WithEmitter sets the observability sink events are sent to. Defaults to
// a NullEmitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(c *jobConfig) error {
		if emitter == nil {
			return ConfigError("emitter must not be nil")
		}
		c.emitter = emitter
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics recorder. Without it no
// recorder is attached and no metrics are recorded.
func WithMetrics(metrics *Metrics) Option {
	return func(c *jobConfig) error {
		if metrics == nil {
			return ConfigError("metrics must not be nil")
		}
		c.metrics = metrics
		return nil
	}
}

// WithSummaryLimit bounds how many residual record details the run
// summary enumerates before falling back to a pointer at the raw
// database. Defaults to 10000 (spec §4.6).
func WithSummaryLimit(limit int) Option {
	return func(c *jobConfig) error {
		if limit <= 0 {
			return ConfigError("summary limit must be positive")
		}
		c.summaryLimit = limit
		return nil
	}
}

// WithWorkDir sets the directory run directories are created under.
// Defaults to the process's current working directory.
func WithWorkDir(dir string) Option {
	return func(c *jobConfig) error {
		if dir == "" {
			return ConfigError("work dir must not be empty")
		}
		c.cwd = dir
		return nil
	}
}

type stepSpec struct {
	name     string
	quantity int
	fn       StepFunc
}

// jobConfig accumulates builder state before Build validates and freezes
// it into a Job.
type jobConfig struct {
	name                  string
	concurrencyMultiplier int
	steps                 []stepSpec
	source                Source
	backend               store.Backend
	cwd                   string
	emitter               emit.Emitter
	metrics               *Metrics
	summaryLimit          int
}
