package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/batchforge/batchengine/store"
)

func readBackendStatus(t *testing.T, pc *store.Context, key string) string {
	t.Helper()
	v, err := pc.GetStatus(context.Background(), key)
	if err != nil {
		t.Fatalf("get_status(%q): %v", key, err)
	}
	return string(v)
}

func buildJob(t *testing.T, name string, multiplier int, backend store.Backend, src Source, steps ...stepSpec) *Job {
	t.Helper()
	b := NewJob(name).ConcurrencyMultiplier(multiplier).Source(src).Store(backend)
	for _, s := range steps {
		b.AddStep(s.name, s.quantity, s.fn)
	}
	job, err := b.Build()
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	return job
}

func countRecords(t *testing.T, runDir string, backend store.Backend) int {
	t.Helper()
	pc, err := store.OpenExisting(backend, runDir)
	if err != nil {
		t.Fatalf("open run dir: %v", err)
	}
	defer pc.Close()

	n := 0
	err = pc.ScanRecords(context.Background(), func(id string, value []byte) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("scan records: %v", err)
	}
	return n
}

// TestRunStraightThrough covers spec §8 scenario 1: chain [q=1, q=1], 3
// records, expect 3 calls to each step and a clean finish.
func TestRunStraightThrough(t *testing.T) {
	backend := store.NewMemBackend()
	src := newSliceSource(3)
	step1 := &callCounter{}
	step2 := &callCounter{}

	job := buildJob(t, "straight-through", 2, backend, src,
		stepSpec{name: "s1", quantity: 1, fn: sumIntStep(step1)},
		stepSpec{name: "s2", quantity: 1, fn: sumIntStep(step2)},
	)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := step1.count(); got != 3 {
		t.Errorf("step1 calls = %d, want 3", got)
	}
	if got := step2.count(); got != 3 {
		t.Errorf("step2 calls = %d, want 3", got)
	}
}

// TestRunAggregation covers spec §8 scenario 2: chain [q=3], 7 records,
// expect two full batches of 3 and one drain batch with the remaining 1.
func TestRunAggregation(t *testing.T) {
	backend := store.NewMemBackend()
	src := newSliceSource(7)
	step := &callCounter{}

	job := buildJob(t, "aggregation", 2, backend, src,
		stepSpec{name: "s1", quantity: 3, fn: sumIntStep(step)},
	)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := step.count(); got != 3 {
		t.Fatalf("step calls = %d, want 3", got)
	}
	sizes := append([]int(nil), step.batchSize...)
	full := 0
	var drain int
	for _, sz := range sizes {
		if sz == 3 {
			full++
		} else {
			drain = sz
		}
	}
	if full != 2 {
		t.Errorf("full batches = %d, want 2 (sizes: %v)", full, sizes)
	}
	if drain != 1 {
		t.Errorf("drain batch size = %d, want 1 (sizes: %v)", drain, sizes)
	}
}

// TestRunDrainUnderQuota covers spec §8 scenario 5: chain [q=5], 3 records,
// expect one drain call with all 3 payloads.
func TestRunDrainUnderQuota(t *testing.T) {
	backend := store.NewMemBackend()
	src := newSliceSource(3)
	step := &callCounter{}

	job := buildJob(t, "drain-under-quota", 3, backend, src,
		stepSpec{name: "s1", quantity: 5, fn: sumIntStep(step)},
	)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := step.count(); got != 1 {
		t.Fatalf("step calls = %d, want 1", got)
	}
	if got := step.batchSize[0]; got != 3 {
		t.Errorf("drain batch size = %d, want 3", got)
	}
}

// TestRunPartialFail covers spec §8 scenario 3: chain [q=2, q=1], 4
// records, step 2 fails on its first invocation.
func TestRunPartialFail(t *testing.T) {
	// countRecords reopens the run directory, so this test needs a backend
	// that persists per run directory; MemBackend.Open ignores runDir.
	backend := store.NewSQLiteBackend()
	src := newSliceSource(4)
	step1 := &callCounter{}
	step2 := &callCounter{}

	var calls int32
	failOnce := func(ctx context.Context, payloads []interface{}) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		step2.record(len(payloads))
		if n == 1 {
			return nil, errors.New("boom")
		}
		total := 0
		for _, p := range payloads {
			total += p.(int)
		}
		return total, nil
	}

	job := buildJob(t, "partial-fail", 2, backend, src,
		stepSpec{name: "s1", quantity: 2, fn: sumIntStep(step1)},
		stepSpec{name: "s2", quantity: 1, fn: failOnce},
	)

	status, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if status.Phase != PhaseFinished {
		t.Errorf("phase = %q, want %q", status.Phase, PhaseFinished)
	}
	if status.FailedRecords != 2 {
		t.Errorf("failed records = %d, want 2", status.FailedRecords)
	}
	if got := countRecords(t, status.RunDir, backend); got != 2 {
		t.Errorf("residual records = %d, want 2", got)
	}
}

// TestRunConcurrencyBound covers spec §8 scenario 6: the observed in-flight
// count never exceeds pipeline_fan_in * concurrency_multiplier.
func TestRunConcurrencyBound(t *testing.T) {
	backend := store.NewMemBackend()
	src := newSliceSource(200)

	const fanIn = 2
	const multiplier = 4
	const max = fanIn * multiplier

	var current int32
	var peak int32
	slow := func(ctx context.Context, payloads []interface{}) (interface{}, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&current, -1)
		total := 0
		for _, p := range payloads {
			total += p.(int)
		}
		return total, nil
	}

	job := buildJob(t, "concurrency-bound", multiplier, backend, src,
		stepSpec{name: "s1", quantity: fanIn, fn: slow},
	)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := atomic.LoadInt32(&peak); got > max {
		t.Errorf("peak concurrent step calls = %d, want <= %d", got, max)
	}
}
