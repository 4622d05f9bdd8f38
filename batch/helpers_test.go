package batch

import (
	"context"
	"fmt"
	"sync"
)

// sliceSource is a Source backed by an in-memory slice, used by tests.
// GetNext returns (nil, nil) once every record has been returned, the
// engine's permanent end-of-stream signal.
type sliceSource struct {
	mu      sync.Mutex
	records []*Record
	idx     int
}

func newSliceSource(n int) *sliceSource {
	records := make([]*Record, n)
	for i := 0; i < n; i++ {
		records[i] = &Record{ID: fmt.Sprintf("rec-%d", i), Payload: i}
	}
	return &sliceSource{records: records}
}

func (s *sliceSource) GetNext(ctx context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.records) {
		return nil, nil
	}
	rec := s.records[s.idx]
	s.idx++
	return rec, nil
}

// callCounter records how many times a step function was invoked and with
// what payload batch sizes, for assertions about aggregation/drain calls.
type callCounter struct {
	mu        sync.Mutex
	calls     int
	batchSize []int
}

func (c *callCounter) record(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.batchSize = append(c.batchSize, n)
}

func (c *callCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// sumIntStep is a StepFunc that sums its numeric payloads, counting
// invocations via counter. Payloads recovered by Retry come back from JSON
// step snapshots as float64, so both int and float64 are accepted.
func sumIntStep(counter *callCounter) StepFunc {
	return func(ctx context.Context, payloads []interface{}) (interface{}, error) {
		counter.record(len(payloads))
		total := 0
		for _, p := range payloads {
			switch v := p.(type) {
			case float64:
				total += int(v)
			default:
				total += p.(int)
			}
		}
		return total, nil
	}
}

// failingStep always fails with err, counting invocations via counter.
func failingStep(counter *callCounter, err error) StepFunc {
	return func(ctx context.Context, payloads []interface{}) (interface{}, error) {
		counter.record(len(payloads))
		return nil, err
	}
}
