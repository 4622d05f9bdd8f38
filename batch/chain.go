package batch

import "context"

// Chain is a step chain: a contiguous, fixed-at-build-time sequence of
// Aggregator Steps indexed by step_index. There is no linked-list of
// owning pointers; "successor" is simply index i+1, or none at the tail.
type Chain struct {
	steps []*Step
}

// newChain wires each step's successor pointer and returns the chain.
func newChain(steps []*Step) *Chain {
	for i := 0; i < len(steps)-1; i++ {
		steps[i].successor = steps[i+1]
	}
	return &Chain{steps: steps}
}

// Head returns the first step, the entry point for every bootstrap SER.
func (c *Chain) Head() *Step {
	return c.steps[0]
}

// Length returns the number of steps in the chain.
func (c *Chain) Length() int {
	return len(c.steps)
}

// PipelineFanIn is the product of every step's aggregation quantity: the
// minimum record count that must enter the chain for one record to reach
// the terminal step without a drain.
func (c *Chain) PipelineFanIn() int {
	fanIn := 1
	for _, step := range c.steps {
		fanIn *= step.aggregationQuantity
	}
	return fanIn
}

// RecordsInChain counts every record id currently parked in any step's
// pending buffer, chain-wide.
func (c *Chain) RecordsInChain() int {
	total := 0
	for _, step := range c.steps {
		step.mu.Lock()
		total += len(step.pendingRecords)
		step.mu.Unlock()
	}
	return total
}

// ForceTail implements the drain algorithm (spec §4.4.2): starting from
// the tail step backwards, flush any step whose buffers are non-empty
// through its user function. This forces aggregators to flush partial
// batches once the source is exhausted.
func (c *Chain) ForceTail(ctx context.Context) ([]SER, error) {
	var results []SER
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if !step.HasPending() {
			continue
		}
		ser, err := step.ForceDrain(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, ser)
	}
	return results, nil
}

// stepAt returns the step at 1-based step_index i, used by retry to seed
// recovered state into the right aggregator.
func (c *Chain) stepAt(i int) *Step {
	if i < 1 || i > len(c.steps) {
		return nil
	}
	return c.steps[i-1]
}
