package stats

import "sync/atomic"

// Counters accumulates process-wide store outcomes.
type Counters struct {
	success atomic.Uint64
	errors  atomic.Uint64
}

// AddSuccess adds n persisted points and returns the previous value.
func (c *Counters) AddSuccess(n uint64) uint64 {
	if n == 0 {
		return c.success.Load()
	}
	return c.success.Add(n) - n
}

// AddError adds n failed points and returns the previous value.
func (c *Counters) AddError(n uint64) uint64 {
	if n == 0 {
		return c.errors.Load()
	}
	return c.errors.Add(n) - n
}

// DrainSuccess returns the accumulated successes and resets them.
func (c *Counters) DrainSuccess() uint64 {
	return c.success.Swap(0)
}

// DrainError returns the accumulated errors and resets them.
func (c *Counters) DrainError() uint64 {
	return c.errors.Swap(0)
}
