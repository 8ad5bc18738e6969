package stats

import "sync/atomic"

// Counts is a point-in-time copy of a tenant's record.
type Counts struct {
	Received uint64 `json:"metrics_received" yaml:"metrics_received"`
	Written  uint64 `json:"write_count" yaml:"write_count"`
}

// Record holds one tenant's counts for the current interval.
//
// Increments are atomic. Reset and drain are only atomic with respect to
// increments when the owning Table excludes them, which it does while draining.
type Record struct {
	received atomic.Uint64
	written  atomic.Uint64
}

// IncReceived counts one received metric.
func (r *Record) IncReceived() {
	r.received.Add(1)
}

// IncWritten counts one store attempt.
func (r *Record) IncWritten() {
	r.written.Add(1)
}

// Reset zeroes both counts.
func (r *Record) Reset() {
	r.received.Store(0)
	r.written.Store(0)
}

// Snapshot copies the current counts.
func (r *Record) Snapshot() Counts {
	return Counts{
		Received: r.received.Load(),
		Written:  r.written.Load(),
	}
}

// drain copies and resets in one step per field.
func (r *Record) drain() Counts {
	return Counts{
		Received: r.received.Swap(0),
		Written:  r.written.Swap(0),
	}
}
