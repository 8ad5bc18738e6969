package stats

import "sync"

type field int

const (
	fieldReceived field = iota
	fieldWritten
)

// Table maps tenants to their records.
//
// Increments hold the read lock for lookup plus increment; creating a record
// and draining take the write lock. A drain therefore observes every increment
// that completed before it and none that start after it, and each increment
// lands in exactly one interval.
type Table struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]*Record)}
}

// RecordReceived counts a received metric for tenant, creating its record on first use.
func (t *Table) RecordReceived(tenant string) {
	t.increment(tenant, fieldReceived)
}

// RecordWritten counts a store attempt for tenant, creating its record on first use.
func (t *Table) RecordWritten(tenant string) {
	t.increment(tenant, fieldWritten)
}

func (t *Table) increment(tenant string, f field) {
	t.mu.RLock()
	if r, ok := t.records[tenant]; ok {
		bump(r, f)
		t.mu.RUnlock()
		return
	}
	t.mu.RUnlock()

	t.mu.Lock()
	r, ok := t.records[tenant]
	if !ok {
		r = &Record{}
		t.records[tenant] = r
	}
	bump(r, f)
	t.mu.Unlock()
}

func bump(r *Record, f field) {
	switch f {
	case fieldReceived:
		r.IncReceived()
	case fieldWritten:
		r.IncWritten()
	}
}

// Drain copies every record and resets it to zero under one exclusive section.
// Tenants seen in earlier intervals stay in the table and drain as zero.
func (t *Table) Drain() map[string]Counts {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Counts, len(t.records))
	for tenant, r := range t.records {
		out[tenant] = r.drain()
	}
	return out
}

// Len returns the number of tenants known to the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
