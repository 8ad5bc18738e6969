// Package feeder supplies the tenants and metric paths a soak run posts for.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ddndrk/disthene/internal/config"
)

// DefaultPathTemplate is used when a record carries no path field.
const DefaultPathTemplate = "soak.{{tenant}}.value"

// Record represents a single row of data with named fields.
type Record map[string]string

// Tenant returns the record's tenant field.
func (r Record) Tenant() string {
	return strings.TrimSpace(r["tenant"])
}

// Path renders the record's path field, or fallback when absent, with
// {{field}} placeholders substituted from the record.
func (r Record) Path(fallback string) string {
	tpl := strings.TrimSpace(r["path"])
	if tpl == "" {
		tpl = fallback
	}
	return SubstitutePlaceholders(tpl, r)
}

// Feeder provides per-post data with deterministic round-robin selection.
// Implementations must be safe for concurrent use.
type Feeder interface {
	// Next returns the next record, wrapping around after the last one.
	Next(ctx context.Context) (Record, error)

	// Close releases any resources held by the feeder.
	Close() error

	// Len returns the total number of records in the dataset.
	Len() int
}

// ErrNoTenant is returned when a dataset row lacks a tenant.
var ErrNoTenant = errors.New("record has no tenant field")

// Open builds the feeder described by a soak configuration: a CSV or JSON
// file when FeederPath is set, otherwise Tenants generated tenants.
func Open(cfg config.SoakConfig) (Feeder, error) {
	if strings.TrimSpace(cfg.FeederPath) == "" {
		return NewGenerated(cfg.Tenants)
	}
	switch strings.ToLower(cfg.FeederType) {
	case "csv":
		return NewCSVFeeder(cfg.FeederPath)
	case "json":
		return NewJSONFeeder(cfg.FeederPath)
	default:
		return nil, fmt.Errorf("unsupported feeder type %q", cfg.FeederType)
	}
}

// roundRobin is the shared cursor behind every feeder.
type roundRobin struct {
	mu      sync.Mutex
	records []Record
	index   int
}

func newRoundRobin(records []Record) (*roundRobin, error) {
	for i, rec := range records {
		if rec.Tenant() == "" {
			return nil, fmt.Errorf("record %d: %w", i+1, ErrNoTenant)
		}
	}
	return &roundRobin{records: records}, nil
}

func (r *roundRobin) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.records[r.index]
	r.index = (r.index + 1) % len(r.records)
	return record, nil
}

func (r *roundRobin) Close() error { return nil }

func (r *roundRobin) Len() int { return len(r.records) }
