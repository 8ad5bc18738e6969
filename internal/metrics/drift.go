package metrics

import (
	"sort"

	"github.com/ddndrk/disthene/internal/stats"
)

// TenantRow compares what was posted for a tenant with what the aggregator flushed.
type TenantRow struct {
	Tenant        string       `json:"tenant" yaml:"tenant"`
	Posted        stats.Counts `json:"posted" yaml:"posted"`
	Flushed       stats.Counts `json:"flushed" yaml:"flushed"`
	ReceivedDrift int64        `json:"received_drift" yaml:"received_drift"`
	WrittenDrift  int64        `json:"written_drift" yaml:"written_drift"`
}

// OK reports whether flushed counts match posted counts exactly.
func (r TenantRow) OK() bool {
	return r.ReceivedDrift == 0 && r.WrittenDrift == 0
}

// Compare joins posted and flushed counts per tenant. Tenants in exclude are
// skipped. Rows are sorted by descending absolute drift, then by tenant.
func Compare(posted, flushed map[string]stats.Counts, exclude ...string) []TenantRow {
	skip := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		skip[t] = struct{}{}
	}

	names := make(map[string]struct{}, len(posted)+len(flushed))
	for t := range posted {
		names[t] = struct{}{}
	}
	for t := range flushed {
		names[t] = struct{}{}
	}

	rows := make([]TenantRow, 0, len(names))
	for t := range names {
		if _, ok := skip[t]; ok {
			continue
		}
		p, f := posted[t], flushed[t]
		rows = append(rows, TenantRow{
			Tenant:        t,
			Posted:        p,
			Flushed:       f,
			ReceivedDrift: int64(f.Received) - int64(p.Received),
			WrittenDrift:  int64(f.Written) - int64(p.Written),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		di, dj := rows[i].drift(), rows[j].drift()
		if di == dj {
			return rows[i].Tenant < rows[j].Tenant
		}
		return di > dj
	})
	return rows
}

// Drifted returns the rows whose counts do not match.
func Drifted(rows []TenantRow) []TenantRow {
	var out []TenantRow
	for _, r := range rows {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func (r TenantRow) drift() int64 {
	return abs(r.ReceivedDrift) + abs(r.WrittenDrift)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
