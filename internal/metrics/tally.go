package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/ddndrk/disthene/internal/stats"
)

type tenantTally struct {
	received atomic.Uint64
	stored   atomic.Uint64
}

// Tally counts events posted per tenant. It is lock-free after a tenant's first post.
type Tally struct {
	tenants sync.Map // string -> *tenantTally
}

func NewTally() *Tally {
	return &Tally{}
}

func (t *Tally) get(tenant string) *tenantTally {
	if v, ok := t.tenants.Load(tenant); ok {
		return v.(*tenantTally)
	}
	v, _ := t.tenants.LoadOrStore(tenant, &tenantTally{})
	return v.(*tenantTally)
}

// AddReceived counts one MetricReceived posted for tenant.
func (t *Tally) AddReceived(tenant string) {
	t.get(tenant).received.Add(1)
}

// AddStored counts one MetricStore posted for tenant.
func (t *Tally) AddStored(tenant string) {
	t.get(tenant).stored.Add(1)
}

// Snapshot returns the posted counts keyed by tenant.
func (t *Tally) Snapshot() map[string]stats.Counts {
	out := make(map[string]stats.Counts)
	t.tenants.Range(func(k, v any) bool {
		tt := v.(*tenantTally)
		out[k.(string)] = stats.Counts{Received: tt.received.Load(), Written: tt.stored.Load()}
		return true
	})
	return out
}
