package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableConcurrentSameTenant(t *testing.T) {
	table := NewTable()

	const workers, received, written = 16, 1000, 700
	var wg sync.WaitGroup
	wg.Add(workers * 2)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < received; j++ {
				table.RecordReceived("acme")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < written; j++ {
				table.RecordWritten("acme")
			}
		}()
	}
	wg.Wait()

	got := table.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, Counts{Received: workers * received, Written: workers * written}, got["acme"])
}

func TestTableDrainResets(t *testing.T) {
	table := NewTable()
	table.RecordReceived("a")
	table.RecordWritten("b")

	first := table.Drain()
	assert.Equal(t, Counts{Received: 1}, first["a"])
	assert.Equal(t, Counts{Written: 1}, first["b"])

	second := table.Drain()
	assert.Len(t, second, 2, "tenants stay known after a drain")
	for tenant, c := range second {
		assert.Zero(t, c, "tenant %s not reset", tenant)
	}
}

func TestTableEventsAfterDrainGoToNextInterval(t *testing.T) {
	table := NewTable()
	table.RecordReceived("acme")
	table.RecordReceived("acme")

	first := table.Drain()
	table.RecordReceived("acme")
	table.RecordWritten("acme")
	second := table.Drain()

	assert.Equal(t, Counts{Received: 2}, first["acme"])
	assert.Equal(t, Counts{Received: 1, Written: 1}, second["acme"])
}

func TestTableDrainRacingIncrementsIsExactlyOnce(t *testing.T) {
	table := NewTable()

	const workers, perWorker = 8, 5000
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				table.RecordReceived("acme")
				table.RecordWritten("acme")
			}
		}()
	}

	var received, written atomic.Uint64
	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-stop:
				return
			default:
			}
			c := table.Drain()["acme"]
			received.Add(c.Received)
			written.Add(c.Written)
		}
	}()

	wg.Wait()
	close(stop)
	<-drained

	last := table.Drain()["acme"]
	assert.Equal(t, uint64(workers*perWorker), received.Load()+last.Received)
	assert.Equal(t, uint64(workers*perWorker), written.Load()+last.Written)
}

func TestTableFirstTouchCreatesOneRecordPerTenant(t *testing.T) {
	table := NewTable()

	const tenants, workers = 200, 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < tenants; i++ {
				table.RecordReceived(fmt.Sprintf("tenant-%d", i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, tenants, table.Len())
	for tenant, c := range table.Drain() {
		assert.Equal(t, uint64(workers), c.Received, "tenant %s", tenant)
	}
}

func TestRecordResetAndSnapshot(t *testing.T) {
	var r Record
	r.IncReceived()
	r.IncReceived()
	r.IncWritten()
	assert.Equal(t, Counts{Received: 2, Written: 1}, r.Snapshot())

	r.Reset()
	assert.Equal(t, Counts{}, r.Snapshot())
}

func TestCountersDrain(t *testing.T) {
	var c Counters
	assert.Equal(t, uint64(0), c.AddSuccess(3))
	assert.Equal(t, uint64(3), c.AddSuccess(5))
	assert.Equal(t, uint64(8), c.AddSuccess(0), "zero add is a no-op")
	assert.Equal(t, uint64(8), c.DrainSuccess())
	assert.Equal(t, uint64(0), c.DrainSuccess())

	c.AddError(2)
	c.AddError(4)
	assert.Equal(t, uint64(6), c.DrainError())
	assert.Equal(t, uint64(0), c.DrainError())
}

func TestCountersConcurrentAdds(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.AddSuccess(2)
				c.AddError(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(20000), c.DrainSuccess())
	assert.Equal(t, uint64(10000), c.DrainError())
}
