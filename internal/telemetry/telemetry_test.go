package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddndrk/disthene/internal/events"
	"github.com/ddndrk/disthene/internal/stats"
)

func TestBusObserverCountsByKind(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Published(events.KindMetricReceived)
	m.Published(events.KindMetricReceived)
	m.Delivered(events.KindMetricReceived)
	m.Dropped(events.KindStoreError)
	m.Panicked(events.KindMetricStore)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.busPublished.WithLabelValues("metric_received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDelivered.WithLabelValues("metric_received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDropped.WithLabelValues("store_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busPanics.WithLabelValues("metric_store")))
}

func TestObserveFlush(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFlush(stats.FlushReport{
		Timestamp: time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC),
		Tenants: []stats.TenantCounts{
			{Tenant: "t1", Counts: stats.Counts{Received: 2, Written: 1}},
			{Tenant: "t2", Counts: stats.Counts{Received: 1}},
		},
		TotalReceived: 3,
		TotalWritten:  1,
		StoreSuccess:  4,
		StoreError:    1,
		Emitted:       4,
		Failures:      1,
		Duration:      20 * time.Millisecond,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushCycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.flushTenants))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.flushEmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.metricsByKind.WithLabelValues("received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metricsByKind.WithLabelValues("written")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.storeOutcomes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOutcomes.WithLabelValues("error")))
	assert.Equal(t, 1704067500.0, testutil.ToFloat64(m.lastFlushEpoch))
	assert.Equal(t, 1, testutil.CollectAndCount(m.flushDuration))
}

func TestObserveBatch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBatch(10, nil)
	m.ObserveBatch(5, errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkBatches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkBatches.WithLabelValues("error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.sinkMetrics))
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.Published(events.KindStoreSuccess)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `disthene_bus_events_published_total{kind="store_success"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
