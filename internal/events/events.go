// Package events defines the messages exchanged over the pipeline bus.
package events

import "github.com/ddndrk/disthene/internal/metric"

// Kind identifies an event type for subscription.
type Kind int

const (
	KindMetricReceived Kind = iota
	KindMetricStore
	KindStoreSuccess
	KindStoreError
)

// Kinds lists every event kind.
var Kinds = []Kind{KindMetricReceived, KindMetricStore, KindStoreSuccess, KindStoreError}

func (k Kind) String() string {
	switch k {
	case KindMetricReceived:
		return "metric_received"
	case KindMetricStore:
		return "metric_store"
	case KindStoreSuccess:
		return "store_success"
	case KindStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Event is anything that can be posted to the bus.
type Event interface {
	Kind() Kind
}

// Handler consumes events. Handlers may be invoked concurrently.
type Handler func(Event)

// MetricReceived is posted when a data point enters the pipeline.
type MetricReceived struct {
	Metric metric.Metric
}

// MetricStore requests that a data point be written to storage.
type MetricStore struct {
	Metric metric.Metric
}

// StoreSuccess reports Count data points persisted.
type StoreSuccess struct {
	Count uint64
}

// StoreError reports Count data points that failed to persist.
type StoreError struct {
	Count uint64
}

func (MetricReceived) Kind() Kind { return KindMetricReceived }
func (MetricStore) Kind() Kind    { return KindMetricStore }
func (StoreSuccess) Kind() Kind   { return KindStoreSuccess }
func (StoreError) Kind() Kind     { return KindStoreError }
