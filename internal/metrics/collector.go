package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/ddndrk/disthene/internal/stats"
)

// Collector records post latencies and flush reports in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	postHist     *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64

	flushHist     *hdrhistogram.Histogram
	flushCycles   int
	flushEmitted  int
	flushFailures int
	storeSuccess  uint64
	storeError    uint64
	flushed       map[string]stats.Counts
	lastFlush     time.Time

	start time.Time
}

// Stats represents aggregated soak metrics.
type Stats struct {
	Total       int64         `json:"total" yaml:"total"`
	Successes   int64         `json:"successes" yaml:"successes"`
	Failures    int64         `json:"failures" yaml:"failures"`
	MinLatency  time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	P50Latency  time.Duration `json:"-" yaml:"-"`
	P90Latency  time.Duration `json:"-" yaml:"-"`
	P99Latency  time.Duration `json:"-" yaml:"-"`
	Duration    time.Duration `json:"-" yaml:"-"`
	PostsPerSec float64       `json:"posts_per_sec" yaml:"posts_per_sec"`

	FlushCycles   int           `json:"flush_cycles" yaml:"flush_cycles"`
	FlushEmitted  int           `json:"flush_emitted" yaml:"flush_emitted"`
	FlushFailures int           `json:"flush_failures" yaml:"flush_failures"`
	StoreSuccess  uint64        `json:"store_success" yaml:"store_success"`
	StoreError    uint64        `json:"store_error" yaml:"store_error"`
	FlushP50      time.Duration `json:"-" yaml:"-"`
	FlushP99      time.Duration `json:"-" yaml:"-"`
	FlushMax      time.Duration `json:"-" yaml:"-"`
	LastFlush     time.Time     `json:"last_flush,omitempty" yaml:"last_flush,omitempty"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	FlushP50Ms    float64 `json:"flush_p50_ms" yaml:"flush_p50_ms"`
	FlushP99Ms    float64 `json:"flush_p99_ms" yaml:"flush_p99_ms"`
	FlushMaxMs    float64 `json:"flush_max_ms" yaml:"flush_max_ms"`
	DurationMs    float64 `json:"duration_ms" yaml:"duration_ms"`

	Errors map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &Collector{
		postHist:     hdrhistogram.New(1, 60_000_000, 3),
		flushHist:    hdrhistogram.New(1, 60_000_000, 3),
		errorsByType: make(map[string]int64),
		flushed:      make(map[string]stats.Counts),
		start:        time.Now(),
	}
}

// Start resets the reference time used when Stats is called with a zero elapsed.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// RecordPost records a single bus post's latency and error state.
func (c *Collector) RecordPost(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if latency > 0 {
		recordClamped(c.postHist, latency)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	if err == nil {
		c.successes++
	} else {
		c.failures++
		c.errorsByType[ErrorLabel(err)]++
	}
}

// ObserveFlush accumulates one flush report.
func (c *Collector) ObserveFlush(r stats.FlushReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushCycles++
	c.flushEmitted += r.Emitted
	c.flushFailures += r.Failures
	c.storeSuccess += r.StoreSuccess
	c.storeError += r.StoreError
	c.lastFlush = r.Timestamp
	if r.Duration > 0 {
		recordClamped(c.flushHist, r.Duration)
	}
	for _, tc := range r.Tenants {
		acc := c.flushed[tc.Tenant]
		acc.Received += tc.Received
		acc.Written += tc.Written
		c.flushed[tc.Tenant] = acc
	}
}

// Flushed returns per-tenant totals across every observed flush.
func (c *Collector) Flushed() map[string]stats.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]stats.Counts, len(c.flushed))
	for k, v := range c.flushed {
		result[k] = v
	}
	return result
}

// Stats computes and returns current aggregated statistics. A zero elapsed
// uses the time since Start.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed == 0 {
		elapsed = time.Since(c.start)
	}

	total := c.successes + c.failures
	out := Stats{
		Total:         total,
		Successes:     c.successes,
		Failures:      c.failures,
		MinLatency:    c.minLatency,
		MaxLatency:    c.maxLatency,
		FlushCycles:   c.flushCycles,
		FlushEmitted:  c.flushEmitted,
		FlushFailures: c.flushFailures,
		StoreSuccess:  c.storeSuccess,
		StoreError:    c.storeError,
		LastFlush:     c.lastFlush,
	}

	if total > 0 {
		out.MeanLatency = time.Duration(int64(c.sumLatency) / total)
	}

	if c.postHist.TotalCount() > 0 {
		out.P50Latency = quantile(c.postHist, 50)
		out.P90Latency = quantile(c.postHist, 90)
		out.P99Latency = quantile(c.postHist, 99)
	}
	if c.flushHist.TotalCount() > 0 {
		out.FlushP50 = quantile(c.flushHist, 50)
		out.FlushP99 = quantile(c.flushHist, 99)
		out.FlushMax = time.Duration(c.flushHist.Max()) * time.Microsecond
	}

	out.MinLatencyMs = millis(out.MinLatency)
	out.MaxLatencyMs = millis(out.MaxLatency)
	out.MeanLatencyMs = millis(out.MeanLatency)
	out.P50LatencyMs = millis(out.P50Latency)
	out.P90LatencyMs = millis(out.P90Latency)
	out.P99LatencyMs = millis(out.P99Latency)
	out.FlushP50Ms = millis(out.FlushP50)
	out.FlushP99Ms = millis(out.FlushP99)
	out.FlushMaxMs = millis(out.FlushMax)

	out.Duration = elapsed
	out.DurationMs = millis(elapsed)
	if elapsed > 0 && total > 0 {
		out.PostsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.errorsByType) > 0 {
		out.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			out.Errors[k] = int(v)
		}
	}

	return out
}

// GetErrorBreakdown returns a map of error labels to their counts.
func (c *Collector) GetErrorBreakdown() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int)
	for k, v := range c.errorsByType {
		result[k] = int(v)
	}
	return result
}

func recordClamped(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
