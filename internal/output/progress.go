package output

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddndrk/disthene/internal/metrics"
)

// ProgressReporter logs running soak totals at a fixed interval.
type ProgressReporter struct {
	collector *metrics.Collector
	interval  time.Duration
	log       zerolog.Logger
	done      chan struct{}
	finished  chan struct{}
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that logs at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, logger zerolog.Logger) *ProgressReporter {
	return &ProgressReporter{
		collector: collector,
		interval:  interval,
		log:       logger.With().Str("component", "progress").Logger(),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		start:     time.Now(),
	}
}

// Start begins logging progress in a background goroutine. A non-positive
// interval disables reporting.
func (p *ProgressReporter) Start() {
	if p.interval <= 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.report()
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) report() {
	s := p.collector.Stats(time.Since(p.start))
	ev := p.log.Info().
		Int64("posted", s.Total).
		Int64("rejected", s.Failures).
		Float64("posts_per_sec", s.PostsPerSec).
		Float64("p99_ms", s.P99LatencyMs).
		Int("flushes", s.FlushCycles)
	if label, n, ok := topError(s.Errors); ok {
		ev = ev.Str("top_error", label).Int("top_error_count", n)
	}
	ev.Msg("soak progress")
}

func topError(errs map[string]int) (string, int, bool) {
	if len(errs) == 0 {
		return "", 0, false
	}
	labels := sortedKeys(errs)
	sort.SliceStable(labels, func(i, j int) bool {
		return errs[labels[i]] > errs[labels[j]]
	})
	return labels[0], errs[labels[0]], true
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
