package stats

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ddndrk/disthene/internal/events"
	"github.com/ddndrk/disthene/internal/metric"
)

const (
	defaultInterval = time.Minute
	defaultTenant   = "NONE"
)

// Poster publishes events back into the pipeline.
type Poster interface {
	Post(ctx context.Context, ev events.Event) error
}

// Subscriber registers handlers for event kinds.
type Subscriber interface {
	Subscribe(kind events.Kind, h events.Handler)
}

// Observer is notified after every flush cycle. It runs on the flush goroutine
// and must not block.
type Observer interface {
	ObserveFlush(FlushReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(FlushReport)

func (f ObserverFunc) ObserveFlush(r FlushReport) { f(r) }

// Options configure the aggregator.
type Options struct {
	Interval   time.Duration // flush period
	Log        bool          // log a summary table every cycle
	Tenant     string        // tenant the derived metrics are written under
	Hostname   string        // prefix of every derived metric path
	Rollup     metric.Rollup // rollup stamped on derived metrics
	EmitTotals bool          // also emit process-wide totals, off by default
	Logger     zerolog.Logger
	Tracer     trace.Tracer
	Clock      func() time.Time
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.Tenant == "" {
		o.Tenant = defaultTenant
	}
	if o.Hostname == "" {
		o.Hostname = hostname()
	}
	if o.Rollup == (metric.Rollup{}) {
		o.Rollup = metric.DefaultRollup
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("disthene/stats")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// Stats owns the tenant table and the store counters and runs the flush timer.
type Stats struct {
	opt      Options
	poster   Poster
	table    *Table
	counters *Counters
	log      zerolog.Logger

	flushMu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer

	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
	finished chan struct{}
}

// New creates an aggregator that emits derived metrics through poster.
func New(poster Poster, opt Options) *Stats {
	opt.normalize()
	return &Stats{
		opt:      opt,
		poster:   poster,
		table:    NewTable(),
		counters: &Counters{},
		log:      opt.Logger.With().Str("component", "stats").Logger(),
		finished: make(chan struct{}),
	}
}

// Options returns the effective configuration.
func (s *Stats) Options() Options {
	return s.opt
}

// Register subscribes the aggregator to every event kind it consumes.
func (s *Stats) Register(sub Subscriber) {
	for _, kind := range events.Kinds {
		sub.Subscribe(kind, s.Handle)
	}
}

// AddObserver registers o for flush reports.
func (s *Stats) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Handle routes a bus event to the matching handler. Unknown events are ignored.
func (s *Stats) Handle(ev events.Event) {
	switch e := ev.(type) {
	case events.MetricReceived:
		s.MetricReceived(e)
	case events.MetricStore:
		s.MetricStore(e)
	case events.StoreSuccess:
		s.StoreSuccess(e)
	case events.StoreError:
		s.StoreError(e)
	}
}

// MetricReceived counts a data point entering the pipeline.
func (s *Stats) MetricReceived(ev events.MetricReceived) {
	s.table.RecordReceived(ev.Metric.Tenant)
}

// MetricStore counts a store attempt.
func (s *Stats) MetricStore(ev events.MetricStore) {
	s.table.RecordWritten(ev.Metric.Tenant)
}

// StoreSuccess accumulates persisted points.
func (s *Stats) StoreSuccess(ev events.StoreSuccess) {
	s.counters.AddSuccess(ev.Count)
}

// StoreError accumulates points that failed to persist.
func (s *Stats) StoreError(ev events.StoreError) {
	s.counters.AddError(ev.Count)
}

// Tenants returns how many tenants have been seen.
func (s *Stats) Tenants() int {
	return s.table.Len()
}

// Start launches the flush timer. The first cycle runs one interval from now.
func (s *Stats) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	s.log.Info().Dur("interval", s.opt.Interval).Msg("stats flusher started")
}

// Stop halts the timer and waits for an in-flight cycle to finish.
func (s *Stats) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.finished
	s.log.Info().Msg("stats flusher stopped")
}

func (s *Stats) run(ctx context.Context) {
	defer close(s.finished)
	ticker := time.NewTicker(s.opt.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *Stats) notify(report FlushReport) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, o := range observers {
		o.ObserveFlush(report)
	}
}
