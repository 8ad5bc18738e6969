// Package sink persists MetricStore events in batches and reports the
// outcome of every batch back onto the bus as StoreSuccess or StoreError.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ddndrk/disthene/internal/config"
	"github.com/ddndrk/disthene/internal/events"
	"github.com/ddndrk/disthene/internal/metric"
	"github.com/ddndrk/disthene/internal/tracing"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = time.Second
)

// Poster publishes batch outcomes.
type Poster interface {
	Post(ctx context.Context, ev events.Event) error
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(kind events.Kind, h events.Handler)
}

// Observer is told about every batch write.
type Observer interface {
	ObserveBatch(n int, err error)
}

// Options configure a Sink.
type Options struct {
	Format        config.SinkFormat
	BatchSize     int
	FlushInterval time.Duration
	Logger        zerolog.Logger
	Tracer        trace.Tracer
	Observer      Observer
}

func (o *Options) normalize() {
	if o.Format == "" {
		o.Format = config.SinkFormatCarbon
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("sink")
	}
}

// Sink buffers metrics handed to it by the bus and writes them from its own
// goroutine, so bus workers never block on I/O.
type Sink struct {
	w      io.Writer
	poster Poster
	opt    Options
	log    zerolog.Logger

	mu  sync.Mutex
	buf []metric.Metric

	writeMu sync.Mutex
	full    chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	written atomic.Uint64
	failed  atomic.Uint64
}

// New creates a sink writing to w and reporting outcomes to poster.
func New(w io.Writer, poster Poster, opt Options) *Sink {
	opt.normalize()
	if w == nil {
		w = io.Discard
	}
	return &Sink{
		w:      w,
		poster: poster,
		opt:    opt,
		log:    opt.Logger.With().Str("component", "sink").Logger(),
		buf:    make([]metric.Metric, 0, opt.BatchSize),
		full:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register subscribes the sink to MetricStore events.
func (s *Sink) Register(sub Subscriber) {
	sub.Subscribe(events.KindMetricStore, s.Handle)
}

// Handle buffers MetricStore events. It never blocks on I/O.
func (s *Sink) Handle(ev events.Event) {
	ms, ok := ev.(events.MetricStore)
	if !ok {
		return
	}
	s.mu.Lock()
	s.buf = append(s.buf, ms.Metric)
	full := len(s.buf) >= s.opt.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.full <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered metrics.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Written returns the number of metrics successfully written so far.
func (s *Sink) Written() uint64 { return s.written.Load() }

// Failed returns the number of metrics whose batch write failed.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

// Start launches the flush loop. Calling Start twice, or after Stop, is a no-op.
func (s *Sink) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run(ctx)
}

// Stop ends the flush loop after writing whatever is still buffered.
func (s *Sink) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.stopped {
		s.lifeMu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	close(s.stop)
	s.lifeMu.Unlock()

	if !started {
		return s.Flush(ctx)
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opt.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.full:
		case <-s.stop:
			s.flushQuietly(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			s.flushQuietly(context.WithoutCancel(ctx))
			return
		}
		s.flushQuietly(ctx)
	}
}

func (s *Sink) flushQuietly(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("sink batch write failed")
	}
}

// Flush writes the current buffer as one batch and posts its outcome.
func (s *Sink) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	batch := s.buf
	s.buf = make([]metric.Metric, 0, s.opt.BatchSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, s.opt.Tracer, "sink.write",
		attribute.Int("sink.batch", len(batch)),
		attribute.String("sink.format", string(s.opt.Format)),
	)
	err := s.write(batch)
	tracing.EndSpan(span, err)

	if s.opt.Observer != nil {
		s.opt.Observer.ObserveBatch(len(batch), err)
	}

	var outcome events.Event
	if err != nil {
		s.failed.Add(uint64(len(batch)))
		outcome = events.StoreError{Count: uint64(len(batch))}
	} else {
		s.written.Add(uint64(len(batch)))
		outcome = events.StoreSuccess{Count: uint64(len(batch))}
	}
	s.report(ctx, outcome)

	if err != nil {
		return fmt.Errorf("write %d metrics: %w", len(batch), err)
	}
	s.log.Debug().Int("metrics", len(batch)).Msg("batch written")
	return nil
}

func (s *Sink) report(ctx context.Context, ev events.Event) {
	if s.poster == nil {
		return
	}
	if err := s.poster.Post(ctx, ev); err != nil {
		s.log.Debug().Err(err).Str("kind", ev.Kind().String()).Msg("batch outcome not posted")
	}
}

func (s *Sink) write(batch []metric.Metric) error {
	var buf bytes.Buffer
	for _, m := range batch {
		if err := encode(&buf, m, s.opt.Format); err != nil {
			return err
		}
	}
	n, err := s.w.Write(buf.Bytes())
	if err != nil {
		return err
	}
	if n != buf.Len() {
		return io.ErrShortWrite
	}
	return nil
}

var errUnknownFormat = errors.New("unknown sink format")

func encode(buf *bytes.Buffer, m metric.Metric, format config.SinkFormat) error {
	switch format {
	case config.SinkFormatCarbon:
		buf.WriteString(m.Carbon())
		buf.WriteByte('\n')
	case config.SinkFormatJSON:
		line, err := json.Marshal(m)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	default:
		return fmt.Errorf("%w %q", errUnknownFormat, format)
	}
	return nil
}
