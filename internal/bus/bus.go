// Package bus provides the in-process publish/subscribe substrate that carries
// pipeline events between components.
//
// Posted events are queued on a bounded channel and delivered by a fixed pool
// of worker goroutines, so handlers for the same kind run concurrently.
// Handlers must be safe for concurrent use and should not block.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddndrk/disthene/internal/events"
)

var (
	// ErrClosed is returned when posting to a bus that has been closed.
	ErrClosed = errors.New("bus: closed")
	// ErrQueueFull is returned in drop mode when the queue has no free slot.
	ErrQueueFull = errors.New("bus: queue full")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 10000
	drainPoll        = 2 * time.Millisecond
)

// Observer receives delivery accounting. Implementations must be cheap and concurrency safe.
type Observer interface {
	Published(kind events.Kind)
	Delivered(kind events.Kind)
	Dropped(kind events.Kind)
	Panicked(kind events.Kind)
}

// Options configure a Bus.
type Options struct {
	Workers    int  // delivery goroutines
	QueueSize  int  // bounded queue capacity
	DropIfFull bool // fail fast with ErrQueueFull instead of blocking the poster
	Logger     zerolog.Logger
	Observer   Observer
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
}

// Bus dispatches events to the handlers subscribed to their kind.
type Bus struct {
	opt Options

	subsMu sync.RWMutex
	subs   map[events.Kind][]events.Handler

	queue   chan events.Event
	done    chan struct{} // closed first: unblocks posters
	stop    chan struct{} // closed once no poster can enqueue: workers drain and exit
	wg      sync.WaitGroup
	pending atomic.Int64

	postMu    sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a bus and starts its workers.
func New(opt Options) *Bus {
	opt.normalize()
	b := &Bus{
		opt:   opt,
		subs:  make(map[events.Kind][]events.Handler),
		queue: make(chan events.Event, opt.QueueSize),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	b.wg.Add(opt.Workers)
	for i := 0; i < opt.Workers; i++ {
		go b.run()
	}
	return b
}

// Subscribe registers h for every event of the given kind.
func (b *Bus) Subscribe(kind events.Kind, h events.Handler) {
	if h == nil {
		return
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.subs[kind] = append(b.subs[kind], h)
}

// Post enqueues ev for asynchronous delivery. It blocks while the queue is
// full unless the bus runs in drop mode.
func (b *Bus) Post(ctx context.Context, ev events.Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.postMu.RLock()
	defer b.postMu.RUnlock()
	if b.closed.Load() {
		return ErrClosed
	}

	kind := ev.Kind()
	b.pending.Add(1)

	if b.opt.DropIfFull {
		select {
		case b.queue <- ev:
			b.opt.Observer.Published(kind)
			return nil
		default:
			b.pending.Add(-1)
			b.opt.Observer.Dropped(kind)
			return ErrQueueFull
		}
	}

	select {
	case b.queue <- ev:
		b.opt.Observer.Published(kind)
		return nil
	case <-ctx.Done():
		b.pending.Add(-1)
		b.opt.Observer.Dropped(kind)
		return ctx.Err()
	case <-b.done:
		b.pending.Add(-1)
		b.opt.Observer.Dropped(kind)
		return ErrClosed
	}
}

// Pending reports events queued or being delivered.
func (b *Bus) Pending() int64 {
	return b.pending.Load()
}

// Drain waits until every accepted event has been delivered.
func (b *Bus) Drain(ctx context.Context) error {
	if b.pending.Load() == 0 {
		return nil
	}
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.pending.Load() == 0 {
				return nil
			}
		}
	}
}

// Close stops accepting events, delivers what is already queued and waits for
// the workers to exit.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		// Wait out posters that passed the closed check before it flipped.
		b.postMu.Lock()
		close(b.stop)
		b.postMu.Unlock()
		b.wg.Wait()
	})
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.stop:
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev events.Event) {
	defer b.pending.Add(-1)

	kind := ev.Kind()
	b.subsMu.RLock()
	handlers := b.subs[kind]
	b.subsMu.RUnlock()

	for _, h := range handlers {
		b.deliver(kind, h, ev)
	}
	b.opt.Observer.Delivered(kind)
}

func (b *Bus) deliver(kind events.Kind, h events.Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.opt.Observer.Panicked(kind)
			b.opt.Logger.Error().
				Str("kind", kind.String()).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(ev)
}

type nopObserver struct{}

func (nopObserver) Published(events.Kind) {}
func (nopObserver) Delivered(events.Kind) {}
func (nopObserver) Dropped(events.Kind)   {}
func (nopObserver) Panicked(events.Kind)  {}
