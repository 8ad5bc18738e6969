package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddndrk/disthene/internal/bus"
	"github.com/ddndrk/disthene/internal/events"
	"github.com/ddndrk/disthene/internal/feeder"
	"github.com/ddndrk/disthene/internal/metric"
	"github.com/ddndrk/disthene/internal/metrics"
	"github.com/ddndrk/disthene/internal/runner"
)

const (
	postRetryAttempts = 5
	baseRetryDelay    = 2 * time.Millisecond
	maxRetryDelay     = 200 * time.Millisecond
)

type poster interface {
	Post(ctx context.Context, ev events.Event) error
}

// soakRequester posts one received/store-attempt pair per call for the next
// tenant of the feeder and tallies what the bus accepted.
type soakRequester struct {
	poster    poster
	feeder    feeder.Feeder
	rollup    metric.Rollup
	tally     *metrics.Tally
	collector *metrics.Collector
	retry     *runner.RetryPolicy
	clock     func() time.Time
}

func (r *soakRequester) Do(ctx context.Context) error {
	start := time.Now()
	err := r.post(ctx)
	r.collector.RecordPost(time.Since(start), err)
	return err
}

func (r *soakRequester) post(ctx context.Context) error {
	rec, err := r.feeder.Next(ctx)
	if err != nil {
		return err
	}
	tenant := rec.Tenant()
	if tenant == "" {
		return feeder.ErrNoTenant
	}

	now := time.Now
	if r.clock != nil {
		now = r.clock
	}
	m := metric.New(tenant, rec.Path(feeder.DefaultPathTemplate), r.rollup, recordValue(rec), now())

	// Retried per event: a rejected store attempt must not re-post an accepted receive.
	if err := r.publish(ctx, events.MetricReceived{Metric: m}); err != nil {
		return fmt.Errorf("post received: %w", err)
	}
	r.tally.AddReceived(tenant)

	if err := r.publish(ctx, events.MetricStore{Metric: m}); err != nil {
		return fmt.Errorf("post store: %w", err)
	}
	r.tally.AddStored(tenant)
	return nil
}

func (r *soakRequester) publish(ctx context.Context, ev events.Event) error {
	send := runner.RequesterFunc(func(ctx context.Context) error {
		return r.poster.Post(ctx, ev)
	})
	if r.retry == nil {
		return send.Do(ctx)
	}
	return runner.WithRetry(send, *r.retry).Do(ctx)
}

func recordValue(rec feeder.Record) float64 {
	raw := strings.TrimSpace(rec["value"])
	if raw == "" {
		return 1
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1
	}
	return v
}

// newQueueFullRetryPolicy retries posts the bus rejected in drop mode with
// jittered exponential backoff.
func newQueueFullRetryPolicy() *runner.RetryPolicy {
	jitter := newJitterSource()
	return &runner.RetryPolicy{
		MaxAttempts: postRetryAttempts,
		ShouldRetry: runner.RetryOn(bus.ErrQueueFull),
		DelayFunc: func(attempt int, _ error) time.Duration {
			return backoffDelay(attempt, jitter)
		},
	}
}

func backoffDelay(attempt int, jitter *jitterSource) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseRetryDelay << (attempt - 1)
	if delay <= 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	if jitter == nil {
		return delay
	}
	// Uniform in [delay/2, delay].
	half := delay / 2
	return half + jitter.Duration(half+1)
}

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newJitterSource() *jitterSource {
	return &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (j *jitterSource) Duration(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(n)))
}

// failureLogger reports failed soak posts. Cancellation at the end of a run is
// expected and only logged at debug.
type failureLogger struct {
	log zerolog.Logger
}

func (l failureLogger) LogFailure(err error) {
	ev := l.log.Warn()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ev = l.log.Debug()
	}
	ev.Err(err).Str("error_type", metrics.ErrorLabel(err)).Msg("soak post failed")
}
