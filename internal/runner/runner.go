package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result captures execution summary.
type Result struct {
	Total    int64
	Errors   int64
	Duration time.Duration
}

// Runner coordinates concurrent execution with rate limiting.
type Runner struct {
	opt     Options
	plan    *stagePlan
	arrival arrivalController
}

func New(opt Options) *Runner {
	opt.normalize()
	plan := compileStagePlan(opt.Stages)
	return &Runner{opt: opt, plan: plan, arrival: newArrivalController(opt, plan)}
}

func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	var total int64
	var errs int64

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, r.opt.Duration)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	if r.plan != nil {
		go r.runStageController(ctx)
	}

	permits := make(chan struct{}, r.opt.Concurrency)

	// Scheduler: serializes rate limiting to avoid burst overshoot across workers.
	go func() {
		defer close(permits)
		for {
			if ctx.Err() != nil {
				return
			}
			if r.opt.TotalRequests > 0 && atomic.LoadInt64(&total) >= int64(r.opt.TotalRequests) {
				return
			}
			if err := r.arrival.Wait(ctx); err != nil {
				return
			}
			// Count the slot before releasing it so workers only execute allocated permits.
			atomic.AddInt64(&total, 1)
			select {
			case permits <- struct{}{}:
			case <-ctx.Done():
				atomic.AddInt64(&total, -1)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(r.opt.Concurrency)
	for i := 0; i < r.opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for range permits {
				if ctx.Err() != nil {
					// Issued but never executed.
					atomic.AddInt64(&total, -1)
					continue
				}
				if r.opt.Requester != nil {
					if err := r.opt.Requester.Do(ctx); err != nil {
						atomic.AddInt64(&errs, 1)
					}
				}
			}
		}()
	}
	wg.Wait()

	return Result{
		Total:    atomic.LoadInt64(&total),
		Errors:   atomic.LoadInt64(&errs),
		Duration: time.Since(start),
	}
}

// runStageController follows the stage plan, then settles at RatePerSecond.
func (r *Runner) runStageController(ctx context.Context) {
	start := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rps, ok := r.plan.rateAt(time.Since(start))
			if !ok {
				r.arrival.SetRate(float64(r.opt.RatePerSecond))
				return
			}
			r.arrival.SetRate(rps)
		}
	}
}
