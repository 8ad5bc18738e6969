package runner

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestPoissonArrivalNextDelayUsesSampler(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(200)
	delay := ctrl.nextDelay()
	expected := time.Second / 200
	if delay != expected {
		t.Fatalf("expected delay %s, got %s", expected, delay)
	}
}

func TestPoissonArrivalZeroRateIsUnpaced(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(-5)
	if d := ctrl.nextDelay(); d != 0 {
		t.Fatalf("expected no delay, got %s", d)
	}
}

func TestPoissonArrivalWaitCancelledContext(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(0.000001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Wait(ctx); err == nil {
		t.Fatalf("expected context error when cancelled")
	}
}

func TestUniformArrivalSetRate(t *testing.T) {
	ctrl := &uniformArrival{limiter: rate.NewLimiter(rate.Inf, 0)}

	ctrl.SetRate(2.5)
	if ctrl.limiter.Limit() != rate.Limit(2.5) {
		t.Fatalf("limit = %v, want 2.5", ctrl.limiter.Limit())
	}
	if ctrl.limiter.Burst() != 3 {
		t.Fatalf("burst = %d, want 3", ctrl.limiter.Burst())
	}

	ctrl.SetRate(0)
	if ctrl.limiter.Limit() != rate.Inf {
		t.Fatalf("limit = %v, want Inf", ctrl.limiter.Limit())
	}
}

func TestNewArrivalControllerUsesFirstStage(t *testing.T) {
	opt := Options{RatePerSecond: 100, Stages: RampUp(100, time.Second)}
	opt.normalize()
	plan := compileStagePlan(opt.Stages)

	ctrl, ok := newArrivalController(opt, plan).(*uniformArrival)
	if !ok {
		t.Fatalf("expected uniform arrival")
	}
	if ctrl.limiter.Limit() != rate.Limit(10) {
		t.Fatalf("initial limit = %v, want 10", ctrl.limiter.Limit())
	}
}
