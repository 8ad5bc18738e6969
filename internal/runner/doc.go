// Package runner drives the soak workload: a fixed pool of workers pulls
// permits from a paced scheduler and invokes a [Requester] once per permit.
//
//	r := runner.New(runner.Options{
//		Concurrency:   8,
//		Duration:      time.Minute,
//		RatePerSecond: 5000,
//		Requester:     poster,
//	})
//	result := r.Run(ctx)
//
// The run ends when the context is cancelled, the duration elapses, or
// TotalRequests permits have been issued, whichever comes first.
//
// Pacing follows the configured arrival model: [ArrivalModelUniform] spaces
// permits evenly through a token bucket, [ArrivalModelPoisson] samples
// exponential gaps. Optional [Stage] entries reshape the rate over time
// (a ramp-up, for instance) before settling at RatePerSecond.
//
// [WithRetry] and [WithLogging] wrap a Requester with retry and failure
// logging.
package runner
