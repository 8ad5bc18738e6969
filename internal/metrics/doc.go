// Package metrics accounts for soak runs against the stats aggregator.
//
// A [Tally] counts what the workload posted to the bus, per tenant. A
// [Collector] records bus post latencies and observes every flush report
// the aggregator produces, so the two sides can be compared once the run
// has drained:
//
//	tally := metrics.NewTally()
//	collector := metrics.NewCollector()
//	aggregator.AddObserver(collector)
//
//	// per post
//	tally.AddReceived(tenant)
//	collector.RecordPost(latency, err)
//
//	rows := metrics.Compare(tally.Snapshot(), collector.Flushed(), "NONE")
//
// Latencies and flush durations are kept in HDR histograms, so percentiles
// stay accurate without retaining samples. Both types are safe for
// concurrent use.
package metrics
