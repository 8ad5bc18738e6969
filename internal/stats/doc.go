// Package stats aggregates per-tenant usage of the ingestion pipeline and
// periodically feeds it back into the pipeline as metrics.
//
// # Accumulation
//
// Every inbound "metric received" and "metric store" event increments the
// [Record] of its tenant inside a [Table]. Store outcomes accumulate into the
// process-wide [Counters]. All of this is safe under unbounded concurrent
// callers.
//
// # Flush
//
// On each tick of the configured interval, [Stats.Flush] drains the table and
// the counters in one step, then, outside any lock, posts two metrics per
// tenant:
//
//	<hostname>.disthene.tenants.<tenant>.metrics_received
//	<hostname>.disthene.tenants.<tenant>.write_count
//
// Both are stamped with the cycle time truncated to the minute and carry the
// configured stats tenant and rollup. An optional tabular summary is logged.
//
// Flush cycles never overlap. A post rejected by the bus is logged and counted;
// the remaining tenants are still emitted.
package stats
