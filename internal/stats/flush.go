package stats

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ddndrk/disthene/internal/events"
	"github.com/ddndrk/disthene/internal/metric"
)

const separator = "======================================================================================"

// Snapshot is the state drained at the start of a cycle.
type Snapshot struct {
	Timestamp    time.Time
	Tenants      map[string]Counts
	StoreSuccess uint64
	StoreError   uint64
}

// TenantCounts is one row of a flush report.
type TenantCounts struct {
	Tenant string `json:"tenant" yaml:"tenant"`
	Counts `yaml:",inline"`
}

// FlushReport describes a completed cycle.
type FlushReport struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Tenants       []TenantCounts `json:"tenants"`
	TotalReceived uint64         `json:"total_received"`
	TotalWritten  uint64         `json:"total_written"`
	StoreSuccess  uint64         `json:"store_success"`
	StoreError    uint64         `json:"store_error"`
	Emitted       int            `json:"emitted"`
	Failures      int            `json:"failures"`
	Duration      time.Duration  `json:"duration"`
}

// Flush runs one cycle: drain, emit, optionally log. Concurrent calls are
// serialized so emission never interleaves with another drain.
func (s *Stats) Flush(ctx context.Context) FlushReport {
	if ctx == nil {
		ctx = context.Background()
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	start := time.Now()
	ts := s.opt.Clock().UTC().Truncate(time.Minute)
	id := ulid.Make().String()

	ctx, span := s.opt.Tracer.Start(ctx, "stats.flush",
		trace.WithAttributes(attribute.String("stats.cycle", id)),
	)
	s.log.Debug().Str("cycle", id).Time("timestamp", ts).Msg("flushing stats")

	snap := s.drain(ts)
	report := s.emit(ctx, id, snap)
	report.Duration = time.Since(start)

	if s.opt.Log {
		s.logSummary(report)
	}

	span.SetAttributes(
		attribute.Int("stats.tenants", len(report.Tenants)),
		attribute.Int("stats.emitted", report.Emitted),
		attribute.Int("stats.failures", report.Failures),
	)
	if report.Failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d emissions failed", report.Failures))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	s.notify(report)
	return report
}

func (s *Stats) drain(ts time.Time) Snapshot {
	tenants := s.table.Drain()
	return Snapshot{
		Timestamp:    ts,
		Tenants:      tenants,
		StoreSuccess: s.counters.DrainSuccess(),
		StoreError:   s.counters.DrainError(),
	}
}

func (s *Stats) emit(ctx context.Context, id string, snap Snapshot) FlushReport {
	report := FlushReport{
		ID:           id,
		Timestamp:    snap.Timestamp,
		Tenants:      make([]TenantCounts, 0, len(snap.Tenants)),
		StoreSuccess: snap.StoreSuccess,
		StoreError:   snap.StoreError,
	}

	names := make([]string, 0, len(snap.Tenants))
	for name := range snap.Tenants {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, tenant := range names {
		counts := snap.Tenants[tenant]
		report.TotalReceived += counts.Received
		report.TotalWritten += counts.Written
		report.Tenants = append(report.Tenants, TenantCounts{Tenant: tenant, Counts: counts})

		s.post(ctx, &report, s.tenantPath(tenant, "metrics_received"), counts.Received)
		s.post(ctx, &report, s.tenantPath(tenant, "write_count"), counts.Written)
	}

	if s.opt.EmitTotals {
		s.emitTotals(ctx, &report)
	}
	return report
}

// emitTotals posts the process-wide totals. Disabled unless Options.EmitTotals is set.
func (s *Stats) emitTotals(ctx context.Context, report *FlushReport) {
	s.post(ctx, report, s.globalPath("metrics_received"), report.TotalReceived)
	s.post(ctx, report, s.globalPath("write_count"), report.TotalWritten)
	s.post(ctx, report, s.globalPath("store.success"), report.StoreSuccess)
	s.post(ctx, report, s.globalPath("store.error"), report.StoreError)
}

func (s *Stats) tenantPath(tenant, name string) string {
	return s.opt.Hostname + ".disthene.tenants." + tenant + "." + name
}

func (s *Stats) globalPath(name string) string {
	return s.opt.Hostname + ".disthene." + name
}

func (s *Stats) post(ctx context.Context, report *FlushReport, path string, value uint64) {
	// Metric values are float64: counts are exact up to 2^53 and rounded above.
	m := metric.New(s.opt.Tenant, path, s.opt.Rollup, float64(value), report.Timestamp)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("post panicked: %v", r)
			}
		}()
		err = s.poster.Post(ctx, events.MetricStore{Metric: m})
	}()

	if err != nil {
		report.Failures++
		s.log.Warn().Err(err).Str("cycle", report.ID).Str("path", path).Msg("failed to emit stats metric")
		return
	}
	report.Emitted++
}

func (s *Stats) logSummary(report FlushReport) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Tenant\tmetrics_received\twrite_count")
	for _, row := range report.Tenants {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", row.Tenant, row.Received, row.Written)
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\n", "total", report.TotalReceived, report.TotalWritten)
	_ = tw.Flush()

	table := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	lines := []string{"Disthene stats:", separator}
	for i, line := range table {
		lines = append(lines, strings.TrimRight(line, " "))
		if i == 0 {
			lines = append(lines, separator)
		}
	}
	lines = append(lines,
		separator,
		fmt.Sprintf("store.success: %d", report.StoreSuccess),
		fmt.Sprintf("store.error: %d", report.StoreError),
		separator,
	)

	for _, line := range lines {
		s.log.Info().Str("cycle", report.ID).Msg(line)
	}
}
