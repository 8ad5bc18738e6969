// Package output renders soak results and progress.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/ddndrk/disthene/internal/config"
	"github.com/ddndrk/disthene/internal/metrics"
	"github.com/ddndrk/disthene/internal/threshold"
)

// SoakReport is the outcome of a soak run: posting statistics plus the
// per-tenant comparison of posted and flushed counts.
type SoakReport struct {
	Passed  bool                `json:"passed" yaml:"passed"`
	Drifted int                 `json:"drifted_tenants" yaml:"drifted_tenants"`
	Stats   metrics.Stats       `json:"stats" yaml:"stats"`
	Tenants []metrics.TenantRow `json:"tenants" yaml:"tenants"`

	Thresholds       []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	FailedThresholds int                `json:"failed_thresholds,omitempty" yaml:"failed_thresholds,omitempty"`
}

// NewSoakReport builds a report; it passes when no tenant drifted.
func NewSoakReport(stats metrics.Stats, rows []metrics.TenantRow) SoakReport {
	drifted := len(metrics.Drifted(rows))
	return SoakReport{
		Passed:  drifted == 0,
		Drifted: drifted,
		Stats:   stats,
		Tenants: rows,
	}
}

// WithThresholds attaches threshold results; any failure fails the report.
func (r SoakReport) WithThresholds(results []threshold.Result) SoakReport {
	r.Thresholds = results
	r.FailedThresholds = len(threshold.Failed(results))
	r.Passed = r.Drifted == 0 && r.FailedThresholds == 0
	return r
}

// Write renders r in the requested format.
func Write(w io.Writer, format config.ReportFormat, r SoakReport) error {
	switch format {
	case config.ReportFormatJSON:
		return PrintJSONReport(w, r)
	case config.ReportFormatYAML:
		return PrintYAMLReport(w, r)
	case config.ReportFormatText, "":
		return PrintReport(w, r)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r SoakReport) error {
	s := r.Stats
	fmt.Fprintln(w, "\n--- Soak Results ---")
	fmt.Fprintf(w, "Posted:            %d\n", s.Total)
	fmt.Fprintf(w, "Accepted:          %d\n", s.Successes)
	fmt.Fprintf(w, "Rejected:          %d\n", s.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", s.Duration)
	fmt.Fprintf(w, "Posts/sec:         %.2f\n", s.PostsPerSec)
	fmt.Fprintln(w, "\nPost Latency:")
	fmt.Fprintf(w, "  Min:             %s\n", s.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", s.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", s.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", s.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", s.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", s.P99Latency)
	fmt.Fprintln(w, "\nFlushes:")
	fmt.Fprintf(w, "  Cycles:          %d\n", s.FlushCycles)
	fmt.Fprintf(w, "  Emitted:         %d\n", s.FlushEmitted)
	fmt.Fprintf(w, "  Emit failures:   %d\n", s.FlushFailures)
	fmt.Fprintf(w, "  P50:             %s\n", s.FlushP50)
	fmt.Fprintf(w, "  P99:             %s\n", s.FlushP99)
	fmt.Fprintf(w, "  Max:             %s\n", s.FlushMax)
	fmt.Fprintf(w, "  store.success:   %d\n", s.StoreSuccess)
	fmt.Fprintf(w, "  store.error:     %d\n", s.StoreError)

	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "\nPost Errors:")
		for _, label := range sortedKeys(s.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", label, s.Errors[label])
		}
	}

	fmt.Fprintln(w, "\nTenants:")
	if len(r.Tenants) == 0 {
		fmt.Fprintln(w, "  None")
	} else {
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "  tenant\treceived (posted/flushed)\twritten (posted/flushed)\tstatus")
		for _, row := range r.Tenants {
			status := "ok"
			if !row.OK() {
				status = fmt.Sprintf("drift %+d/%+d", row.ReceivedDrift, row.WrittenDrift)
			}
			fmt.Fprintf(tw, "  %s\t%d/%d\t%d/%d\t%s\n",
				row.Tenant,
				row.Posted.Received, row.Flushed.Received,
				row.Posted.Written, row.Flushed.Written,
				status,
			)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res)
		}
	}

	if r.Passed {
		fmt.Fprintln(w, "\nResult: PASS")
		return nil
	}
	var reasons []string
	if r.Drifted > 0 {
		reasons = append(reasons, fmt.Sprintf("%d tenants drifted", r.Drifted))
	}
	if r.FailedThresholds > 0 {
		reasons = append(reasons, fmt.Sprintf("%d thresholds failed", r.FailedThresholds))
	}
	fmt.Fprintf(w, "\nResult: FAIL (%s)\n", strings.Join(reasons, ", "))
	return nil
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r SoakReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r SoakReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
