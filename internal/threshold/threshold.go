// Package threshold evaluates pass/fail assertions against soak statistics.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ddndrk/disthene/internal/metrics"
)

// Threshold is a parsed assertion such as "post_latency:p99 < 5".
type Threshold struct {
	Metric    string  // e.g. "post_latency", "flush_duration"
	Aggregate string  // e.g. "p99", "rate", "count"
	Operator  string  // "<", "<=", ">", ">=", "=="
	Value     float64 // bound compared against
	Raw       string  // original text, for display
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// String renders the result as a single report line.
func (r Result) String() string {
	mark := "PASS"
	if !r.Pass {
		mark = "FAIL"
	}
	return fmt.Sprintf("%s %s (actual %.2f)", mark, r.Threshold, r.Actual)
}

type extractor func(metrics.Stats) float64

// Latencies and durations are in milliseconds.
var catalog = map[string]map[string]extractor{
	"post_latency": {
		"p50": func(s metrics.Stats) float64 { return s.P50LatencyMs },
		"p90": func(s metrics.Stats) float64 { return s.P90LatencyMs },
		"p99": func(s metrics.Stats) float64 { return s.P99LatencyMs },
		"avg": func(s metrics.Stats) float64 { return s.MeanLatencyMs },
		"min": func(s metrics.Stats) float64 { return s.MinLatencyMs },
		"max": func(s metrics.Stats) float64 { return s.MaxLatencyMs },
	},
	"post_failed": {
		"count": func(s metrics.Stats) float64 { return float64(s.Failures) },
		"rate": func(s metrics.Stats) float64 {
			if s.Total == 0 {
				return 0
			}
			return float64(s.Failures) / float64(s.Total)
		},
	},
	"posts": {
		"count": func(s metrics.Stats) float64 { return float64(s.Total) },
		"rate":  func(s metrics.Stats) float64 { return s.PostsPerSec },
	},
	"flush_duration": {
		"p50": func(s metrics.Stats) float64 { return s.FlushP50Ms },
		"p99": func(s metrics.Stats) float64 { return s.FlushP99Ms },
		"max": func(s metrics.Stats) float64 { return s.FlushMaxMs },
	},
	"flush_cycles": {
		"count": func(s metrics.Stats) float64 { return float64(s.FlushCycles) },
	},
	"flush_failures": {
		"count": func(s metrics.Stats) float64 { return float64(s.FlushFailures) },
	},
	"store_error": {
		"count": func(s metrics.Stats) float64 { return float64(s.StoreError) },
	},
}

var (
	pattern   = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)
	operators = []string{"<", "<=", ">", ">=", "=="}
)

// Parse parses "metric:aggregate operator value".
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q (expected metric:aggregate operator value, e.g. 'post_latency:p99 < 5')", s)
	}

	aggregates, ok := catalog[m[1]]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric %q (supported: %s)", m[1], strings.Join(sortedKeys(catalog), ", "))
	}
	if _, ok := aggregates[m[2]]; !ok {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", m[2], m[1], strings.Join(sortedKeys(aggregates), ", "))
	}
	if !validOperator(m[3]) {
		return Threshold{}, fmt.Errorf("unsupported operator %q (supported: %s)", m[3], strings.Join(operators, ", "))
	}
	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %w", m[4], err)
	}

	return Threshold{Metric: m[1], Aggregate: m[2], Operator: m[3], Value: value, Raw: s}, nil
}

// ParseAll parses every expression and reports all failures at once.
func ParseAll(exprs []string) ([]Threshold, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(exprs))
	var problems []string
	for i, s := range exprs {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// Evaluate checks each threshold against stats, in order.
func Evaluate(thresholds []Threshold, stats metrics.Stats) []Result {
	if len(thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(thresholds))
	for _, t := range thresholds {
		actual := catalog[t.Metric][t.Aggregate](stats)
		results = append(results, Result{
			Threshold: t.Raw,
			Actual:    actual,
			Pass:      compare(actual, t.Operator, t.Value),
		})
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

func validOperator(op string) bool {
	for _, v := range operators {
		if op == v {
			return true
		}
	}
	return false
}

func compare(actual float64, op string, expected float64) bool {
	const epsilon = 1e-9
	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
