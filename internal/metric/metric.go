// Package metric defines the metric data point that flows through the ingestion pipeline.
package metric

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metric is a single data point addressed by tenant and dotted path.
type Metric struct {
	Tenant    string    `json:"tenant"`
	Path      string    `json:"path"`
	Rollup    int       `json:"rollup"`
	Period    int       `json:"period"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds a metric stamped with the given rollup.
func New(tenant, path string, rollup Rollup, value float64, ts time.Time) Metric {
	return Metric{
		Tenant:    tenant,
		Path:      path,
		Rollup:    rollup.Rollup,
		Period:    rollup.Period,
		Value:     value,
		Timestamp: ts,
	}
}

// Carbon renders the metric in carbon plaintext form: "path value unix-seconds".
func (m Metric) Carbon() string {
	return m.Path + " " + strconv.FormatFloat(m.Value, 'f', -1, 64) + " " + strconv.FormatInt(m.Timestamp.Unix(), 10)
}

func (m Metric) String() string {
	return fmt.Sprintf("%s[%s] %d:%d %s", m.Tenant, m.Path, m.Rollup, m.Period, strconv.FormatFloat(m.Value, 'f', -1, 64))
}

// Rollup describes the resolution (seconds per point) and the number of points retained.
type Rollup struct {
	Rollup int `json:"rollup"`
	Period int `json:"period"`
}

// DefaultRollup is the base one-minute rollup kept for 62 days.
var DefaultRollup = Rollup{Rollup: 60, Period: 89280}

// ParseRollup parses "<resolution>:<retention>" such as "60s:5356800s".
// Period is the retention divided by the resolution.
func ParseRollup(s string) (Rollup, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Rollup{}, fmt.Errorf("rollup %q: expected <resolution>:<retention>", s)
	}
	resolution, err := parseSeconds(parts[0])
	if err != nil {
		return Rollup{}, fmt.Errorf("rollup %q resolution: %w", s, err)
	}
	retention, err := parseSeconds(parts[1])
	if err != nil {
		return Rollup{}, fmt.Errorf("rollup %q retention: %w", s, err)
	}
	if resolution <= 0 || retention <= 0 {
		return Rollup{}, fmt.Errorf("rollup %q: resolution and retention must be > 0", s)
	}
	if retention < resolution {
		return Rollup{}, fmt.Errorf("rollup %q: retention shorter than resolution", s)
	}
	return Rollup{Rollup: resolution, Period: retention / resolution}, nil
}

func (r Rollup) String() string {
	return fmt.Sprintf("%ds:%ds", r.Rollup, r.Rollup*r.Period)
}

func parseSeconds(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.Atoi(s)
}
