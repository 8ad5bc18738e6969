package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ddndrk/disthene/internal/metric"
)

type SinkFormat string

const (
	SinkFormatCarbon SinkFormat = "carbon"
	SinkFormatJSON   SinkFormat = "json"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ReportFormat string

const (
	ReportFormatText ReportFormat = "text"
	ReportFormatJSON ReportFormat = "json"
	ReportFormatYAML ReportFormat = "yaml"
)

type Config struct {
	Stats      StatsConfig   `mapstructure:"stats"`
	Rollup     string        `mapstructure:"rollup"`
	Bus        BusConfig     `mapstructure:"bus"`
	Sink       SinkConfig    `mapstructure:"sink"`
	Logging    LoggingConfig `mapstructure:"logging"`
	Metrics    MetricsConfig `mapstructure:"metrics"`
	Tracing    TracingConfig `mapstructure:"tracing"`
	LockFile   string        `mapstructure:"lock_file"`
	Soak       SoakConfig    `mapstructure:"soak"`
	ConfigFile string        `mapstructure:"-"`
}

type StatsConfig struct {
	Interval   time.Duration `mapstructure:"interval"`    // flush period; bare numbers are seconds
	Log        bool          `mapstructure:"log"`         // log the per-tenant summary table
	Tenant     string        `mapstructure:"tenant"`      // tenant the derived metrics are written under
	Hostname   string        `mapstructure:"hostname"`    // metric path prefix
	EmitTotals bool          `mapstructure:"emit_totals"` // emit process-wide totals as metrics
}

type BusConfig struct {
	Workers    int  `mapstructure:"workers"`
	QueueSize  int  `mapstructure:"queue_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type SinkConfig struct {
	Output        string        `mapstructure:"output"` // "-" stdout, "" discard, otherwise a file path
	Format        SinkFormat    `mapstructure:"format"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // Prometheus listen address, empty disables
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Enabled reports whether an OTLP endpoint is configured directly or via the environment.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

type SoakConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	Rate             int           `mapstructure:"rate"`
	Duration         time.Duration `mapstructure:"duration"`
	Total            int           `mapstructure:"total"`
	Tenants          int           `mapstructure:"tenants"` // generated tenant count when no feeder is set
	FeederPath       string        `mapstructure:"feeder_path"`
	FeederType       string        `mapstructure:"feeder_type"` // "csv" or "json"
	ArrivalModel     ArrivalModel  `mapstructure:"arrival_model"`
	ReportFormat     ReportFormat  `mapstructure:"report_format"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	RampUp           time.Duration `mapstructure:"ramp_up"` // linear rate ramp before settling at Rate
	Thresholds       []string      `mapstructure:"thresholds"`
}

// Default returns the configuration used when neither file nor flags set a value.
func Default() *Config {
	return &Config{
		Stats: StatsConfig{
			Interval: time.Minute,
			Log:      true,
			Tenant:   "NONE",
		},
		Rollup: metric.DefaultRollup.String(),
		Bus: BusConfig{
			Workers:   4,
			QueueSize: 10000,
		},
		Sink: SinkConfig{
			Output:        "-",
			Format:        SinkFormatCarbon,
			BatchSize:     500,
			FlushInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
		Soak: SoakConfig{
			Concurrency:      4,
			Duration:         10 * time.Second,
			Tenants:          10,
			ArrivalModel:     ArrivalModelUniform,
			ReportFormat:     ReportFormatText,
			ProgressInterval: time.Second,
		},
	}
}

// BaseRollup parses the configured rollup.
func (c Config) BaseRollup() (metric.Rollup, error) {
	return metric.ParseRollup(c.Rollup)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	if issues := c.baseIssues(); len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (c Config) baseIssues() []string {
	var issues []string

	if c.Stats.Interval <= 0 {
		issues = append(issues, "stats.interval must be > 0")
	} else if c.Stats.Interval%time.Second != 0 {
		issues = append(issues, "stats.interval must be a whole number of seconds")
	}
	if strings.TrimSpace(c.Stats.Tenant) == "" {
		issues = append(issues, "stats.tenant is required")
	}
	if strings.ContainsAny(c.Stats.Hostname, " \t\n") {
		issues = append(issues, "stats.hostname must not contain whitespace")
	}
	if _, err := c.BaseRollup(); err != nil {
		issues = append(issues, err.Error())
	}

	if c.Bus.Workers < 1 {
		issues = append(issues, "bus.workers must be >= 1")
	}
	if c.Bus.QueueSize < 1 {
		issues = append(issues, "bus.queue_size must be >= 1")
	}

	issues = append(issues, validateSinkConfig(c.Sink)...)
	issues = append(issues, validateLoggingConfig(c.Logging)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)
	return issues
}

// ValidateSoak checks the soak section on top of Validate.
func (c Config) ValidateSoak() error {
	issues := c.baseIssues()

	s := c.Soak
	if s.Concurrency < 1 {
		issues = append(issues, "soak.concurrency must be >= 1")
	}
	if s.Rate < 0 {
		issues = append(issues, "soak.rate must be >= 0")
	}
	if s.Total < 0 {
		issues = append(issues, "soak.total must be >= 0")
	}
	if s.Duration < 0 {
		issues = append(issues, "soak.duration must be >= 0")
	}
	if s.Duration == 0 && s.Total == 0 {
		issues = append(issues, "soak needs a duration or a total")
	}
	if s.ProgressInterval < 0 {
		issues = append(issues, "soak.progress_interval must be >= 0")
	}
	if s.RampUp < 0 {
		issues = append(issues, "soak.ramp_up must be >= 0")
	}
	if s.RampUp > 0 && s.Rate == 0 {
		issues = append(issues, "soak.ramp_up requires soak.rate")
	}

	switch s.ArrivalModel {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("soak.arrival_model %q is not supported", s.ArrivalModel))
	}
	switch s.ReportFormat {
	case "", ReportFormatText, ReportFormatJSON, ReportFormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("soak.report_format %q is not supported", s.ReportFormat))
	}

	if strings.TrimSpace(s.FeederPath) != "" {
		if s.FeederType != "csv" && s.FeederType != "json" {
			issues = append(issues, fmt.Sprintf("soak.feeder_type must be 'csv' or 'json', got %q", s.FeederType))
		}
	} else if s.Tenants < 1 {
		issues = append(issues, "soak.tenants must be >= 1 when no feeder is configured")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateSinkConfig(s SinkConfig) []string {
	var issues []string
	switch s.Format {
	case SinkFormatCarbon, SinkFormatJSON:
	default:
		issues = append(issues, fmt.Sprintf("sink.format must be 'carbon' or 'json', got %q", s.Format))
	}
	if s.BatchSize < 1 {
		issues = append(issues, "sink.batch_size must be >= 1")
	}
	if s.FlushInterval <= 0 {
		issues = append(issues, "sink.flush_interval must be > 0")
	}
	return issues
}

func validateLoggingConfig(l LoggingConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not supported", l.Level))
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "", "auto", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q is not supported", l.Format))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol %q is not supported: use \"grpc\" or \"http\"", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1.0 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
