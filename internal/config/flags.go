package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// RegisterFlags registers the daemon flags shared by every command.
func RegisterFlags(flags *pflag.FlagSet) {
	configureFlags(flags)
}

// RegisterSoakFlags registers the soak workload flags.
func RegisterSoakFlags(flags *pflag.FlagSet) {
	configureSoakFlags(flags)
}

// configureFlags sets up the daemon flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	def := Default()

	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Stats flags
	flags.Var(newSecondsValue(def.Stats.Interval), "stats-interval", "Flush period for per-tenant counters (bare numbers are seconds)")
	flags.Bool("stats-log", def.Stats.Log, "Log the per-tenant summary table on every flush")
	flags.String("stats-tenant", def.Stats.Tenant, "Tenant the derived stats metrics are written under")
	flags.String("hostname", "", "Metric path prefix (defaults to the local hostname)")
	flags.Bool("emit-totals", def.Stats.EmitTotals, "Also emit process-wide totals as metrics")
	flags.String("rollup", def.Rollup, "Base rollup as resolution:retention (e.g. 60s:5356800s)")

	// Bus flags
	flags.Int("bus-workers", def.Bus.Workers, "Number of event bus delivery workers")
	flags.Int("bus-queue-size", def.Bus.QueueSize, "Capacity of the event bus queue")
	flags.Bool("bus-drop-if-full", def.Bus.DropIfFull, "Reject events instead of blocking when the queue is full")

	// Sink flags
	flags.String("sink-output", def.Sink.Output, "Where emitted metrics are written: '-' for stdout, empty to discard, or a file path")
	flags.String("sink-format", string(def.Sink.Format), "Emitted metric format: 'carbon' or 'json'")
	flags.Int("sink-batch-size", def.Sink.BatchSize, "Metrics buffered before the sink writes a batch")
	flags.Var(newSecondsValue(def.Sink.FlushInterval), "sink-flush-interval", "Max time metrics wait in the sink buffer")

	// Logging flags
	flags.String("log-level", def.Logging.Level, "Log level: trace, debug, info, warn, error or disabled")
	flags.String("log-format", def.Logging.Format, "Log format: auto, json or console")

	// Telemetry flags
	flags.String("metrics-listen", "", "Serve Prometheus metrics on this address (e.g. :9108)")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (e.g. localhost:4317)")
	flags.String("tracing-protocol", def.Tracing.Protocol, "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported to the collector")
	flags.Float64("tracing-sample-rate", def.Tracing.SampleRate, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")

	flags.String("lock-file", "", "Refuse to start when another process holds this lock file")
}

// configureSoakFlags sets up the soak workload flags.
func configureSoakFlags(flags *pflag.FlagSet) {
	def := Default().Soak

	flags.IntP("concurrency", "c", def.Concurrency, "Number of concurrent posters")
	flags.IntP("rate", "r", def.Rate, "Metrics per second limit (0 means unlimited)")
	flags.VarP(newSecondsValue(def.Duration), "duration", "d", "How long to run the soak (e.g. 30s, 1m)")
	flags.IntP("total", "t", def.Total, "Total number of metrics to post (0 means unlimited)")
	flags.Int("tenants", def.Tenants, "Number of generated tenants when no feeder is set")
	flags.String("feeder-path", "", "Path to CSV or JSON file listing tenants")
	flags.String("feeder-type", "", "Type of feeder file: 'csv' or 'json'")
	flags.String("arrival-model", string(def.ArrivalModel), "Arrival model used when pacing metrics (uniform or poisson)")
	flags.String("report-format", string(def.ReportFormat), "Soak report format: text, json or yaml")
	flags.Var(newSecondsValue(def.ProgressInterval), "progress-interval", "Progress log period (0 disables)")
	flags.Var(newSecondsValue(def.RampUp), "ramp-up", "Ramp the rate linearly up to --rate over this period")
	flags.StringSlice("threshold", nil, "Soak assertion (repeatable, e.g. 'post_latency:p99 < 5')")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file. Flags absent from fs are ignored.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	o := &flagOverrides{fs: fs}

	o.duration("stats-interval", &cfg.Stats.Interval)
	o.boolean("stats-log", &cfg.Stats.Log)
	overrideString(o, "stats-tenant", &cfg.Stats.Tenant)
	overrideString(o, "hostname", &cfg.Stats.Hostname)
	o.boolean("emit-totals", &cfg.Stats.EmitTotals)
	overrideString(o, "rollup", &cfg.Rollup)

	o.integer("bus-workers", &cfg.Bus.Workers)
	o.integer("bus-queue-size", &cfg.Bus.QueueSize)
	o.boolean("bus-drop-if-full", &cfg.Bus.DropIfFull)

	if o.changed("sink-output") {
		val, err := fs.GetString("sink-output")
		o.set("sink-output", err)
		if err == nil {
			cfg.Sink.Output = val
		}
	}
	overrideString(o, "sink-format", &cfg.Sink.Format)
	o.integer("sink-batch-size", &cfg.Sink.BatchSize)
	o.duration("sink-flush-interval", &cfg.Sink.FlushInterval)

	overrideString(o, "log-level", &cfg.Logging.Level)
	overrideString(o, "log-format", &cfg.Logging.Format)

	overrideString(o, "metrics-listen", &cfg.Metrics.Listen)
	overrideString(o, "tracing-endpoint", &cfg.Tracing.Endpoint)
	overrideString(o, "tracing-protocol", &cfg.Tracing.Protocol)
	overrideString(o, "tracing-service-name", &cfg.Tracing.ServiceName)
	if o.changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		o.set("tracing-sample-rate", err)
		if err == nil {
			cfg.Tracing.SampleRate = val
		}
	}
	o.boolean("tracing-insecure", &cfg.Tracing.Insecure)
	overrideString(o, "lock-file", &cfg.LockFile)

	o.integer("concurrency", &cfg.Soak.Concurrency)
	o.integer("rate", &cfg.Soak.Rate)
	o.duration("duration", &cfg.Soak.Duration)
	o.integer("total", &cfg.Soak.Total)
	o.integer("tenants", &cfg.Soak.Tenants)
	overrideString(o, "feeder-path", &cfg.Soak.FeederPath)
	overrideString(o, "feeder-type", &cfg.Soak.FeederType)
	overrideString(o, "arrival-model", &cfg.Soak.ArrivalModel)
	overrideString(o, "report-format", &cfg.Soak.ReportFormat)
	o.duration("progress-interval", &cfg.Soak.ProgressInterval)
	o.duration("ramp-up", &cfg.Soak.RampUp)
	if o.changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		o.set("threshold", err)
		if err == nil {
			cfg.Soak.Thresholds = val
		}
	}

	return o.err
}

// flagOverrides copies changed flags into config fields, keeping the first error.
type flagOverrides struct {
	fs  *pflag.FlagSet
	err error
}

func (o *flagOverrides) changed(name string) bool {
	if o.err != nil || o.fs.Lookup(name) == nil {
		return false
	}
	return o.fs.Changed(name)
}

func (o *flagOverrides) set(name string, err error) {
	if err != nil && o.err == nil {
		o.err = fmt.Errorf("--%s: %w", name, err)
	}
}

func (o *flagOverrides) integer(name string, dst *int) {
	if !o.changed(name) {
		return
	}
	val, err := o.fs.GetInt(name)
	o.set(name, err)
	if err == nil {
		*dst = val
	}
}

func (o *flagOverrides) boolean(name string, dst *bool) {
	if !o.changed(name) {
		return
	}
	val, err := o.fs.GetBool(name)
	o.set(name, err)
	if err == nil {
		*dst = val
	}
}

func (o *flagOverrides) duration(name string, dst *time.Duration) {
	if !o.changed(name) {
		return
	}
	if v, ok := o.fs.Lookup(name).Value.(*secondsValue); ok {
		*dst = time.Duration(*v)
		return
	}
	val, err := o.fs.GetDuration(name)
	o.set(name, err)
	if err == nil {
		*dst = val
	}
}

func overrideString[T ~string](o *flagOverrides, name string, dst *T) {
	if !o.changed(name) {
		return
	}
	val, err := o.fs.GetString(name)
	o.set(name, err)
	if err == nil {
		*dst = T(strings.TrimSpace(val))
	}
}

// secondsValue is a duration flag that also accepts bare seconds, matching
// how the config file reads durations.
type secondsValue time.Duration

func newSecondsValue(def time.Duration) *secondsValue {
	v := secondsValue(def)
	return &v
}

func (d *secondsValue) Set(s string) error {
	val, err := asDuration(s)
	if err != nil {
		return err
	}
	*d = secondsValue(val)
	return nil
}

func (d *secondsValue) Type() string { return "duration" }

func (d *secondsValue) String() string { return time.Duration(*d).String() }
