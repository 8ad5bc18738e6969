package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ddndrk/disthene/internal/config"
)

// loadArgs parses args the way the CLI does and loads the resulting config.
func loadArgs(args ...string) (*config.Config, error) {
	fs := pflag.NewFlagSet("disthene-stats", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	config.RegisterSoakFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.NewLoader().LoadFlags(fs)
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := loadArgs()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Stats.Interval != time.Minute {
		t.Errorf("Stats.Interval = %s, want 1m", cfg.Stats.Interval)
	}
	if !cfg.Stats.Log {
		t.Errorf("Stats.Log = false, want true")
	}
	if cfg.Stats.Tenant != "NONE" {
		t.Errorf("Stats.Tenant = %q, want NONE", cfg.Stats.Tenant)
	}
	if cfg.Stats.EmitTotals {
		t.Errorf("Stats.EmitTotals = true, want false")
	}
	if cfg.Rollup != "60s:5356800s" {
		t.Errorf("Rollup = %q, want 60s:5356800s", cfg.Rollup)
	}
	if cfg.Bus.Workers != 4 || cfg.Bus.QueueSize != 10000 {
		t.Errorf("Bus = %+v, want 4 workers and 10000 queue", cfg.Bus)
	}
	if cfg.Sink.Output != "-" || cfg.Sink.Format != config.SinkFormatCarbon {
		t.Errorf("Sink = %+v, want stdout carbon", cfg.Sink)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"stats": {"interval": 30, "log": false, "tenant": "ops", "hostname": "carbon-a", "emit_totals": true},
		"rollup": "10s:86400s",
		"bus": {"workers": 8, "queue_size": 256, "drop_if_full": true},
		"sink": {"format": "json", "batch_size": 50, "flush_interval": "250ms"},
		"logging": {"level": "debug", "format": "json"}
	}`), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadArgs("--config", path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.Stats.Interval != 30*time.Second {
		t.Errorf("Stats.Interval = %s, want 30s", cfg.Stats.Interval)
	}
	if cfg.Stats.Log {
		t.Errorf("Stats.Log = true, want false")
	}
	if cfg.Stats.Tenant != "ops" || cfg.Stats.Hostname != "carbon-a" {
		t.Errorf("Stats = %+v, want tenant ops on carbon-a", cfg.Stats)
	}
	if !cfg.Stats.EmitTotals {
		t.Errorf("Stats.EmitTotals = false, want true")
	}
	rollup, err := cfg.BaseRollup()
	if err != nil {
		t.Fatalf("BaseRollup() error = %v", err)
	}
	if rollup.Rollup != 10 || rollup.Period != 8640 {
		t.Errorf("BaseRollup() = %+v, want 10/8640", rollup)
	}
	if cfg.Bus.Workers != 8 || cfg.Bus.QueueSize != 256 || !cfg.Bus.DropIfFull {
		t.Errorf("Bus = %+v", cfg.Bus)
	}
	if cfg.Sink.Format != config.SinkFormatJSON {
		t.Errorf("Sink.Format = %q, want json", cfg.Sink.Format)
	}
	if cfg.Sink.BatchSize != 50 || cfg.Sink.FlushInterval != 250*time.Millisecond {
		t.Errorf("Sink = %+v", cfg.Sink)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
stats:
  interval: 2m
  tenant: platform
metrics:
  listen: ":9108"
tracing:
  endpoint: localhost:4317
  protocol: http
  sample_rate: 0.25
  insecure: true
lock_file: /tmp/disthene.lock
soak:
  concurrency: 16
  rate: 2000
  duration: 45s
  tenants: 3
  arrival_model: poisson
  report_format: yaml
`), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadArgs("--config", path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Stats.Interval != 2*time.Minute {
		t.Errorf("Stats.Interval = %s, want 2m", cfg.Stats.Interval)
	}
	if cfg.Stats.Tenant != "platform" {
		t.Errorf("Stats.Tenant = %q, want platform", cfg.Stats.Tenant)
	}
	if cfg.Metrics.Listen != ":9108" {
		t.Errorf("Metrics.Listen = %q, want :9108", cfg.Metrics.Listen)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.Protocol != "http" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.SampleRate != 0.25 || !cfg.Tracing.Insecure {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.LockFile != "/tmp/disthene.lock" {
		t.Errorf("LockFile = %q", cfg.LockFile)
	}
	if cfg.Soak.Concurrency != 16 || cfg.Soak.Rate != 2000 || cfg.Soak.Duration != 45*time.Second {
		t.Errorf("Soak = %+v", cfg.Soak)
	}
	if cfg.Soak.ArrivalModel != config.ArrivalModelPoisson || cfg.Soak.ReportFormat != config.ReportFormatYAML {
		t.Errorf("Soak = %+v", cfg.Soak)
	}
	if err := cfg.ValidateSoak(); err != nil {
		t.Errorf("ValidateSoak() error = %v", err)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("stats:\n  tenant: from-file\n  interval: 30s\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadArgs("--config", path, "--stats-tenant", "from-flag")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Stats.Tenant != "from-flag" {
		t.Errorf("Stats.Tenant = %q, want from-flag", cfg.Stats.Tenant)
	}
	if cfg.Stats.Interval != 30*time.Second {
		t.Errorf("Stats.Interval = %s, want 30s from file", cfg.Stats.Interval)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := loadArgs("--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDurationFlagsAcceptBareSeconds(t *testing.T) {
	cfg, err := loadArgs("--stats-interval", "60", "--sink-flush-interval", "2", "--duration", "1m30s")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Stats.Interval != time.Minute {
		t.Errorf("Stats.Interval = %s, want 1m", cfg.Stats.Interval)
	}
	if cfg.Sink.FlushInterval != 2*time.Second {
		t.Errorf("Sink.FlushInterval = %s, want 2s", cfg.Sink.FlushInterval)
	}
	if cfg.Soak.Duration != 90*time.Second {
		t.Errorf("Soak.Duration = %s, want 1m30s", cfg.Soak.Duration)
	}

	if _, err := loadArgs("--stats-interval", "soon"); err == nil {
		t.Fatal("Load() expected error for --stats-interval soon")
	}
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero interval", func(c *config.Config) { c.Stats.Interval = 0 }, "stats.interval must be > 0"},
		{"fractional interval", func(c *config.Config) { c.Stats.Interval = 1500 * time.Millisecond }, "whole number of seconds"},
		{"empty tenant", func(c *config.Config) { c.Stats.Tenant = " " }, "stats.tenant is required"},
		{"hostname whitespace", func(c *config.Config) { c.Stats.Hostname = "a b" }, "stats.hostname"},
		{"bad rollup", func(c *config.Config) { c.Rollup = "60s" }, "rollup"},
		{"no workers", func(c *config.Config) { c.Bus.Workers = 0 }, "bus.workers"},
		{"bad sink format", func(c *config.Config) { c.Sink.Format = "xml" }, "sink.format"},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad tracing protocol", func(c *config.Config) { c.Tracing.Protocol = "udp" }, "tracing.protocol"},
		{"sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error type = %T, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateSoakErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Soak.Concurrency = 0
	cfg.Soak.Duration = 0
	cfg.Soak.Total = 0
	cfg.Soak.ArrivalModel = "burst"
	cfg.Soak.FeederPath = "tenants.txt"
	cfg.Soak.FeederType = "xml"

	err := cfg.ValidateSoak()
	if err == nil {
		t.Fatal("ValidateSoak() expected error")
	}
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ValidateSoak() error type = %T", err)
	}
	issues := verr.Issues()
	if len(issues) != 4 {
		t.Fatalf("Issues() = %v, want 4 issues", issues)
	}

	if err := config.Default().Validate(); err != nil {
		t.Errorf("default Validate() error = %v", err)
	}
	if err := config.Default().ValidateSoak(); err != nil {
		t.Errorf("default ValidateSoak() error = %v", err)
	}
}

func TestSoakRampUp(t *testing.T) {
	cfg, err := loadArgs("--rate", "200", "--ramp-up", "5s")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Soak.RampUp != 5*time.Second {
		t.Errorf("Soak.RampUp = %s, want 5s", cfg.Soak.RampUp)
	}
	if err := cfg.ValidateSoak(); err != nil {
		t.Errorf("ValidateSoak() error = %v", err)
	}

	cfg.Soak.Rate = 0
	err = cfg.ValidateSoak()
	if err == nil || !strings.Contains(err.Error(), "ramp_up requires soak.rate") {
		t.Errorf("ValidateSoak() error = %v, want ramp_up issue", err)
	}
}
