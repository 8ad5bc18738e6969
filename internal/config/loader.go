package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFlags builds a Config from an already parsed flag set: defaults, then
// the file named by --config, then every changed flag.
func (Loader) LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	var configPath string
	if fs.Lookup("config") != nil {
		path, err := fs.GetString("config")
		if err != nil {
			return nil, err
		}
		configPath = strings.TrimSpace(path)
	}
	cfg.ConfigFile = configPath

	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
			return nil, err
		}
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		return nil, err
	}

	cfg.Sink.Format = SinkFormat(strings.ToLower(string(cfg.Sink.Format)))
	cfg.Soak.ArrivalModel = ArrivalModel(strings.ToLower(string(cfg.Soak.ArrivalModel)))
	cfg.Soak.ReportFormat = ReportFormat(strings.ToLower(string(cfg.Soak.ReportFormat)))
	cfg.Soak.FeederType = strings.ToLower(cfg.Soak.FeederType)

	return cfg, nil
}

type setter func(raw interface{}) error

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "rollup"); ok {
		if err := stringInto(&cfg.Rollup)(raw); err != nil {
			return fmt.Errorf("rollup: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "lock_file"); ok {
		if err := stringInto(&cfg.LockFile)(raw); err != nil {
			return fmt.Errorf("lock_file: %w", err)
		}
	}

	sections := []struct {
		name   string
		fields map[string]setter
	}{
		{"stats", map[string]setter{
			"interval":    durationInto(&cfg.Stats.Interval),
			"log":         boolInto(&cfg.Stats.Log),
			"tenant":      stringInto(&cfg.Stats.Tenant),
			"hostname":    stringInto(&cfg.Stats.Hostname),
			"emit_totals": boolInto(&cfg.Stats.EmitTotals),
		}},
		{"bus", map[string]setter{
			"workers":      intInto(&cfg.Bus.Workers),
			"queue_size":   intInto(&cfg.Bus.QueueSize),
			"drop_if_full": boolInto(&cfg.Bus.DropIfFull),
		}},
		{"sink", map[string]setter{
			"output":         rawStringInto(&cfg.Sink.Output),
			"format":         stringInto(&cfg.Sink.Format),
			"batch_size":     intInto(&cfg.Sink.BatchSize),
			"flush_interval": durationInto(&cfg.Sink.FlushInterval),
		}},
		{"logging", map[string]setter{
			"level":  stringInto(&cfg.Logging.Level),
			"format": stringInto(&cfg.Logging.Format),
		}},
		{"metrics", map[string]setter{
			"listen": stringInto(&cfg.Metrics.Listen),
		}},
		{"tracing", map[string]setter{
			"endpoint":     stringInto(&cfg.Tracing.Endpoint),
			"protocol":     stringInto(&cfg.Tracing.Protocol),
			"service_name": stringInto(&cfg.Tracing.ServiceName),
			"sample_rate":  floatInto(&cfg.Tracing.SampleRate),
			"insecure":     boolInto(&cfg.Tracing.Insecure),
		}},
		{"soak", map[string]setter{
			"concurrency":       intInto(&cfg.Soak.Concurrency),
			"rate":              intInto(&cfg.Soak.Rate),
			"duration":          durationInto(&cfg.Soak.Duration),
			"total":             intInto(&cfg.Soak.Total),
			"tenants":           intInto(&cfg.Soak.Tenants),
			"feeder_path":       stringInto(&cfg.Soak.FeederPath),
			"feeder_type":       stringInto(&cfg.Soak.FeederType),
			"arrival_model":     stringInto(&cfg.Soak.ArrivalModel),
			"report_format":     stringInto(&cfg.Soak.ReportFormat),
			"progress_interval": durationInto(&cfg.Soak.ProgressInterval),
			"ramp_up":           durationInto(&cfg.Soak.RampUp),
			"thresholds":        stringSliceInto(&cfg.Soak.Thresholds),
		}},
	}

	for _, section := range sections {
		raw, ok := lookupSetting(settings, section.name)
		if !ok {
			continue
		}
		values, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
		for key, set := range section.fields {
			val, ok := lookupSetting(values, key)
			if !ok {
				continue
			}
			if err := set(val); err != nil {
				return fmt.Errorf("%s.%s: %w", section.name, key, err)
			}
		}
	}
	return nil
}

func stringInto[T ~string](dst *T) setter {
	return func(raw interface{}) error {
		val, err := asString(raw)
		if err != nil {
			return err
		}
		*dst = T(strings.TrimSpace(val))
		return nil
	}
}

func stringSliceInto(dst *[]string) setter {
	return func(raw interface{}) error {
		val, err := asStringSlice(raw)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	}
}

// rawStringInto keeps surrounding whitespace untouched, for paths.
func rawStringInto(dst *string) setter {
	return func(raw interface{}) error {
		val, err := asString(raw)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	}
}

func intInto(dst *int) setter {
	return func(raw interface{}) error {
		val, err := asInt(raw)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	}
}

func floatInto(dst *float64) setter {
	return func(raw interface{}) error {
		val, err := asFloat64(raw)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	}
}

func boolInto(dst *bool) setter {
	return func(raw interface{}) error {
		val, err := asBool(raw)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	}
}

func durationInto(dst *time.Duration) setter {
	return func(raw interface{}) error {
		val, err := asDuration(raw)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	}
}
