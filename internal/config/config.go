// Package config loads the cadence daemon configuration from YAML.
//
// Unknown keys are rejected so typos surface at startup. Missing keys keep
// their defaults:
//
//	database: cadence.db
//	manifest: assets
//	tick_interval: 30s
//	default_condition: none
//	evaluation:
//	  workers: 4
//	backfill:
//	  workers: 2
//	  max_requests_per_iteration: 100
//	log:
//	  level: info
//	  format: text
//	tracing:
//	  enabled: false
//	  endpoint: localhost:4317
//	  service: cadence
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/manifest"
)

// Config is the full daemon configuration.
type Config struct {
	Database     string        `yaml:"database"`
	Manifest     string        `yaml:"manifest"`
	TickInterval time.Duration `yaml:"tick_interval"`

	// DefaultCondition names the preset applied to assets without a
	// condition. Overrides replace the manifest condition per asset.
	DefaultCondition string            `yaml:"default_condition"`
	Overrides        map[string]string `yaml:"overrides,omitempty"`

	Evaluation EvaluationConfig `yaml:"evaluation"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type EvaluationConfig struct {
	Workers int `yaml:"workers"`
}

type BackfillConfig struct {
	Workers                 int `yaml:"workers"`
	MaxRequestsPerIteration int `yaml:"max_requests_per_iteration"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Condition presets accepted by default_condition and overrides.
const (
	PresetNone      = "none"
	PresetOnMissing = "on_missing"
	PresetEager     = "eager"
	PresetOnCron    = "on_cron"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:         "cadence.db",
		Manifest:         "assets",
		TickInterval:     30 * time.Second,
		DefaultCondition: PresetNone,
		Evaluation:       EvaluationConfig{Workers: 4},
		Backfill: BackfillConfig{
			Workers:                 2,
			MaxRequestsPerIteration: 100,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
			Service:  "cadence",
		},
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if strings.TrimSpace(c.Manifest) == "" {
		errs = append(errs, errors.New("manifest is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if _, err := Preset(c.DefaultCondition); err != nil {
		errs = append(errs, fmt.Errorf("default_condition: %w", err))
	}
	for asset, name := range c.Overrides {
		if _, err := ir.ParseAssetKey(asset); err != nil {
			errs = append(errs, fmt.Errorf("overrides: %w", err))
		}
		if _, err := Preset(name); err != nil {
			errs = append(errs, fmt.Errorf("overrides[%s]: %w", asset, err))
		}
	}
	if c.Evaluation.Workers < 1 {
		errs = append(errs, fmt.Errorf("evaluation.workers must be at least 1, got %d", c.Evaluation.Workers))
	}
	if c.Backfill.Workers < 1 {
		errs = append(errs, fmt.Errorf("backfill.workers must be at least 1, got %d", c.Backfill.Workers))
	}
	if c.Backfill.MaxRequestsPerIteration < 0 {
		errs = append(errs, fmt.Errorf("backfill.max_requests_per_iteration must not be negative, got %d", c.Backfill.MaxRequestsPerIteration))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}

// ManifestOptions resolves the condition presets into compile options.
func (c Config) ManifestOptions() (manifest.Options, error) {
	def, err := Preset(c.DefaultCondition)
	if err != nil {
		return manifest.Options{}, fmt.Errorf("default_condition: %w", err)
	}
	opts := manifest.Options{DefaultCondition: def}
	if len(c.Overrides) > 0 {
		opts.Overrides = make(map[ir.AssetKey]*condition.Condition, len(c.Overrides))
		for asset, name := range c.Overrides {
			key, err := ir.ParseAssetKey(asset)
			if err != nil {
				return manifest.Options{}, fmt.Errorf("overrides: %w", err)
			}
			cond, err := Preset(name)
			if err != nil {
				return manifest.Options{}, fmt.Errorf("overrides[%s]: %w", asset, err)
			}
			opts.Overrides[key] = cond
		}
	}
	return opts, nil
}

// Preset returns the named condition. "none" and "" return nil.
//
//	on_missing  missing & !in_progress
//	eager       in_latest_time_window & (missing | parent_newer) & !in_progress
//	on_cron     !updated_since_cron("0 0 * * *") & !in_progress
func Preset(name string) (*condition.Condition, error) {
	idle := condition.InProgress().Not()
	switch name {
	case "", PresetNone:
		return nil, nil
	case PresetOnMissing:
		return condition.Missing().And(idle), nil
	case PresetEager:
		return condition.InLatestWindow().And(
			condition.Missing().Or(condition.ParentNewer()),
			idle,
		), nil
	case PresetOnCron:
		cron, err := condition.UpdatedSinceCron("0 0 * * *", "")
		if err != nil {
			return nil, err
		}
		return cron.Not().And(idle), nil
	default:
		return nil, fmt.Errorf("unknown condition preset %q", name)
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
