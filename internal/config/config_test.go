package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/ir"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cadence/state.db", cfg.Database)
	assert.Equal(t, "/etc/cadence/assets", cfg.Manifest)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 8, cfg.Evaluation.Workers)
	assert.Equal(t, BackfillConfig{Workers: 3, MaxRequestsPerIteration: 25}, cfg.Backfill)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otel-collector:4317", cfg.Tracing.Endpoint)
	// Unset keys keep their defaults.
	assert.Equal(t, "cadence", cfg.Tracing.Service)

	opts, err := cfg.ManifestOptions()
	require.NoError(t, err)
	assert.True(t, opts.DefaultCondition.Equal(condition.Missing().And(condition.InProgress().Not())))
	eager, err := Preset(PresetEager)
	require.NoError(t, err)
	assert.True(t, opts.Overrides[ir.AssetKey("raw/events")].Equal(eager))
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backfill:\n  workers: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Backfill.Workers)
	assert.Equal(t, 100, cfg.Backfill.MaxRequestsPerIteration)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load("testdata/typo.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_intervall")
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	require.Error(t, err)
	for _, want := range []string{"tick_interval", "default_condition", "evaluation.workers", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/nope.yaml")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_Tracing(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = ""
	assert.ErrorContains(t, cfg.Validate(), "tracing.endpoint")
}

func TestPreset(t *testing.T) {
	for _, name := range []string{PresetOnMissing, PresetEager, PresetOnCron} {
		c, err := Preset(name)
		require.NoError(t, err, name)
		assert.NotNil(t, c, name)
	}

	c, err := Preset(PresetNone)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = Preset("always")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
