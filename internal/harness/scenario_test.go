package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
)

const minimalScenario = `name: minimal
description: "one tick"
start: "2024-01-05T12:00:00Z"
manifest: |
  package assets
  asset: raw: {}
steps:
  - action: tick
`

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "chain_settles.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "chain_settles", s.Name)
	assert.Contains(t, s.Manifest, "asset: clean")
	require.Len(t, s.Steps, 5)
	assert.Equal(t, StepTick, s.Steps[0].Action)
	assert.Equal(t, []string{"clean", "raw"}, s.Steps[0].Requests)
	assert.Equal(t, "1m", s.Steps[3].Duration)
	assert.True(t, s.Steps[4].Quiet)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, AssertRunCount, s.Assertions[2].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	start, err := s.StartTime()
	require.NoError(t, err)
	assert.Equal(t, 2024, start.Year())
	assert.Empty(t, s.Assertions)
}

func TestParseScenario_Invalid(t *testing.T) {
	header := "name: x\ndescription: d\nstart: \"2024-01-05T12:00:00Z\"\nmanifest: \"package assets\"\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\n", "name is required"},
		{"no description", "name: x\n", "description is required"},
		{"no manifest", "name: x\ndescription: d\n", "manifest is required"},
		{"bad start", "name: x\ndescription: d\nstart: yesterday\nmanifest: m\n", "start:"},
		{"no steps", header, "steps list is required"},
		{"no action", header + "steps:\n  - asset: raw\n", "action is required"},
		{"unknown action", header + "steps:\n  - action: jump\n", `unknown action "jump"`},
		{"bad duration", header + "steps:\n  - action: advance\n    duration: soon\n", "duration"},
		{"negative duration", header + "steps:\n  - action: advance\n    duration: -1h\n", "must be positive"},
		{"record without asset", header + "steps:\n  - action: record\n", "asset is required for record"},
		{"non-terminal complete", header + "steps:\n  - action: complete\n    asset: raw\n    status: running\n", "not terminal"},
		{"quiet with requests", header + "steps:\n  - action: tick\n    quiet: true\n    requests: [raw]\n", "mutually exclusive"},
		{"malformed request", header + "steps:\n  - action: tick\n    requests: [\"raw[x\"]\n", "malformed asset partition"},
		{"unknown assertion", header + "steps:\n  - action: tick\nassertions:\n  - type: vibes\n", "unknown assertion type"},
		{"assertion without asset", header + "steps:\n  - action: tick\nassertions:\n  - type: requested\n", "asset is required for requested"},
		{"negative count", header + "steps:\n  - action: tick\nassertions:\n  - type: request_count\n    asset: raw\n    count: -1\n", "must be non-negative"},
		{"backfill without id", header + "steps:\n  - action: tick\nassertions:\n  - type: backfill_status\n    status: completed\n", "id is required"},
		{"bad backfill status", header + "steps:\n  - action: tick\nassertions:\n  - type: backfill_status\n    id: b\n    status: done\n", "unknown backfill status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseAssetPartition(t *testing.T) {
	ap, err := parseAssetPartition("events[2024-01-02]")
	require.NoError(t, err)
	assert.Equal(t, ir.AP("events", "2024-01-02"), ap)

	ap, err = parseAssetPartition("a/b")
	require.NoError(t, err)
	assert.Equal(t, ir.AP("a/b", ""), ap)

	_, err = parseAssetPartition("[x]")
	require.Error(t, err)
}

func TestScenarioFiles_AllParse(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		_, err = ParseScenario(data)
		assert.NoError(t, err, p)
	}
}
