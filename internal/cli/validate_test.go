package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invalidManifest = `package assets

asset: raw: condition: sometimes: {}

asset: clean: {
	deps: ["raw"]
	owner: "data-eng"
}
`

func TestValidate_ValidManifest(t *testing.T) {
	f := newCLIFixture(t, chainManifest)

	out := f.mustRun(t, "validate")
	assert.Equal(t, "✓ Manifest valid: 2 assets in 1 files\n", out)
}

func TestValidate_ExplicitDirWins(t *testing.T) {
	f := newCLIFixture(t, invalidManifest)
	other := newCLIFixture(t, chainManifest)

	out := f.mustRun(t, "validate", other.manifest)
	assert.Contains(t, out, "2 assets")
}

func TestValidate_JSON(t *testing.T) {
	f := newCLIFixture(t, chainManifest)

	var result ValidationResult
	resp := decodeResponse(t, f.mustRun(t, "--format", "json", "validate"), &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"clean", "raw"}, result.Assets)
	assert.Equal(t, 1, result.Files)
}

func TestValidate_ReportsEveryError(t *testing.T) {
	f := newCLIFixture(t, invalidManifest)

	out, err := f.run(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 error(s)")

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "asset raw: condition.sometimes: unknown condition kind")
	assert.Contains(t, out, "asset clean: owner: unknown field")
	assert.Contains(t, out, "assets.cue:")
}

func TestValidate_JSONErrors(t *testing.T) {
	f := newCLIFixture(t, invalidManifest)

	out, err := f.run(t, "--format", "json", "validate")
	require.Error(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeManifest, resp.Error.Code)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, "assets.cue", e.File)
		assert.Positive(t, e.Line)
	}
}

func TestValidate_Cycle(t *testing.T) {
	f := newCLIFixture(t, `package assets

asset: a: deps: ["b"]
asset: b: deps: ["a"]
`)

	out, err := f.run(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "cycle")
}

func TestValidate_MissingDirectory(t *testing.T) {
	f := newCLIFixture(t, chainManifest)

	out, err := f.run(t, "validate", "/nonexistent/assets")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "manifest directory")
}
