package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/testutil"
)

// chainManifest requests raw while it is missing and clean whenever raw is requested.
const chainManifest = `package assets

asset: raw: condition: and: [{missing: {}}, {not: in_progress: {}}]

asset: clean: {
	deps: ["raw"]
	condition: and: [{any_deps: will_be_requested: {}}, {not: in_progress: {}}]
}
`

// dailyManifest has a daily partitioned asset and an unpartitioned one,
// neither with a condition.
const dailyManifest = `package assets

asset: events: partitions: daily: start: "2024-01-01"

asset: countries: {}
`

type cliFixture struct {
	db       string
	manifest string
	clock    *testutil.Clock
	ids      *ir.FixedGenerator
}

func newCLIFixture(t *testing.T, manifest string) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	f := &cliFixture{
		db:       filepath.Join(dir, "cadence.db"),
		manifest: filepath.Join(dir, "assets"),
		clock:    testutil.NewClock(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)),
		ids:      ir.NewFixedGenerator(fixedIDs(20)...),
	}
	require.NoError(t, os.MkdirAll(f.manifest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.manifest, "assets.cue"), []byte(manifest), 0o644))
	return f
}

func fixedIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i+1)
	}
	return ids
}

// run executes the CLI against the fixture's database and manifest and
// returns stdout.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Clock: f.clock.Now, IDs: f.ids})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--db", f.db, "--manifest", f.manifest}, args...))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// mustRun runs a command that is expected to succeed.
func (f *cliFixture) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := f.run(t, args...)
	require.NoError(t, err, "output: %s", out)
	return out
}

// jsonResponse is CLIResponse with the payload left undecoded.
type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string, data any) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}
