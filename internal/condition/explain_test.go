package condition

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

func TestExplainRender(t *testing.T) {
	env := newFakeEnv(now)
	env.defs["daily/summary"] = timewindow.StaticKeys("p1", "p2", "p3")
	env.defs["raw/events"] = timewindow.StaticKeys("p1", "p2", "p3")
	env.parents["daily/summary"] = []ir.AssetKey{"raw/events"}
	env.record("daily/summary", "p1", now.Add(-2*time.Hour))
	env.record("raw/events", "p1", now.Add(-time.Hour))
	env.record("raw/events", "p2", now.Add(-time.Hour))
	env.record("raw/events", "p3", now.Add(-time.Hour))
	env.inProgress[ir.AP("daily/summary", "p2")] = true

	cond := Missing().And(InProgress().Not(), Must(AnyDeps(Missing())).Not())
	results := EvaluateAll(cond, env, "daily/summary", []ir.PartitionKey{"p1", "p2", "p3"})
	assert.Equal(t, []bool{false, false, true}, []bool{results[0].Value, results[1].Value, results[2].Value})

	var buf bytes.Buffer
	require.NoError(t, Explain(results).Render(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "explain_summary", buf.Bytes())
}

func TestExplainDiagnostics(t *testing.T) {
	env := newFakeEnv(now)
	env.defs["daily"] = timewindow.Daily(day0)

	results := EvaluateAll(InLatestWindow(), env, "daily", []ir.PartitionKey{"2024-01-04", "bogus", "also-bogus"})
	e := Explain(results)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.True)
	assert.Equal(t, 3, e.Total)
	assert.Equal(t, 2, e.Diagnostics)
	assert.Contains(t, e.String(), "in latest time window [1/3] (2 diagnostics: ")
}

func TestExplainEmpty(t *testing.T) {
	assert.Nil(t, Explain(nil))
}
