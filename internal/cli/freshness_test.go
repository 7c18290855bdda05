package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
)

func TestFreshness_PartitionedAsset(t *testing.T) {
	f := newCLIFixture(t, dailyManifest)

	// The 09:00 deadline on 2024-01-05 expects the 2024-01-04 partition.
	var result FreshnessOutput
	out, err := f.run(t, "--format", "json", "freshness", "events", "--deadline-cron", "0 9 * * *")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	decodeResponse(t, out, &result)
	assert.False(t, result.Fresh)
	assert.Equal(t, ir.PartitionKey("2024-01-04"), result.Expected)
	assert.Equal(t, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), result.Deadline)
	assert.Nil(t, result.LastUpdated)

	f.mustRun(t, "record", "events", "--partition", "2024-01-04")

	out = f.mustRun(t, "freshness", "events", "--deadline-cron", "0 9 * * *")
	assert.Contains(t, out, "✓ events[2024-01-04] is fresh (deadline 2024-01-05T09:00:00Z)")
	assert.Contains(t, out, "last updated 2024-01-05T12:00:00Z")
}

func TestFreshness_UnpartitionedAsset(t *testing.T) {
	f := newCLIFixture(t, dailyManifest)
	f.mustRun(t, "record", "countries", "--at", "2024-01-05T08:00:00Z")

	out, err := f.run(t, "freshness", "countries", "--deadline-cron", "0 9 * * *")
	require.Error(t, err)
	assert.Contains(t, out, "✗ countries is stale")
	assert.Contains(t, out, "last updated 2024-01-05T08:00:00Z")

	f.mustRun(t, "record", "countries", "--observation", "--at", "2024-01-05T09:30:00Z")
	out = f.mustRun(t, "freshness", "countries", "--deadline-cron", "0 9 * * *")
	assert.Contains(t, out, "✓ countries is fresh")
}

func TestFreshness_Timezone(t *testing.T) {
	f := newCLIFixture(t, dailyManifest)
	// 09:00 in Tokyo on 2024-01-05 is 00:00 UTC.
	f.mustRun(t, "record", "countries", "--at", "2024-01-05T01:00:00Z")

	f.mustRun(t, "freshness", "countries", "--deadline-cron", "0 9 * * *", "--timezone", "Asia/Tokyo")
}

func TestFreshness_Errors(t *testing.T) {
	f := newCLIFixture(t, dailyManifest)

	out, err := f.run(t, "freshness", "events", "--deadline-cron", "every morning")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")

	_, err = f.run(t, "freshness", "nope", "--deadline-cron", "0 9 * * *")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecord(t *testing.T) {
	f := newCLIFixture(t, dailyManifest)

	out := f.mustRun(t, "record", "events", "--partition", "2024-01-02", "--at", "2024-01-03T04:05:06Z")
	assert.Equal(t, "Recorded materialization of events[2024-01-02] at 2024-01-03T04:05:06Z\n", out)

	var rec ir.Record
	decodeResponse(t, f.mustRun(t, "--format", "json", "record", "countries", "--observation"), &rec)
	assert.Equal(t, ir.AssetKey("countries"), rec.Asset)
	assert.True(t, rec.IsObservation)
	assert.Equal(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC), rec.Timestamp)

	_, err := f.run(t, "record", "events", "--at", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
