package timewindow

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, min, s int) time.Time {
	return time.Date(y, m, d, h, min, s, 0, time.UTC)
}

func TestLatestCompletedTick(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"just after tick", utc(2024, 3, 10, 9, 0, 1), utc(2024, 3, 10, 9, 0, 0)},
		{"exactly on tick counts as passed", utc(2024, 3, 10, 9, 0, 0), utc(2024, 3, 10, 9, 0, 0)},
		{"just before tick", utc(2024, 3, 10, 8, 59, 59), utc(2024, 3, 9, 9, 0, 0)},
		{"sub-second after tick", utc(2024, 3, 10, 9, 0, 0).Add(500 * time.Millisecond), utc(2024, 3, 10, 9, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestCompletedTick("0 9 * * *", tt.now, "UTC")
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestLatestCompletedTickSparseSchedule(t *testing.T) {
	// Yearly schedules need the widest lookback.
	got, err := LatestCompletedTick("@yearly", utc(2024, 11, 5, 0, 0, 0), "")
	require.NoError(t, err)
	assert.True(t, utc(2024, 1, 1, 0, 0, 0).Equal(got))
}

func TestNextTick(t *testing.T) {
	got, err := NextTick("0 9 * * *", utc(2024, 3, 10, 9, 0, 0), "UTC")
	require.NoError(t, err)
	assert.True(t, utc(2024, 3, 11, 9, 0, 0).Equal(got), "next tick is strictly after now")

	got, err = NextTick("*/15 * * * *", utc(2024, 3, 10, 9, 7, 0), "")
	require.NoError(t, err)
	assert.True(t, utc(2024, 3, 10, 9, 15, 0).Equal(got))
}

func TestTicksInTimezone(t *testing.T) {
	// 09:00 in New York is 14:00 UTC during standard time.
	got, err := LatestCompletedTick("0 9 * * *", utc(2024, 3, 1, 14, 30, 0), "America/New_York")
	require.NoError(t, err)
	assert.True(t, utc(2024, 3, 1, 14, 0, 0).Equal(got), "got %s", got)
}

func TestInvalidCronExpression(t *testing.T) {
	for _, expr := range []string{"", "bogus", "61 * * * *", "@every 1h"} {
		t.Run(expr, func(t *testing.T) {
			_, err := LatestCompletedTick(expr, utc(2024, 1, 1, 0, 0, 0), "UTC")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCronExpression))
			assert.True(t, IsCronError(err))
		})
	}
}

func TestInvalidTimezone(t *testing.T) {
	_, err := NextTick("0 9 * * *", utc(2024, 1, 1, 0, 0, 0), "Mars/Olympus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTimezone))
	assert.False(t, errors.Is(err, ErrInvalidCronExpression))
}

func TestScheduleIsTick(t *testing.T) {
	s, err := ParseSchedule("0 0 * * *", "")
	require.NoError(t, err)
	assert.True(t, s.IsTick(utc(2024, 1, 2, 0, 0, 0)))
	assert.False(t, s.IsTick(utc(2024, 1, 2, 0, 0, 1)))
	assert.False(t, s.IsTick(utc(2024, 1, 2, 12, 0, 0)))
}
