package timewindow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCronExpression is returned when a cron expression does not parse.
	ErrInvalidCronExpression = errors.New("invalid cron expression")

	// ErrInvalidTimezone is returned when a timezone name cannot be loaded.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrNonTimeWindowPartitioned is returned when a time-based operation is
	// applied to an asset whose partitions are not time windows.
	ErrNonTimeWindowPartitioned = errors.New("partitions are not time-window based")

	// ErrUnknownPartition is returned when a key does not name a partition
	// of the definition.
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrNoWindow is returned when no complete window exists before a tick.
	ErrNoWindow = errors.New("no completed partition window")
)

// CronError describes a cron expression or timezone that cannot be used.
type CronError struct {
	Expr     string
	Timezone string
	Err      error
}

func (e *CronError) Error() string {
	if e.Timezone != "" {
		return fmt.Sprintf("cron %q (tz %q): %v", e.Expr, e.Timezone, e.Err)
	}
	return fmt.Sprintf("cron %q: %v", e.Expr, e.Err)
}

func (e *CronError) Unwrap() error {
	return e.Err
}

// IsCronError reports whether err is a *CronError.
func IsCronError(err error) bool {
	var ce *CronError
	return errors.As(err, &ce)
}
