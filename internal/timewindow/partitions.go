package timewindow

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// PartitionsKind discriminates a PartitionsDef.
type PartitionsKind string

const (
	Unpartitioned PartitionsKind = "unpartitioned"
	Static        PartitionsKind = "static"
	TimeWindow    PartitionsKind = "time_window"
)

// Default key formats for the time-window constructors.
const (
	DayFormat  = "2006-01-02"
	HourFormat = "2006-01-02-15:04"
)

// PartitionsDef describes an asset's partition space.
//
// For TimeWindow definitions each partition is the half-open window
// [tick, next tick) of Cron evaluated in Timezone, for ticks at or after
// Start. The key is the window start formatted with Format.
type PartitionsDef struct {
	Kind PartitionsKind `json:"kind"`

	// Static
	Keys []ir.PartitionKey `json:"keys,omitempty"`

	// TimeWindow
	Cron      string    `json:"cron,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	Format    string    `json:"format,omitempty"`
	EndOffset int       `json:"end_offset,omitempty"`
}

// None returns the definition of an unpartitioned asset.
func None() PartitionsDef {
	return PartitionsDef{Kind: Unpartitioned}
}

// StaticKeys returns a static definition over keys in the given order.
func StaticKeys(keys ...string) PartitionsDef {
	pk := make([]ir.PartitionKey, len(keys))
	for i, k := range keys {
		pk[i] = ir.PartitionKey(k)
	}
	return PartitionsDef{Kind: Static, Keys: pk}
}

// CronWindows returns a time-window definition.
func CronWindows(cron string, start time.Time, format string) PartitionsDef {
	return PartitionsDef{Kind: TimeWindow, Cron: cron, Start: start, Format: format}
}

// Daily partitions start at midnight.
func Daily(start time.Time) PartitionsDef {
	return CronWindows("0 0 * * *", start, DayFormat)
}

// Hourly partitions start on the hour.
func Hourly(start time.Time) PartitionsDef {
	return CronWindows("0 * * * *", start, HourFormat)
}

// Weekly partitions start at midnight on Sunday.
func Weekly(start time.Time) PartitionsDef {
	return CronWindows("0 0 * * 0", start, DayFormat)
}

// Monthly partitions start at midnight on the first of the month.
func Monthly(start time.Time) PartitionsDef {
	return CronWindows("0 0 1 * *", start, DayFormat)
}

// InTimezone returns a copy of d evaluated in tz.
func (d PartitionsDef) InTimezone(tz string) PartitionsDef {
	d.Timezone = tz
	return d
}

// WithEndOffset returns a copy of d that exposes n extra windows past the
// last completed one (negative n hides windows).
func (d PartitionsDef) WithEndOffset(n int) PartitionsDef {
	d.EndOffset = n
	return d
}

// IsPartitioned reports whether the asset has more than the single implicit partition.
func (d PartitionsDef) IsPartitioned() bool {
	return d.Kind == Static || d.Kind == TimeWindow
}

// IsTimeWindow reports whether partitions are time windows.
func (d PartitionsDef) IsTimeWindow() bool {
	return d.Kind == TimeWindow
}

// Validate checks that the definition is usable.
func (d PartitionsDef) Validate() error {
	switch d.Kind {
	case Unpartitioned, "":
		return nil
	case Static:
		seen := make(map[ir.PartitionKey]bool, len(d.Keys))
		for _, k := range d.Keys {
			if k == "" {
				return fmt.Errorf("static partitions: empty key")
			}
			if seen[k] {
				return fmt.Errorf("static partitions: duplicate key %q", k)
			}
			seen[k] = true
		}
		return nil
	case TimeWindow:
		if d.Format == "" {
			return fmt.Errorf("time-window partitions: format is required")
		}
		if d.Start.IsZero() {
			return fmt.Errorf("time-window partitions: start is required")
		}
		_, err := ParseSchedule(d.Cron, d.Timezone)
		return err
	default:
		return fmt.Errorf("unknown partitions kind %q", d.Kind)
	}
}

// Schedule parses the definition's cron schedule.
func (d PartitionsDef) Schedule() (*Schedule, error) {
	if d.Kind != TimeWindow {
		return nil, ErrNonTimeWindowPartitioned
	}
	return ParseSchedule(d.Cron, d.Timezone)
}

// PartitionKeys returns every partition that exists at now, in order.
// Time-window keys are chronological.
func (d PartitionsDef) PartitionKeys(now time.Time) ([]ir.PartitionKey, error) {
	switch d.Kind {
	case Unpartitioned, "":
		return []ir.PartitionKey{""}, nil
	case Static:
		return slices.Clone(d.Keys), nil
	case TimeWindow:
		windows, err := d.windows(now)
		if err != nil {
			return nil, err
		}
		keys := make([]ir.PartitionKey, len(windows))
		for i, w := range windows {
			keys[i] = w.Key
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("unknown partitions kind %q", d.Kind)
	}
}

// Window is one time-window partition.
type Window struct {
	Key   ir.PartitionKey
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether the two half-open windows intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (d PartitionsDef) windows(now time.Time) ([]Window, error) {
	s, err := d.Schedule()
	if err != nil {
		return nil, err
	}

	// The window ending at the latest completed tick is the last one that
	// exists; EndOffset shifts that boundary by whole windows.
	limit := s.Latest(now)
	if limit.IsZero() {
		return nil, nil
	}
	for i := 0; i < d.EndOffset; i++ {
		limit = s.Next(limit)
	}

	var out []Window
	start := s.Next(d.Start.Add(-time.Second))
	for !start.IsZero() {
		end := s.Next(start)
		if end.IsZero() || end.After(limit) {
			break
		}
		out = append(out, Window{Key: d.format(start), Start: start, End: end})
		start = end
	}
	if d.EndOffset < 0 {
		drop := -d.EndOffset
		if drop >= len(out) {
			return nil, nil
		}
		out = out[:len(out)-drop]
	}
	return out, nil
}

func (d PartitionsDef) format(t time.Time) ir.PartitionKey {
	return ir.PartitionKey(t.Format(d.Format))
}

// Windows returns every existing window at now.
func (d PartitionsDef) Windows(now time.Time) ([]Window, error) {
	if d.Kind != TimeWindow {
		return nil, ErrNonTimeWindowPartitioned
	}
	return d.windows(now)
}

// Window resolves a time-window key to its window.
func (d PartitionsDef) Window(key ir.PartitionKey) (Window, error) {
	s, err := d.Schedule()
	if err != nil {
		return Window{}, err
	}
	start, err := time.ParseInLocation(d.Format, string(key), s.Location())
	if err != nil {
		return Window{}, fmt.Errorf("%w %q: %v", ErrUnknownPartition, key, err)
	}
	if start.Before(d.Start) || !s.IsTick(start) {
		return Window{}, fmt.Errorf("%w %q: not a window start", ErrUnknownPartition, key)
	}
	return Window{Key: key, Start: start, End: s.Next(start)}, nil
}

// LatestWindows returns the keys of the last n existing partitions.
// Non-time-window definitions return every key.
func (d PartitionsDef) LatestWindows(now time.Time, n int) ([]ir.PartitionKey, error) {
	keys, err := d.PartitionKeys(now)
	if err != nil {
		return nil, err
	}
	if d.Kind != TimeWindow || n >= len(keys) {
		return keys, nil
	}
	if n <= 0 {
		return nil, nil
	}
	return keys[len(keys)-n:], nil
}

// Contains reports whether key names an existing partition at now.
func (d PartitionsDef) Contains(key ir.PartitionKey, now time.Time) (bool, error) {
	switch d.Kind {
	case Unpartitioned, "":
		return key == "", nil
	case Static:
		return slices.Contains(d.Keys, key), nil
	default:
		w, err := d.Window(key)
		if err != nil {
			return false, nil
		}
		keys, err := d.PartitionKeys(now)
		if err != nil {
			return false, err
		}
		return slices.Contains(keys, w.Key), nil
	}
}

// PartitionWindowForTick returns the most recently completed window of def
// that ends at or before tick.
func PartitionWindowForTick(tick time.Time, def PartitionsDef) (Window, error) {
	if def.Kind != TimeWindow {
		return Window{}, ErrNonTimeWindowPartitioned
	}
	s, err := def.Schedule()
	if err != nil {
		return Window{}, err
	}
	end := s.Latest(tick)
	if end.IsZero() {
		return Window{}, fmt.Errorf("%w before %s", ErrNoWindow, tick.Format(time.RFC3339))
	}
	start := s.Latest(end.Add(-time.Nanosecond))
	if start.IsZero() || start.Before(def.Start) {
		return Window{}, fmt.Errorf("%w before %s", ErrNoWindow, tick.Format(time.RFC3339))
	}
	return Window{Key: def.format(start), Start: start, End: end}, nil
}

// ExpectedPartition returns the window that must have arrived by the latest
// completed tick of deadlineCron at now.
func ExpectedPartition(deadlineCron, tz string, now time.Time, def PartitionsDef) (tick time.Time, window Window, err error) {
	tick, err = LatestCompletedTick(deadlineCron, now, tz)
	if err != nil {
		return time.Time{}, Window{}, err
	}
	window, err = PartitionWindowForTick(tick, def)
	if err != nil {
		return tick, Window{}, err
	}
	return tick, window, nil
}
