package timewindow

import (
	"fmt"
	"strings"
	"time"

	cronv3 "github.com/robfig/cron/v3"
)

var parser = cronv3.NewParser(cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow | cronv3.Descriptor)

// lookbacks bounds the search for the latest tick. Each step widens the
// window; a schedule with no tick in the widest window has none at all.
var lookbacks = []time.Duration{
	time.Hour,
	24 * time.Hour,
	32 * 24 * time.Hour,
	366 * 24 * time.Hour,
	5 * 366 * 24 * time.Hour,
}

// Schedule is a parsed cron expression bound to a timezone.
type Schedule struct {
	expr  string
	loc   *time.Location
	sched cronv3.Schedule
}

// ParseSchedule parses expr and loads tz. An empty tz means UTC.
func ParseSchedule(expr, tz string) (*Schedule, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, &CronError{Expr: expr, Err: fmt.Errorf("%w: empty expression", ErrInvalidCronExpression)}
	}
	if strings.HasPrefix(raw, "@every") {
		return nil, &CronError{Expr: expr, Err: fmt.Errorf("%w: @every has no fixed phase", ErrInvalidCronExpression)}
	}

	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, &CronError{Expr: expr, Timezone: tz, Err: err}
	}

	sched, err := parser.Parse(raw)
	if err != nil {
		return nil, &CronError{Expr: expr, Err: fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)}
	}
	return &Schedule{expr: raw, loc: loc, sched: sched}, nil
}

// LoadLocation resolves an IANA timezone name. Empty means UTC.
func LoadLocation(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}

// Expr returns the normalized expression.
func (s *Schedule) Expr() string {
	return s.expr
}

// Location returns the schedule's timezone.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// Next returns the first tick strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

// Latest returns the most recent tick at or before now.
// The zero time is returned when the schedule never fired in the lookback range.
func (s *Schedule) Latest(now time.Time) time.Time {
	local := now.In(s.loc)
	for _, lookback := range lookbacks {
		var last time.Time
		for cur := s.sched.Next(local.Add(-lookback)); !cur.IsZero() && !cur.After(local); cur = s.sched.Next(cur) {
			last = cur
		}
		if !last.IsZero() {
			return last
		}
	}
	return time.Time{}
}

// IsTick reports whether t falls exactly on a tick.
func (s *Schedule) IsTick(t time.Time) bool {
	return s.sched.Next(t.In(s.loc).Add(-time.Second)).Equal(t)
}

// LatestCompletedTick returns the most recent tick of expr at or before now,
// evaluated in tz.
func LatestCompletedTick(expr string, now time.Time, tz string) (time.Time, error) {
	s, err := ParseSchedule(expr, tz)
	if err != nil {
		return time.Time{}, err
	}
	tick := s.Latest(now)
	if tick.IsZero() {
		return time.Time{}, fmt.Errorf("cron %q: no tick before %s", expr, now.Format(time.RFC3339))
	}
	return tick, nil
}

// NextTick returns the first tick of expr strictly after now, evaluated in tz.
func NextTick(expr string, now time.Time, tz string) (time.Time, error) {
	s, err := ParseSchedule(expr, tz)
	if err != nil {
		return time.Time{}, err
	}
	next := s.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron %q: no tick after %s", expr, now.Format(time.RFC3339))
	}
	return next, nil
}
