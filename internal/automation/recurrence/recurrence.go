package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"flowdesk/internal/automation"
)

// onceGrace is the window after a ONCE automation's nominal time during
// which a late tick still fires immediately instead of rolling to tomorrow.
const onceGrace = 5 * time.Minute

// Calculator computes next due times for automation schedules.
//
// CronEval handles CUSTOM_CRON expressions; if nil, CUSTOM_CRON schedules
// yield no occurrence. DefaultLocation is used for schedules without their
// own timezone; if nil, time.Local applies.
type Calculator struct {
	CronEval        CronEvaluator
	DefaultLocation *time.Location
}

// Next returns the next due instant strictly relative to now, and whether
// one exists. A schedule missing a required parameter yields (zero, false);
// callers must treat that as "leave unscheduled", not as an error.
//
// lastExecutedAt matters only for ONCE: a one-shot that has already fired
// in its current activation has no further occurrence until the user
// reactivates it (which clears lastExecutedAt).
func (c Calculator) Next(s automation.Schedule, now time.Time, lastExecutedAt *time.Time) (time.Time, bool) {
	loc := c.location(s)
	local := now.In(loc)

	switch s.Type {
	case automation.ScheduleOnce:
		if lastExecutedAt != nil {
			return time.Time{}, false
		}
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, false
		}
		candidate := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
		if now.After(candidate) {
			if now.Sub(candidate) <= onceGrace {
				// Near-miss tick: fire immediately rather than skip to tomorrow.
				return now, true
			}
			return candidate.AddDate(0, 0, 1), true
		}
		return candidate, true

	case automation.ScheduleDaily:
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, false
		}
		candidate := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, true

	case automation.ScheduleWeekly:
		if s.DayOfWeek == nil || *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return time.Time{}, false
		}
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, false
		}
		days := (*s.DayOfWeek - int(local.Weekday()) + 7) % 7
		candidate := time.Date(local.Year(), local.Month(), local.Day()+days, h, m, 0, 0, loc)
		if !candidate.After(now) {
			// Always recompute from the configured weekday, so a delayed or
			// skipped run cannot drift the schedule off its nominal day.
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate, true

	case automation.ScheduleMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return time.Time{}, false
		}
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, false
		}
		candidate := dayOfMonthClamped(local.Year(), local.Month(), s.DayOfMonth, h, m, loc)
		if !candidate.After(now) {
			candidate = dayOfMonthClamped(local.Year(), local.Month()+1, s.DayOfMonth, h, m, loc)
		}
		return candidate, true

	case automation.ScheduleYearly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return time.Time{}, false
		}
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, false
		}
		candidate := dayOfMonthClamped(local.Year(), local.Month(), s.DayOfMonth, h, m, loc)
		if !candidate.After(now) {
			candidate = dayOfMonthClamped(local.Year()+1, local.Month(), s.DayOfMonth, h, m, loc)
		}
		return candidate, true

	case automation.ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return time.Time{}, false
		}
		// Rolling interval measured from execution time, not a fixed anchor.
		return now.Add(time.Duration(s.IntervalMinutes) * time.Minute), true

	case automation.ScheduleCustomCron:
		if c.CronEval == nil || strings.TrimSpace(s.CronExpression) == "" {
			return time.Time{}, false
		}
		return c.CronEval.Next(s.CronExpression, local)

	default:
		return time.Time{}, false
	}
}

// dayOfMonthClamped builds the schedule's instant in the given month,
// clamping a day past the month's end to its last day. DayOfMonth=31 fires
// on Feb 28 (29 in leap years) instead of normalizing into March. The month
// may exceed December; time.Date rolls it into the following year.
func dayOfMonthClamped(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day(); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func (c Calculator) location(s automation.Schedule) *time.Location {
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if c.DefaultLocation != nil {
		return c.DefaultLocation
	}
	return time.Local
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
