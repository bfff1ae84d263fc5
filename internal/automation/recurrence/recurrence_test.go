package recurrence

import (
	"testing"
	"time"

	"flowdesk/internal/automation"
)

func utcCalc() Calculator {
	return Calculator{CronEval: NewStandardCron(), DefaultLocation: time.UTC}
}

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func TestNextOnceGraceWindow(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	sched := automation.Schedule{Type: automation.ScheduleOnce, Time: "09:00", Timezone: "UTC"}

	// Within the 5-minute grace window: fire immediately.
	now := at(2026, time.March, 10, 9, 2)
	next, ok := calc.Next(sched, now, nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if !next.Equal(now) {
		t.Fatalf("next = %v, want now (%v)", next, now)
	}

	// Past the grace window: roll to tomorrow 09:00.
	now = at(2026, time.March, 10, 9, 10)
	next, ok = calc.Next(sched, now, nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	want := at(2026, time.March, 11, 9, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Before the nominal time: today 09:00 unchanged.
	now = at(2026, time.March, 10, 7, 30)
	next, _ = calc.Next(sched, now, nil)
	want = at(2026, time.March, 10, 9, 0)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOnceAlreadyExecuted(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	sched := automation.Schedule{Type: automation.ScheduleOnce, Time: "09:00", Timezone: "UTC"}
	last := at(2026, time.March, 10, 9, 0)

	if _, ok := calc.Next(sched, at(2026, time.March, 10, 10, 0), &last); ok {
		t.Fatal("a fired one-shot must have no further occurrence")
	}
}

func TestNextDaily(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	sched := automation.Schedule{Type: automation.ScheduleDaily, Time: "08:00", Timezone: "UTC"}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "before", now: at(2026, time.May, 4, 6, 0), want: at(2026, time.May, 4, 8, 0)},
		{name: "exactly at", now: at(2026, time.May, 4, 8, 0), want: at(2026, time.May, 5, 8, 0)},
		{name: "after", now: at(2026, time.May, 4, 8, 1), want: at(2026, time.May, 5, 8, 0)},
		{name: "month rollover", now: at(2026, time.May, 31, 9, 0), want: at(2026, time.June, 1, 8, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			next, ok := calc.Next(sched, tt.now, nil)
			if !ok {
				t.Fatal("expected an occurrence")
			}
			if !next.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextWeekly(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	// 2026-05-04 is a Monday.
	sched := automation.Schedule{
		Type:      automation.ScheduleWeekly,
		Time:      "10:00",
		DayOfWeek: intPtr(3), // Wednesday
		Timezone:  "UTC",
	}

	// Two days ahead this week.
	next, ok := calc.Next(sched, at(2026, time.May, 4, 12, 0), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(2026, time.May, 6, 10, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// On the configured day but past the time: next week, never today.
	next, _ = calc.Next(sched, at(2026, time.May, 6, 10, 0), nil)
	if want := at(2026, time.May, 13, 10, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Recompute after a delayed run lands back on the configured weekday,
	// not a fixed +7d from the delayed instant.
	next, _ = calc.Next(sched, at(2026, time.May, 7, 3, 0), nil) // Thursday
	if want := at(2026, time.May, 13, 10, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextMonthlyAndYearly(t *testing.T) {
	t.Parallel()
	calc := utcCalc()

	monthly := automation.Schedule{Type: automation.ScheduleMonthly, Time: "09:30", DayOfMonth: 15, Timezone: "UTC"}
	next, ok := calc.Next(monthly, at(2026, time.January, 20, 0, 0), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(2026, time.February, 15, 9, 30); !next.Equal(want) {
		t.Fatalf("monthly next = %v, want %v", next, want)
	}

	next, _ = calc.Next(monthly, at(2026, time.January, 2, 0, 0), nil)
	if want := at(2026, time.January, 15, 9, 30); !next.Equal(want) {
		t.Fatalf("monthly next = %v, want %v", next, want)
	}

	yearly := automation.Schedule{Type: automation.ScheduleYearly, Time: "00:00", DayOfMonth: 1, Timezone: "UTC"}
	next, ok = calc.Next(yearly, at(2026, time.June, 1, 12, 0), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(2027, time.June, 1, 0, 0); !next.Equal(want) {
		t.Fatalf("yearly next = %v, want %v", next, want)
	}
}

func TestNextMonthlyClampsShortMonths(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	monthly := automation.Schedule{Type: automation.ScheduleMonthly, Time: "09:00", DayOfMonth: 31, Timezone: "UTC"}

	// Rolling out of January lands on February's last day, not on a
	// normalized date in March.
	next, ok := calc.Next(monthly, at(2026, time.January, 31, 9, 0), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(2026, time.February, 28, 9, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Leap year keeps the 29th.
	next, _ = calc.Next(monthly, at(2028, time.January, 31, 9, 0), nil)
	if want := at(2028, time.February, 29, 9, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Months that have the day are untouched.
	next, _ = calc.Next(monthly, at(2026, time.March, 1, 0, 0), nil)
	if want := at(2026, time.March, 31, 9, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Yearly clamps the same way.
	yearly := automation.Schedule{Type: automation.ScheduleYearly, Time: "08:00", DayOfMonth: 30, Timezone: "UTC"}
	next, _ = calc.Next(yearly, at(2026, time.February, 10, 0, 0), nil)
	if want := at(2026, time.February, 28, 8, 0); !next.Equal(want) {
		t.Fatalf("yearly next = %v, want %v", next, want)
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	sched := automation.Schedule{Type: automation.ScheduleInterval, IntervalMinutes: 45}

	now := at(2026, time.May, 4, 6, 0)
	next, ok := calc.Next(sched, now, nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := now.Add(45 * time.Minute); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextCustomCron(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	sched := automation.Schedule{Type: automation.ScheduleCustomCron, CronExpression: "0 12 * * *", Timezone: "UTC"}

	next, ok := calc.Next(sched, at(2026, time.May, 4, 13, 0), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(2026, time.May, 5, 12, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// No evaluator wired: no occurrence, not an error.
	bare := Calculator{DefaultLocation: time.UTC}
	if _, ok := bare.Next(sched, at(2026, time.May, 4, 13, 0), nil); ok {
		t.Fatal("expected no occurrence without a cron evaluator")
	}
}

func TestNextMissingParameters(t *testing.T) {
	t.Parallel()
	calc := utcCalc()
	now := at(2026, time.May, 4, 6, 0)

	tests := []struct {
		name  string
		sched automation.Schedule
	}{
		{name: "daily without time", sched: automation.Schedule{Type: automation.ScheduleDaily}},
		{name: "daily bad time", sched: automation.Schedule{Type: automation.ScheduleDaily, Time: "25:99"}},
		{name: "weekly without day", sched: automation.Schedule{Type: automation.ScheduleWeekly, Time: "10:00"}},
		{name: "weekly day out of range", sched: automation.Schedule{Type: automation.ScheduleWeekly, Time: "10:00", DayOfWeek: intPtr(7)}},
		{name: "monthly without day", sched: automation.Schedule{Type: automation.ScheduleMonthly, Time: "10:00"}},
		{name: "interval zero", sched: automation.Schedule{Type: automation.ScheduleInterval}},
		{name: "cron empty", sched: automation.Schedule{Type: automation.ScheduleCustomCron}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := calc.Next(tt.sched, now, nil); ok {
				t.Fatalf("expected no occurrence for %s", tt.name)
			}
		})
	}
}

// Applying Next to its own result must always advance strictly, for every
// recurring policy. A non-advancing schedule would re-fire the same
// occurrence forever.
func TestNextStrictlyAdvances(t *testing.T) {
	t.Parallel()
	calc := utcCalc()

	scheds := []automation.Schedule{
		{Type: automation.ScheduleDaily, Time: "08:00", Timezone: "UTC"},
		{Type: automation.ScheduleWeekly, Time: "10:00", DayOfWeek: intPtr(0), Timezone: "UTC"},
		{Type: automation.ScheduleMonthly, Time: "09:30", DayOfMonth: 31, Timezone: "UTC"},
		{Type: automation.ScheduleYearly, Time: "00:00", DayOfMonth: 29, Timezone: "UTC"},
		{Type: automation.ScheduleInterval, IntervalMinutes: 1},
	}
	for _, sched := range scheds {
		now := at(2026, time.January, 31, 8, 0)
		for i := 0; i < 24; i++ {
			next, ok := calc.Next(sched, now, nil)
			if !ok {
				t.Fatalf("%s: expected an occurrence", sched.Type)
			}
			if !next.After(now) {
				t.Fatalf("%s: next %v does not advance past %v", sched.Type, next, now)
			}
			now = next
		}
	}
}
