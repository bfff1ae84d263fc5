package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"flowdesk/internal/automation"
	"flowdesk/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "flowdesk.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleAutomation(id string, next time.Time) automation.Automation {
	dow := 1
	return automation.Automation{
		ID:     id,
		UserID: "u1",
		Type:   automation.ActionClientFollowup,
		Config: []byte(`{"template":"gentle-nudge"}`),
		Recipients: []automation.Recipient{
			{Email: "client@example.com", Name: "Client", Kind: "client"},
		},
		Schedule: automation.Schedule{
			Type:      automation.ScheduleWeekly,
			Time:      "09:30",
			DayOfWeek: &dow,
			Timezone:  "Europe/Berlin",
		},
		IsActive:        true,
		NextExecutionAt: &next,
		CreatedAt:       next.Add(-24 * time.Hour),
		UpdatedAt:       next.Add(-24 * time.Hour),
	}
}

func TestSQLiteAutomationRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	want := sampleAutomation("a1", next)
	if err := st.CreateAutomation(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetAutomation(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != want.UserID || got.Type != want.Type {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Schedule.Type != automation.ScheduleWeekly || got.Schedule.Time != "09:30" {
		t.Errorf("schedule mismatch: %+v", got.Schedule)
	}
	if got.Schedule.DayOfWeek == nil || *got.Schedule.DayOfWeek != 1 {
		t.Errorf("day_of_week = %v", got.Schedule.DayOfWeek)
	}
	if len(got.Recipients) != 1 || got.Recipients[0].Email != "client@example.com" {
		t.Errorf("recipients = %+v", got.Recipients)
	}
	if got.NextExecutionAt == nil || !got.NextExecutionAt.Equal(next) {
		t.Errorf("next = %v, want %v", got.NextExecutionAt, next)
	}
	if string(got.Config) != `{"template":"gentle-nudge"}` {
		t.Errorf("config = %s", got.Config)
	}

	if _, err := st.GetAutomation(ctx, "missing"); err != ErrNotFound {
		t.Errorf("missing get err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListScheduled(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	_ = st.CreateAutomation(ctx, sampleAutomation("due", next))

	inactive := sampleAutomation("inactive", next)
	inactive.IsActive = false
	inactive.NextExecutionAt = nil
	_ = st.CreateAutomation(ctx, inactive)

	unscheduled := sampleAutomation("unscheduled", next)
	unscheduled.NextExecutionAt = nil
	_ = st.CreateAutomation(ctx, unscheduled)

	got, err := st.ListScheduled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "due" {
		t.Fatalf("scheduled = %+v", got)
	}
}

func TestSQLiteClaimDue(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	_ = st.CreateAutomation(ctx, sampleAutomation("a1", next))

	claimed, err := st.ClaimDue(ctx, "a1", next)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim must succeed")
	}

	got, _ := st.GetAutomation(ctx, "a1")
	if got.NextExecutionAt != nil {
		t.Error("claim must clear next_execution_at")
	}

	claimed, err = st.ClaimDue(ctx, "a1", next)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("second claim of the same occurrence must lose")
	}
}

func TestSQLiteRecordRunAndHistory(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	a := sampleAutomation("a1", start)
	_ = st.CreateAutomation(ctx, a)

	exec := automation.Execution{
		ID:           "e1",
		AutomationID: "a1",
		Status:       automation.ExecRunning,
		StartedAt:    start,
	}
	if err := st.InsertExecution(ctx, exec); err != nil {
		t.Fatal(err)
	}

	finish := start.Add(3 * time.Second)
	exec.Status = automation.ExecSuccess
	exec.CompletedAt = &finish
	exec.Result = []byte(`{"sent":1}`)

	a.LastExecutedAt = &finish
	nextWeek := start.AddDate(0, 0, 7)
	a.NextExecutionAt = &nextWeek
	a.TotalExecutions = 1
	a.SuccessfulExecutions = 1
	a.UpdatedAt = finish
	if err := st.RecordRun(ctx, a, exec); err != nil {
		t.Fatal(err)
	}

	got, _ := st.GetAutomation(ctx, "a1")
	if got.TotalExecutions != 1 || got.SuccessfulExecutions != 1 {
		t.Errorf("counters = %d/%d", got.TotalExecutions, got.SuccessfulExecutions)
	}
	if got.NextExecutionAt == nil || !got.NextExecutionAt.Equal(nextWeek) {
		t.Errorf("next = %v, want %v", got.NextExecutionAt, nextWeek)
	}

	// Second, failed run.
	exec2 := automation.Execution{
		ID:           "e2",
		AutomationID: "a1",
		Status:       automation.ExecRunning,
		StartedAt:    finish.Add(time.Hour),
	}
	_ = st.InsertExecution(ctx, exec2)
	done2 := finish.Add(time.Hour + time.Second)
	exec2.Status = automation.ExecFailed
	exec2.CompletedAt = &done2
	exec2.Error = "smtp: connection refused"
	a.TotalExecutions = 2
	if err := st.RecordRun(ctx, a, exec2); err != nil {
		t.Fatal(err)
	}

	hist, err := st.ListExecutions(ctx, "a1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	if hist[0].ID != "e2" || hist[1].ID != "e1" {
		t.Errorf("history order = %s, %s (want newest first)", hist[0].ID, hist[1].ID)
	}
	if hist[0].Error != "smtp: connection refused" {
		t.Errorf("error = %q", hist[0].Error)
	}
	if string(hist[1].Result) != `{"sent":1}` {
		t.Errorf("result = %s", hist[1].Result)
	}

	limited, _ := st.ListExecutions(ctx, "a1", 1)
	if len(limited) != 1 || limited[0].ID != "e2" {
		t.Errorf("limited history = %+v", limited)
	}
}

func TestSQLiteHistoryOrdersSubsecondStarts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	_ = st.CreateAutomation(ctx, sampleAutomation("a1", base))

	// Same second, fractions of different written width. A
	// trimmed-zero encoding would sort .1 after .12 bytewise.
	starts := []struct {
		id string
		ns int
	}{
		{"e-mid", 120_000_000},
		{"e-old", 100_000_000},
		{"e-new", 200_000_000},
	}
	for _, s := range starts {
		err := st.InsertExecution(ctx, automation.Execution{
			ID:           s.id,
			AutomationID: "a1",
			Status:       automation.ExecRunning,
			StartedAt:    base.Add(time.Duration(s.ns)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	hist, err := st.ListExecutions(ctx, "a1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	for i, want := range []string{"e-new", "e-mid", "e-old"} {
		if hist[i].ID != want {
			t.Fatalf("history[%d] = %s, want %s (newest first)", i, hist[i].ID, want)
		}
	}
}

func TestSQLiteDeleteCascades(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	_ = st.CreateAutomation(ctx, sampleAutomation("a1", start))
	_ = st.InsertExecution(ctx, automation.Execution{
		ID:           "e1",
		AutomationID: "a1",
		Status:       automation.ExecRunning,
		StartedAt:    start,
	})

	if err := st.DeleteAutomation(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetAutomation(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("get err = %v, want ErrNotFound", err)
	}
	hist, err := st.ListExecutions(ctx, "a1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Fatalf("executions survived the cascade: %+v", hist)
	}

	if err := st.DeleteAutomation(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDeactivateIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	_ = st.CreateAutomation(ctx, sampleAutomation("a1", next))

	for i := 0; i < 2; i++ {
		if err := st.Deactivate(ctx, "a1"); err != nil {
			t.Fatalf("deactivate #%d: %v", i+1, err)
		}
	}
	got, _ := st.GetAutomation(ctx, "a1")
	if got.IsActive || got.NextExecutionAt != nil {
		t.Errorf("after deactivate: %+v", got)
	}
}
