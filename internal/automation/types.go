package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleType selects the recurrence policy for an automation.
type ScheduleType string

const (
	ScheduleOnce       ScheduleType = "ONCE"
	ScheduleDaily      ScheduleType = "DAILY"
	ScheduleWeekly     ScheduleType = "WEEKLY"
	ScheduleMonthly    ScheduleType = "MONTHLY"
	ScheduleYearly     ScheduleType = "YEARLY"
	ScheduleInterval   ScheduleType = "INTERVAL"
	ScheduleCustomCron ScheduleType = "CUSTOM_CRON"
)

// ActionType identifies what an automation does when it fires.
// The scheduler core never interprets these; it only dispatches to the
// handler registered under the same tag.
type ActionType string

const (
	ActionEmailReminder    ActionType = "email_reminder"
	ActionTaskCreation     ActionType = "task_creation"
	ActionStatusUpdate     ActionType = "status_update"
	ActionReportGeneration ActionType = "report_generation"
	ActionClientFollowup   ActionType = "client_followup"
	ActionInvoiceReminder  ActionType = "invoice_reminder"
	ActionBackup           ActionType = "backup"
	ActionNotification     ActionType = "notification"
	ActionProjectArchive   ActionType = "project_archive"
	ActionClientCheckin    ActionType = "client_checkin"
	ActionDeadlineAlert    ActionType = "deadline_alert"
	ActionWeeklySummary    ActionType = "weekly_summary"
)

// ActionTypes lists all known action kinds in a stable order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionEmailReminder,
		ActionTaskCreation,
		ActionStatusUpdate,
		ActionReportGeneration,
		ActionClientFollowup,
		ActionInvoiceReminder,
		ActionBackup,
		ActionNotification,
		ActionProjectArchive,
		ActionClientCheckin,
		ActionDeadlineAlert,
		ActionWeeklySummary,
	}
}

// Recipient is a value object owned by an Automation; it has no
// independent lifecycle.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Kind  string `json:"kind,omitempty"` // e.g. "client", "self", "cc"
}

// Schedule holds the recurrence configuration of an automation.
//
// Which fields are required depends on Type:
//   - ONCE, DAILY: Time
//   - WEEKLY: Time + DayOfWeek
//   - MONTHLY, YEARLY: Time + DayOfMonth
//   - INTERVAL: IntervalMinutes
//   - CUSTOM_CRON: CronExpression
//
// A schedule with a missing required field yields no occurrence; the
// automation is left unscheduled rather than erroring.
type Schedule struct {
	Type ScheduleType `json:"type"`

	// Time is "HH:MM", interpreted in Timezone.
	Time string `json:"time,omitempty"`

	// DayOfMonth is 1-31. Zero means unset.
	DayOfMonth int `json:"day_of_month,omitempty"`

	// DayOfWeek is 0-6 with 0 = Sunday. Nil means unset.
	DayOfWeek *int `json:"day_of_week,omitempty"`

	IntervalMinutes int `json:"interval_minutes,omitempty"`

	// CronExpression is opaque to the recurrence engine; it is handed to
	// the injected cron evaluator as-is.
	CronExpression string `json:"cron_expression,omitempty"`

	// Timezone is the IANA zone Time is interpreted in. Empty falls back
	// to the scheduler's default zone.
	Timezone string `json:"timezone,omitempty"`
}

// Automation is a user-owned recurring action definition.
type Automation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Type       ActionType      `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Recipients []Recipient     `json:"recipients,omitempty"`

	Schedule Schedule `json:"schedule"`

	IsActive        bool       `json:"is_active"`
	LastExecutedAt  *time.Time `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`

	// Monotonic counters; never decremented except by cascade delete.
	TotalExecutions      int64 `json:"total_executions"`
	SuccessfulExecutions int64 `json:"successful_executions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecStatus is the lifecycle state of an execution record.
// RUNNING -> SUCCESS/FAILED transitions are terminal; a record is never
// mutated after CompletedAt is set.
type ExecStatus string

const (
	ExecPending   ExecStatus = "PENDING"
	ExecRunning   ExecStatus = "RUNNING"
	ExecSuccess   ExecStatus = "SUCCESS"
	ExecFailed    ExecStatus = "FAILED"
	ExecCancelled ExecStatus = "CANCELLED"
)

// Execution records one dispatch attempt of an automation.
type Execution struct {
	ID           string          `json:"id"`
	AutomationID string          `json:"automation_id"`
	Status       ExecStatus      `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Error        string          `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Valid reports whether t is one of the known schedule types.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleOnce, ScheduleDaily, ScheduleWeekly, ScheduleMonthly,
		ScheduleYearly, ScheduleInterval, ScheduleCustomCron:
		return true
	}
	return false
}

// Valid reports whether t is one of the 12 known action kinds.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Validate checks the parts of an automation the scheduler cares about.
// Schedule-parameter completeness is deliberately NOT validated here:
// an incomplete schedule is "unscheduled", not invalid.
func (a *Automation) Validate() error {
	if a == nil {
		return fmt.Errorf("automation is nil")
	}
	if strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("user_id required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if !a.Schedule.Type.Valid() {
		return fmt.Errorf("unknown schedule type %q", a.Schedule.Type)
	}
	for i, r := range a.Recipients {
		if strings.TrimSpace(r.Email) == "" {
			return fmt.Errorf("recipient[%d]: email required", i)
		}
	}
	return nil
}
