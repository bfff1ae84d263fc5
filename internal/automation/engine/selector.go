package engine

import (
	"time"

	"flowdesk/internal/automation"
)

// selectDue filters the scheduled set down to automations whose due time
// has passed. The comparison runs in application logic against the single
// per-tick now snapshot: some backing stores compare timezone-aware
// timestamps unreliably at the query layer, and re-reading the clock per
// automation would give different automations a different notion of
// "due" within one tick.
func selectDue(scheduled []automation.Automation, now time.Time) []automation.Automation {
	var due []automation.Automation
	for _, a := range scheduled {
		if !a.IsActive || a.NextExecutionAt == nil {
			continue
		}
		if a.NextExecutionAt.After(now) {
			continue
		}
		due = append(due, a)
	}
	return due
}
