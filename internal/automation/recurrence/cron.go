package recurrence

import (
	"time"

	"github.com/robfig/cron/v3"
)

// CronEvaluator resolves a CUSTOM_CRON expression to its next occurrence
// strictly after now. Implementations must be safe for concurrent use.
type CronEvaluator interface {
	Next(expression string, now time.Time) (time.Time, bool)
}

// StandardCron evaluates expressions with robfig/cron's standard 5-field
// parser plus descriptors ("@daily", "@every 2h", ...).
type StandardCron struct {
	parser cron.Parser
}

func NewStandardCron() *StandardCron {
	return &StandardCron{
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (e *StandardCron) Next(expression string, now time.Time) (time.Time, bool) {
	sched, err := e.parser.Parse(expression)
	if err != nil {
		return time.Time{}, false
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
