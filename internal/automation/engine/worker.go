package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"flowdesk/internal/automation"
	"flowdesk/internal/automation/handler"
	"flowdesk/pkg/logx"
)

// shouldSkipOnce reports whether a ONCE automation already fired within
// its current activation. The deactivation after a real run is the
// primary mechanism; this guard converts a race between the selection
// read and the deactivation write (overlapping ticks, stale
// next_execution_at) into a harmless skip instead of a duplicate dispatch.
func (e *Engine) shouldSkipOnce(a automation.Automation, now time.Time) bool {
	if a.Schedule.Type != automation.ScheduleOnce {
		return false
	}
	if a.LastExecutedAt == nil {
		return false
	}
	return now.Sub(*a.LastExecutedAt) < onceRefireWindow
}

func (e *Engine) runOne(ctx context.Context, cfg Config, a automation.Automation, now time.Time) TickResult {
	res := TickResult{AutomationID: a.ID, Action: a.Type}
	log := e.log.With(logx.String("automation", a.ID), logx.String("action", string(a.Type)))

	if e.shouldSkipOnce(a, now) {
		// Corrective cleanup; idempotent, and a no-op when already inactive.
		if a.IsActive || a.NextExecutionAt != nil {
			if err := e.store.Deactivate(ctx, a.ID); err != nil {
				log.Warn("one-shot cleanup failed", logx.Err(err))
			}
		}
		log.Debug("one-shot already fired; skipping")
		res.Outcome = OutcomeSkipped
		res.Detail = "one-shot already fired"
		e.publish("automation.skipped", now, AutomationEvent{AutomationID: a.ID, Action: a.Type, Outcome: res.Outcome, Detail: res.Detail})
		return res
	}

	// Claim this occurrence. A lost claim means a concurrent tick owns it.
	claimed, err := e.store.ClaimDue(ctx, a.ID, *a.NextExecutionAt)
	if err != nil {
		res.Outcome = OutcomeCriticalError
		res.Detail = "claim: " + err.Error()
		log.Error("claim failed", logx.Err(err))
		return res
	}
	if !claimed {
		res.Outcome = OutcomeSkipped
		res.Detail = "claimed by concurrent tick"
		log.Debug("occurrence already claimed")
		return res
	}

	exec := automation.Execution{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		Status:       automation.ExecRunning,
		StartedAt:    now,
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		res.Outcome = OutcomeCriticalError
		res.Detail = "open execution: " + err.Error()
		log.Error("execution insert failed", logx.Err(err))
		return res
	}

	if lim := e.limiterRef(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			// Tick canceled while waiting for a dispatch slot.
			return e.closeRun(ctx, log, a, exec, nil, err, res)
		}
	}

	e.publish("automation.started", now, AutomationEvent{AutomationID: a.ID, Action: a.Type})

	start := e.now()
	payload, herr := e.dispatch(ctx, cfg, a)
	res.Duration = e.now().Sub(start)

	return e.closeRun(ctx, log, a, exec, payload, herr, res)
}

// dispatch invokes the type-specific handler with the configured timeout.
// Handler panics are converted to errors so one bad action can't kill a
// tick worker.
func (e *Engine) dispatch(ctx context.Context, cfg Config, a automation.Automation) (out json.RawMessage, err error) {
	h := e.reg.Resolve(a.Type)
	if h == nil {
		return nil, fmt.Errorf("no handler registered for action %q", a.Type)
	}

	runCtx := ctx
	if cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("handler panicked", logx.String("automation", a.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	return h.Execute(runCtx, handler.Request{
		AutomationID: a.ID,
		UserID:       a.UserID,
		Type:         a.Type,
		Config:       a.Config,
		Recipients:   a.Recipients,
		ActingUser:   a.UserID,
	})
}

// closeRun finalizes the execution record and the automation's post-run
// state, and persists both together.
func (e *Engine) closeRun(ctx context.Context, log logx.Logger, a automation.Automation, exec automation.Execution, payload json.RawMessage, herr error, res TickResult) TickResult {
	finish := e.now()
	exec.CompletedAt = &finish

	a.TotalExecutions++
	a.LastExecutedAt = &finish
	if herr != nil {
		exec.Status = automation.ExecFailed
		exec.Error = herr.Error()
	} else {
		exec.Status = automation.ExecSuccess
		exec.Result = payload
		a.SuccessfulExecutions++
	}

	if a.Schedule.Type == automation.ScheduleOnce {
		// A one-shot never re-arms itself, success or failure.
		a.IsActive = false
		a.NextExecutionAt = nil
	} else if next, ok := e.calculator().Next(a.Schedule, finish, a.LastExecutedAt); ok {
		// A failed run still advances the schedule; the same occurrence is
		// never retried.
		a.NextExecutionAt = &next
	} else {
		a.NextExecutionAt = nil
		log.Warn("schedule has no further occurrence; automation left unscheduled")
	}
	a.UpdatedAt = finish

	if err := e.store.RecordRun(ctx, a, exec); err != nil {
		res.Outcome = OutcomeCriticalError
		res.Detail = "persist run: " + err.Error()
		log.Error("run persist failed", logx.Err(err))
		e.publish("automation.error", finish, AutomationEvent{AutomationID: a.ID, Action: a.Type, Outcome: res.Outcome, Detail: res.Detail})
		return res
	}

	if herr != nil {
		res.Outcome = OutcomeFailed
		res.Detail = herr.Error()
		log.Warn("automation failed", logx.Err(herr), logx.Duration("dur", res.Duration))
		e.publish("automation.failed", finish, AutomationEvent{AutomationID: a.ID, Action: a.Type, Outcome: res.Outcome, Detail: res.Detail, Duration: res.Duration})
		return res
	}

	res.Outcome = OutcomeSuccess
	log.Debug("automation succeeded", logx.Duration("dur", res.Duration))
	e.publish("automation.succeeded", finish, AutomationEvent{AutomationID: a.ID, Action: a.Type, Outcome: res.Outcome, Duration: res.Duration})
	return res
}
