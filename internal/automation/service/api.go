package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"flowdesk/internal/automation"
	"flowdesk/internal/automation/engine"
	"flowdesk/pkg/logx"
)

// Create registers a new automation. It is stored active with its first
// occurrence computed immediately, so the next tick can pick it up
// without any warm-up pass.
func (s *Service) Create(ctx context.Context, a automation.Automation) (automation.Automation, error) {
	if err := a.Validate(); err != nil {
		return automation.Automation{}, err
	}
	now := s.now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.IsActive = true
	a.LastExecutedAt = nil
	a.TotalExecutions = 0
	a.SuccessfulExecutions = 0
	a.CreatedAt = now
	a.UpdatedAt = now
	a.NextExecutionAt = s.computeNext(a, now)

	if err := s.store.CreateAutomation(ctx, a); err != nil {
		return automation.Automation{}, err
	}
	s.log.Info("automation created",
		logx.String("automation_id", a.ID),
		logx.String("type", string(a.Type)),
		logx.String("schedule", string(a.Schedule.Type)),
	)
	return a, nil
}

// Update replaces an automation's definition. Lifetime fields (created
// timestamp, counters, last execution) survive the update; the next
// occurrence is recomputed from the new schedule.
func (s *Service) Update(ctx context.Context, a automation.Automation) (automation.Automation, error) {
	if err := a.Validate(); err != nil {
		return automation.Automation{}, err
	}
	cur, err := s.store.GetAutomation(ctx, a.ID)
	if err != nil {
		return automation.Automation{}, err
	}
	now := s.now()
	a.CreatedAt = cur.CreatedAt
	a.TotalExecutions = cur.TotalExecutions
	a.SuccessfulExecutions = cur.SuccessfulExecutions
	a.LastExecutedAt = cur.LastExecutedAt
	a.UpdatedAt = now
	if a.IsActive {
		a.NextExecutionAt = s.computeNext(a, now)
	} else {
		a.NextExecutionAt = nil
	}
	if err := s.store.UpdateAutomation(ctx, a); err != nil {
		return automation.Automation{}, err
	}
	return a, nil
}

// Get returns a single automation.
func (s *Service) Get(ctx context.Context, id string) (automation.Automation, error) {
	return s.store.GetAutomation(ctx, id)
}

// List returns a user's automations; empty userID means all.
func (s *Service) List(ctx context.Context, userID string) ([]automation.Automation, error) {
	return s.store.ListAutomations(ctx, userID)
}

// Delete removes an automation together with its execution history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAutomation(ctx, id); err != nil {
		return err
	}
	s.log.Info("automation deleted", logx.String("automation_id", id))
	return nil
}

// Deactivate turns an automation off without touching its definition,
// counters or history.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if _, err := s.store.GetAutomation(ctx, id); err != nil {
		return err
	}
	return s.store.Deactivate(ctx, id)
}

// Reactivate turns an automation back on. The last-execution marker is
// cleared so a one-shot schedule computes a fresh occurrence; lifetime
// counters are preserved.
func (s *Service) Reactivate(ctx context.Context, id string) (automation.Automation, error) {
	a, err := s.store.GetAutomation(ctx, id)
	if err != nil {
		return automation.Automation{}, err
	}
	now := s.now()
	a.IsActive = true
	a.LastExecutedAt = nil
	a.UpdatedAt = now
	a.NextExecutionAt = s.computeNext(a, now)
	if err := s.store.UpdateAutomation(ctx, a); err != nil {
		return automation.Automation{}, err
	}
	s.log.Info("automation reactivated",
		logx.String("automation_id", id),
		logx.Time("next_execution_at", derefTime(a.NextExecutionAt)),
	)
	return a, nil
}

// History returns up to limit execution records, newest first.
func (s *Service) History(ctx context.Context, automationID string, limit int) ([]automation.Execution, error) {
	if _, err := s.store.GetAutomation(ctx, automationID); err != nil {
		return nil, err
	}
	return s.store.ListExecutions(ctx, automationID, limit)
}

// TriggerTick runs one tick immediately, outside the polling cadence.
func (s *Service) TriggerTick(ctx context.Context) (engine.TickSummary, error) {
	return s.eng.RunTick(ctx)
}

// TickHistory returns recent tick summaries, oldest first.
func (s *Service) TickHistory() []engine.TickSummary {
	return s.eng.History()
}

func (s *Service) computeNext(a automation.Automation, now time.Time) *time.Time {
	next, ok := s.calculator().Next(a.Schedule, now, a.LastExecutedAt)
	if !ok {
		s.log.Warn("schedule yields no occurrence",
			logx.String("automation_id", a.ID),
			logx.String("schedule", string(a.Schedule.Type)),
		)
		return nil
	}
	return &next
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
