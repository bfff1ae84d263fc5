package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"flowdesk/internal/automation"
)

// Memory is an in-process Store used for tests and ephemeral runs.
// It mirrors the sqlite store's semantics, including the ClaimDue CAS.
type Memory struct {
	mu    sync.Mutex
	autos map[string]automation.Automation
	execs map[string][]automation.Execution // keyed by automation id
}

func NewMemory() *Memory {
	return &Memory{
		autos: map[string]automation.Automation{},
		execs: map[string][]automation.Execution{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateAutomation(_ context.Context, a automation.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autos[a.ID] = cloneAutomation(a)
	return nil
}

func (m *Memory) GetAutomation(_ context.Context, id string) (automation.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.autos[id]
	if !ok {
		return automation.Automation{}, ErrNotFound
	}
	return cloneAutomation(a), nil
}

func (m *Memory) ListAutomations(_ context.Context, userID string) ([]automation.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []automation.Automation
	for _, a := range m.autos {
		if userID != "" && a.UserID != userID {
			continue
		}
		out = append(out, cloneAutomation(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListScheduled(_ context.Context) ([]automation.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []automation.Automation
	for _, a := range m.autos {
		if a.IsActive && a.NextExecutionAt != nil {
			out = append(out, cloneAutomation(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecutionAt.Before(*out[j].NextExecutionAt) })
	return out, nil
}

func (m *Memory) UpdateAutomation(_ context.Context, a automation.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autos[a.ID]; !ok {
		return ErrNotFound
	}
	m.autos[a.ID] = cloneAutomation(a)
	return nil
}

func (m *Memory) DeleteAutomation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autos[id]; !ok {
		return ErrNotFound
	}
	delete(m.autos, id)
	delete(m.execs, id) // cascade
	return nil
}

func (m *Memory) ClaimDue(_ context.Context, id string, due time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.autos[id]
	if !ok || a.NextExecutionAt == nil || !a.NextExecutionAt.Equal(due) {
		return false, nil
	}
	a.NextExecutionAt = nil
	a.UpdatedAt = time.Now()
	m.autos[id] = a
	return true, nil
}

func (m *Memory) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.autos[id]
	if !ok {
		return nil
	}
	a.IsActive = false
	a.NextExecutionAt = nil
	a.UpdatedAt = time.Now()
	m.autos[id] = a
	return nil
}

func (m *Memory) InsertExecution(_ context.Context, e automation.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[e.AutomationID] = append(m.execs[e.AutomationID], e)
	return nil
}

func (m *Memory) RecordRun(_ context.Context, a automation.Automation, e automation.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autos[a.ID]; !ok {
		return ErrNotFound
	}
	m.autos[a.ID] = cloneAutomation(a)
	list := m.execs[e.AutomationID]
	for i := range list {
		if list[i].ID == e.ID {
			list[i] = e
			return nil
		}
	}
	m.execs[e.AutomationID] = append(list, e)
	return nil
}

func (m *Memory) ListExecutions(_ context.Context, automationID string, limit int) ([]automation.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	list := m.execs[automationID]
	out := make([]automation.Execution, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneAutomation(a automation.Automation) automation.Automation {
	cp := a
	if a.LastExecutedAt != nil {
		t := *a.LastExecutedAt
		cp.LastExecutedAt = &t
	}
	if a.NextExecutionAt != nil {
		t := *a.NextExecutionAt
		cp.NextExecutionAt = &t
	}
	if a.Schedule.DayOfWeek != nil {
		d := *a.Schedule.DayOfWeek
		cp.Schedule.DayOfWeek = &d
	}
	if len(a.Recipients) > 0 {
		cp.Recipients = append([]automation.Recipient(nil), a.Recipients...)
	}
	return cp
}
