package engine

import (
	"sync"
	"time"

	"flowdesk/internal/automation"
)

// Config controls tick execution.
type Config struct {
	Workers int

	// HandlerTimeout bounds a single handler invocation. 0 disables the
	// per-handler deadline.
	HandlerTimeout time.Duration

	// DispatchRatePerSec caps handler dispatches per second across a tick.
	// 0 disables rate limiting.
	DispatchRatePerSec int

	// HistorySize bounds the retained tick summaries.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HandlerTimeout < 0 {
		c.HandlerTimeout = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Outcome classifies what happened to one due automation within a tick.
type Outcome string

const (
	OutcomeSuccess       Outcome = "SUCCESS"
	OutcomeFailed        Outcome = "FAILED"
	OutcomeSkipped       Outcome = "SKIPPED"
	OutcomeCriticalError Outcome = "CRITICAL_ERROR"
)

// TickResult is the per-automation entry in a tick summary.
type TickResult struct {
	AutomationID string                `json:"automation_id"`
	Action       automation.ActionType `json:"action"`
	Outcome      Outcome               `json:"outcome"`
	Detail       string                `json:"detail,omitempty"`
	Duration     time.Duration         `json:"duration"`
}

// TickSummary reports one tick to its caller.
type TickSummary struct {
	At        time.Time    `json:"at"`
	Evaluated int          `json:"evaluated"`
	Results   []TickResult `json:"results,omitempty"`
}

// AutomationEvent is emitted on the event bus for automation lifecycle events.
type AutomationEvent struct {
	AutomationID string                `json:"automation_id"`
	Action       automation.ActionType `json:"action"`
	Outcome      Outcome               `json:"outcome,omitempty"`
	Detail       string                `json:"detail,omitempty"`
	Duration     time.Duration         `json:"duration,omitempty"`
}

// RunState tracks whether a tick is already in-flight.
// Overlapping ticks are skipped rather than queued, which prevents
// pile-ups when processing runs longer than the poll cadence.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers            int           `json:"workers"`
	HandlerTimeout     time.Duration `json:"handler_timeout"`
	DispatchRatePerSec int           `json:"dispatch_rate_per_sec"`
	InFlight           int           `json:"in_flight"`

	TicksRun  uint64 `json:"ticks_run"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Critical  uint64 `json:"critical"`

	LastTick *TickSummary `json:"last_tick,omitempty"`
}
