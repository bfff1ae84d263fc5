package storage

import (
	"context"
	"errors"
	"time"

	"flowdesk/internal/automation"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the scheduler core.
type Store interface {
	CreateAutomation(ctx context.Context, a automation.Automation) error
	GetAutomation(ctx context.Context, id string) (automation.Automation, error)
	// ListAutomations returns automations owned by userID; empty userID
	// means all users.
	ListAutomations(ctx context.Context, userID string) ([]automation.Automation, error)
	// ListScheduled returns active automations with a non-null
	// next_execution_at. Due filtering happens in the engine against a
	// single per-tick now snapshot, not at the query layer.
	ListScheduled(ctx context.Context) ([]automation.Automation, error)
	UpdateAutomation(ctx context.Context, a automation.Automation) error
	// DeleteAutomation cascades to the automation's executions.
	DeleteAutomation(ctx context.Context, id string) error

	// ClaimDue clears next_execution_at if and only if it still equals due.
	// Returns false when another tick already claimed this occurrence.
	ClaimDue(ctx context.Context, id string, due time.Time) (bool, error)
	// Deactivate forces is_active=false, next_execution_at=null.
	// Idempotent; used by the one-shot guard's corrective cleanup.
	Deactivate(ctx context.Context, id string) error

	InsertExecution(ctx context.Context, e automation.Execution) error
	// RecordRun persists the post-run automation state and the closed
	// execution record together.
	RecordRun(ctx context.Context, a automation.Automation, e automation.Execution) error
	// ListExecutions returns up to limit execution records for an
	// automation, newest first.
	ListExecutions(ctx context.Context, automationID string, limit int) ([]automation.Execution, error)

	Close() error
}
