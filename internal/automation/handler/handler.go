// Package handler defines the contract between the scheduler core and the
// action implementations it dispatches to. The core is polymorphic over the
// action type; handlers are registered per type and report a uniform
// opaque-JSON result or an error.
package handler

import (
	"context"
	"encoding/json"

	"flowdesk/internal/automation"
)

// Request carries the snapshot of an automation handed to its handler.
// Config is the action-specific payload; the core never inspects it.
type Request struct {
	AutomationID string
	UserID       string
	Type         automation.ActionType
	Config       json.RawMessage
	Recipients   []automation.Recipient

	// ActingUser is the identity the action runs as (the automation owner
	// for scheduled ticks, the requesting user for manual triggers).
	ActingUser string
}

// Handler executes one action kind. Implementations may block on network
// I/O; the engine bounds each invocation with a timeout, so they must
// honor ctx cancellation.
type Handler interface {
	Execute(ctx context.Context, req Request) (json.RawMessage, error)
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, req Request) (json.RawMessage, error)

func (f Func) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}
