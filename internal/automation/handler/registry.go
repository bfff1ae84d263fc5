package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"flowdesk/internal/automation"
	"flowdesk/pkg/logx"
)

// Registry maps action types to their handlers.
// Registration is expected at wiring time; Resolve is safe for concurrent
// use during ticks.
type Registry struct {
	mu sync.RWMutex
	m  map[automation.ActionType]Handler
}

func NewRegistry() *Registry {
	return &Registry{m: map[automation.ActionType]Handler{}}
}

// Register installs h for t, replacing any previous handler.
func (r *Registry) Register(t automation.ActionType, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("unknown action type %q", t)
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", t)
	}
	r.mu.Lock()
	r.m[t] = h
	r.mu.Unlock()
	return nil
}

// Resolve returns the handler for t, or nil if none is registered.
func (r *Registry) Resolve(t automation.ActionType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[t]
}

// Types returns the action types with a registered handler.
func (r *Registry) Types() []automation.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]automation.ActionType, 0, len(r.m))
	for _, t := range automation.ActionTypes() {
		if _, ok := r.m[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// RegisterLogging installs a logging handler for every known action type.
// It is the default wiring for deployments where the real action
// implementations (mailer, task service, ...) are attached elsewhere.
func RegisterLogging(r *Registry, log logx.Logger) {
	for _, t := range automation.ActionTypes() {
		t := t
		_ = r.Register(t, Func(func(ctx context.Context, req Request) (json.RawMessage, error) {
			log.Info("automation action dispatched",
				logx.String("action", string(t)),
				logx.String("automation", req.AutomationID),
				logx.Int("recipients", len(req.Recipients)),
			)
			return json.Marshal(map[string]any{
				"action":     t,
				"recipients": len(req.Recipients),
			})
		}))
	}
}
