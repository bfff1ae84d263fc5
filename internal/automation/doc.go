// Package automation defines the domain model for flowdesk's recurring
// automations: the automation definition itself, its schedule, its
// recipients, and the execution records produced by each dispatch.
//
// The scheduler treats the action-specific Config and Conditions payloads
// as opaque JSON; only the handler registered for the automation's
// ActionType interprets them.
package automation
