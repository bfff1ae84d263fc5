// Package service is the lifecycle and API layer over the automation
// engine. It owns the polling loop that drives ticks, maps the
// application config onto engine settings (with hot reload), and exposes
// the CRUD surface for automations: create, update, delete, reactivate
// and execution history. All next-occurrence computation for API calls
// goes through the same recurrence calculator the engine uses, so a
// freshly created automation is scheduled exactly the way a recomputed
// one is.
package service
