// Package engine evaluates and executes due automations.
//
// # Tick model
//
// The engine runs as a sequence of discrete ticks. Each tick takes one
// authoritative now snapshot, selects the due set in application logic,
// and processes due automations on a small worker pool. Ticks are
// mutually excluded: a tick that starts while another is still running
// is skipped, and per-automation compare-and-swap claims in storage make
// a racing tick harmless regardless.
//
// # One-shot safety
//
// ONCE automations are deactivated after every run, success or failure.
// On top of that, a 24-hour re-fire guard skips (and corrects) a
// one-shot that re-surfaces through a stale next_execution_at, so the
// handler runs at most once per activation cycle.
//
// # Failure isolation
//
// Handler errors, timeouts, and panics are captured per automation and
// recorded on the execution record; they never abort the tick. A failed
// run still advances the schedule - there is no automatic retry of the
// same occurrence.
package engine
