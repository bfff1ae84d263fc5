package storage

// Package storage persists automations and their execution records.
//
// Two drivers are provided:
//   - "sqlite": SQLite database file (the default for deployments)
//   - "memory": in-process map store (tests, ephemeral runs)
//
// The store guarantees atomic read-then-write semantics per automation:
// ClaimDue is a compare-and-swap on next_execution_at so that concurrent
// ticks cannot dispatch the same due occurrence twice, and RecordRun
// commits the post-run automation state and the closed execution record
// in one transaction.
