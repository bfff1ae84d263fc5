// Package recurrence computes the next due time for an automation
// schedule. The calculator is pure: the current instant is always passed
// in, never read from the wall clock, so every policy is testable with a
// fixed "now".
package recurrence
