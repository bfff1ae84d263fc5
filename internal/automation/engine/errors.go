package engine

import "errors"

var (
	// ErrTickInProgress is returned when a tick fires while the previous
	// one is still processing.
	ErrTickInProgress = errors.New("tick already in progress")
)
