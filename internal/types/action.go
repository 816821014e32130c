package types

import "time"

// ActionStatus is the outcome reported for one action execution.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success" // Process exited 0
	ActionError   ActionStatus = "error"   // Spawn failure, non-zero exit or timeout
)

// Valid returns true if this is a recognized action status.
func (s ActionStatus) Valid() bool {
	return s == ActionSuccess || s == ActionError
}

// ActionResult is the transient result of running one action.
// Outputs holds the decoded JSON document printed on stdout, or the raw
// text when stdout was not JSON.
type ActionResult struct {
	Status       ActionStatus
	Outputs      any
	ErrorMessage string

	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}
