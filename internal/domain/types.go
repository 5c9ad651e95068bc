package domain

// Outcome is the result of a single task invocation
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// EventType identifies a lifecycle notification emitted during an execution
type EventType string

const (
	EventStarted   EventType = "STARTED"
	EventUpdated   EventType = "UPDATED"
	EventCompleted EventType = "COMPLETED"
	EventFailed    EventType = "FAILED"
	EventSkipped   EventType = "SKIPPED"
	EventOutput    EventType = "OUTPUT"
)

// RunStatus represents the state of an execution
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Family groups phases. The set is open: plugins may introduce their own.
type Family string

const (
	FamilyGeneric Family = "generic"
	FamilyCode    Family = "code"
	FamilyHook    Family = "hook"
)
