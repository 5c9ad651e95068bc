package domain

import "time"

// ExecutionEvent is a single lifecycle notification emitted during an execution
type ExecutionEvent struct {
	ExecutionID string
	ProjectName string
	Sequence    int
	Type        EventType
	Success     bool
	PhaseID     string
	TaskID      string
	SubProject  string
	Message     string
	ErrorDetail string
}

// ExecutionStatus is the read model of one execution
type ExecutionStatus struct {
	ExecutionID    string
	ProjectName    string
	TaskID         string // requested phase
	SubProject     string
	Status         RunStatus
	StartTime      time.Time
	EndTime        *time.Time
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	SkippedTasks   int
	Err            error // set when the run failed
}

// NewExecutionStatus creates a RUNNING status
func NewExecutionStatus(executionID, projectName, target string, start time.Time) *ExecutionStatus {
	return &ExecutionStatus{
		ExecutionID: executionID,
		ProjectName: projectName,
		TaskID:      target,
		Status:      RunRunning,
		StartTime:   start,
	}
}

// Finish performs the terminal transition. It fails if the status is already terminal.
func (s *ExecutionStatus) Finish(status RunStatus, at time.Time) error {
	if s.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}
	s.Status = status
	s.EndTime = &at
	return nil
}

// IsRunning returns true while no terminal transition happened
func (s *ExecutionStatus) IsRunning() bool {
	return s.Status == RunRunning
}

// IsComplete returns true once the execution reached a terminal state
func (s *ExecutionStatus) IsComplete() bool {
	return s.Status.IsTerminal()
}

// Duration returns the elapsed time; for a running execution it is measured against now
func (s *ExecutionStatus) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// EventSink receives the events of executions. Events of one execution arrive in
// generation order.
type EventSink interface {
	Emit(ev ExecutionEvent) error
}

// StatusSink is an EventSink that also wants the terminal status of each execution
type StatusSink interface {
	EventSink
	Finished(status ExecutionStatus) error
}

// EventSinkFunc adapts a function to the EventSink interface
type EventSinkFunc func(ev ExecutionEvent) error

func (f EventSinkFunc) Emit(ev ExecutionEvent) error { return f(ev) }
