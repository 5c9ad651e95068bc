// Package notify tells people about finished executions through desktop
// notifications and Slack.
package notify

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title       string
	Message     string
	Type        NotificationType
	ExecutionID string // Optional execution reference
	Module      string // Optional sub-project
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped notifiers
func (m *MultiNotifier) Len() int { return len(m.notifiers) }

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// Sink notifies about terminal statuses. Events are ignored.
type Sink struct {
	notifier     Notifier
	onlyFailures bool
}

// NewSink wraps notifier as a StatusSink. With onlyFailures set, successful
// executions stay quiet.
func NewSink(notifier Notifier, onlyFailures bool) *Sink {
	return &Sink{notifier: notifier, onlyFailures: onlyFailures}
}

func (s *Sink) Emit(domain.ExecutionEvent) error { return nil }

func (s *Sink) Finished(st domain.ExecutionStatus) error {
	if s.onlyFailures && st.Status != domain.RunFailed {
		return nil
	}
	return s.notifier.Send(ForStatus(st))
}

// ForStatus builds the notification for a finished execution
func ForStatus(st domain.ExecutionStatus) Notification {
	n := Notification{ExecutionID: st.ExecutionID, Module: st.SubProject}
	if st.ProjectName != "" {
		n.Title = fmt.Sprintf("%s: %s", st.ProjectName, st.TaskID)
	} else {
		n.Title = st.TaskID
	}
	switch st.Status {
	case domain.RunCompleted:
		n.Type = NotifySuccess
		n.Message = fmt.Sprintf("completed (%d tasks, %d skipped)", st.CompletedTasks, st.SkippedTasks)
	case domain.RunFailed:
		n.Type = NotifyError
		n.Message = "failed"
		if st.Err != nil {
			n.Message = "failed: " + st.Err.Error()
		}
	default:
		n.Type = NotifyInfo
		n.Message = string(st.Status)
	}
	return n
}
