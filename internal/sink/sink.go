// Package sink provides EventSink implementations: fan-out, an in-memory recorder,
// a slog adapter and a terminal renderer.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Fanout delivers every event to several sinks
type Fanout struct {
	sinks []domain.EventSink
}

// NewFanout creates a sink forwarding to all non-nil sinks
func NewFanout(sinks ...domain.EventSink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add appends a sink
func (f *Fanout) Add(s domain.EventSink) {
	if s != nil {
		f.sinks = append(f.sinks, s)
	}
}

// Emit forwards ev to every sink. A failing sink does not stop delivery to the others.
func (f *Fanout) Emit(ev domain.ExecutionEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finished forwards the terminal status to every sink that wants it
func (f *Fanout) Finished(st domain.ExecutionStatus) error {
	var errs []error
	for _, s := range f.sinks {
		if ss, ok := s.(domain.StatusSink); ok {
			if err := ss.Finished(st); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events and statuses in memory
type Recorder struct {
	mu       sync.Mutex
	events   []domain.ExecutionEvent
	statuses []domain.ExecutionStatus
}

func (r *Recorder) Emit(ev domain.ExecutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Finished(st domain.ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return nil
}

// Events returns a copy of all recorded events
func (r *Recorder) Events() []domain.ExecutionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ExecutionEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ForExecution returns the recorded events of one execution
func (r *Recorder) ForExecution(id string) []domain.ExecutionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionEvent
	for _, ev := range r.events {
		if ev.ExecutionID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Statuses returns the terminal statuses received so far
func (r *Recorder) Statuses() []domain.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ExecutionStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

// Slog writes events to a structured logger
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a sink logging to logger
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger.With("component", "events")}
}

func (s *Slog) Emit(ev domain.ExecutionEvent) error {
	level := slog.LevelInfo
	switch ev.Type {
	case domain.EventFailed:
		level = slog.LevelError
	case domain.EventOutput, domain.EventUpdated:
		level = slog.LevelDebug
	}
	attrs := []any{
		"execution", ev.ExecutionID,
		"seq", ev.Sequence,
		"type", ev.Type,
	}
	if ev.PhaseID != "" {
		attrs = append(attrs, "phase", ev.PhaseID)
	}
	if ev.TaskID != "" {
		attrs = append(attrs, "task", ev.TaskID)
	}
	if ev.SubProject != "" {
		attrs = append(attrs, "module", ev.SubProject)
	}
	if ev.ErrorDetail != "" {
		attrs = append(attrs, "detail", ev.ErrorDetail)
	}
	s.logger.Log(context.Background(), level, ev.Message, attrs...)
	return nil
}

func (s *Slog) Finished(st domain.ExecutionStatus) error {
	attrs := []any{
		"execution", st.ExecutionID,
		"status", st.Status,
		"total", st.TotalTasks,
		"completed", st.CompletedTasks,
		"failed", st.FailedTasks,
		"skipped", st.SkippedTasks,
	}
	if st.Err != nil {
		s.logger.Error("execution finished", append(attrs, "error", st.Err)...)
		return nil
	}
	s.logger.Info("execution finished", attrs...)
	return nil
}
