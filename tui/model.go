// Package tui renders a live view of running executions.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/engine"
)

// Tab selects the detail pane
type Tab int

const (
	TabTasks Tab = iota
	TabOutput
)

// TaskState is the display state of one planned task
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskDone
	TaskFailed
	TaskSkipped
)

// TaskRow is one task line of an execution
type TaskRow struct {
	Phase   string
	ID      string
	State   TaskState
	Message string
	Started time.Time
}

// ExecutionView tracks one execution as its events arrive
type ExecutionView struct {
	ID      string
	Label   string
	Phase   string // phase being executed
	Tasks   []*TaskRow
	Output  []string
	Status  *domain.ExecutionStatus
	Failure string
}

// Model is the TUI application model
type Model struct {
	// Data
	target     string
	plan       []engine.PlannedPhase
	executions []*ExecutionView
	byID       map[string]*ExecutionView
	feed       *Feed
	done       bool
	err        error

	// UI state
	width       int
	height      int
	activeTab   Tab
	selected    int
	outputLines int

	started time.Time
	now     func() time.Time
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Target string
	Plan   []engine.PlannedPhase
	Feed   *Feed
	// OutputLines bounds the output kept per execution
	OutputLines int
	Now         func() time.Time
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lines := cfg.OutputLines
	if lines <= 0 {
		lines = 500
	}
	return Model{
		target:      cfg.Target,
		plan:        cfg.Plan,
		feed:        cfg.Feed,
		byID:        make(map[string]*ExecutionView),
		outputLines: lines,
		started:     now(),
		now:         now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd()}
	if m.feed != nil {
		cmds = append(cmds, m.feed.wait())
	}
	return tea.Batch(cmds...)
}

// TickMsg refreshes elapsed times
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Done reports whether all executions finished
func (m Model) Done() bool { return m.done }

// Err returns the error the run ended with, if any
func (m Model) Err() error { return m.err }

// Executions returns the executions seen so far in arrival order
func (m Model) Executions() []*ExecutionView { return m.executions }

func (m *Model) execution(ev domain.ExecutionEvent) *ExecutionView {
	if ex, ok := m.byID[ev.ExecutionID]; ok {
		return ex
	}
	label := ev.SubProject
	if label == "" {
		label = ev.ProjectName
	}
	ex := &ExecutionView{ID: ev.ExecutionID, Label: label}
	for _, step := range m.plan {
		for _, e := range step.Tasks {
			ex.Tasks = append(ex.Tasks, &TaskRow{Phase: step.Phase.ID(), ID: e.Task.ID()})
		}
	}
	m.byID[ev.ExecutionID] = ex
	m.executions = append(m.executions, ex)
	return ex
}

func (ex *ExecutionView) task(phase, id string) *TaskRow {
	for _, t := range ex.Tasks {
		if t.Phase == phase && t.ID == id {
			return t
		}
	}
	t := &TaskRow{Phase: phase, ID: id}
	ex.Tasks = append(ex.Tasks, t)
	return t
}

// apply folds one event into the model
func (m *Model) apply(ev domain.ExecutionEvent) {
	ex := m.execution(ev)
	switch ev.Type {
	case domain.EventUpdated:
		ex.Phase = ev.PhaseID
	case domain.EventStarted:
		if ev.TaskID == "" {
			return
		}
		t := ex.task(ev.PhaseID, ev.TaskID)
		t.State = TaskRunning
		t.Started = m.now()
	case domain.EventCompleted:
		t := ex.task(ev.PhaseID, ev.TaskID)
		t.State = TaskDone
		t.Message = ev.Message
	case domain.EventSkipped:
		t := ex.task(ev.PhaseID, ev.TaskID)
		t.State = TaskSkipped
		t.Message = ev.Message
	case domain.EventFailed:
		ex.Failure = ev.Message
		if ev.ErrorDetail != "" {
			ex.Failure += "\n" + ev.ErrorDetail
		}
		if ev.TaskID != "" {
			t := ex.task(ev.PhaseID, ev.TaskID)
			t.State = TaskFailed
			t.Message = ev.Message
		}
	case domain.EventOutput:
		ex.Output = append(ex.Output, ev.Message)
		if len(ex.Output) > m.outputLines {
			ex.Output = ex.Output[len(ex.Output)-m.outputLines:]
		}
	}
}

func (m *Model) finish(st domain.ExecutionStatus) {
	ex, ok := m.byID[st.ExecutionID]
	if !ok {
		ex = m.execution(domain.ExecutionEvent{ExecutionID: st.ExecutionID, ProjectName: st.ProjectName})
	}
	ex.Status = &st
}
