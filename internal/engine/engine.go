// Package engine runs phase plans. An Engine is built once the plugin load is over;
// it freezes the graph and the registry and then serves any number of concurrent runs.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/phasegraph"
	"github.com/hochfrequenz/phaseforge/internal/registry"
)

// Bindings is the plugin configuration the engine hands to tasks and predicates
type Bindings interface {
	domain.PluginContext
	ForTarget(overrides map[string]map[string]any) (domain.PluginContext, error)
}

// Engine executes phase plans against a frozen graph and registry
type Engine struct {
	graph    *phasegraph.Graph
	tasks    *registry.Registry
	bindings Bindings
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithIDGenerator sets the function producing execution identifiers
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) {
		if f != nil {
			e.newID = f
		}
	}
}

// WithClock sets the time source for start and end times
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New freezes graph and tasks and returns an engine over them. It fails, leaving
// both unfrozen, if the graph is invalid or a task is bound to a phase the graph
// does not know.
// bindings may be nil.
func New(graph *phasegraph.Graph, tasks *registry.Registry, bindings Bindings, opts ...Option) (*Engine, error) {
	e := &Engine{
		graph:    graph,
		tasks:    tasks,
		bindings: bindings,
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	// Nothing is frozen unless both inputs are valid
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	for _, phase := range tasks.Phases() {
		if _, ok := graph.Get(phase); !ok {
			entries := tasks.TasksFor(phase)
			return nil, fmt.Errorf("task %s: %w", entries[0].Task.ID(), domain.NewGraphError(domain.ErrUnknownPhase, phase))
		}
	}

	if err := graph.Freeze(); err != nil {
		return nil, err
	}
	tasks.Freeze()

	e.logger.Debug("engine ready", "phases", len(graph.Phases()), "tasks", tasks.Count())
	return e, nil
}

// Graph returns the frozen phase graph
func (e *Engine) Graph() *phasegraph.Graph { return e.graph }

// Tasks returns the frozen task registry
func (e *Engine) Tasks() *registry.Registry { return e.tasks }

// PlannedPhase is one step of a plan with the tasks registered for it
type PlannedPhase struct {
	Phase domain.Phase
	Tasks []registry.Entry
}

// Plan returns the ordered phases and tasks a run of target would execute
func (e *Engine) Plan(target string) ([]PlannedPhase, error) {
	phases, err := e.graph.PlanFor(target)
	if err != nil {
		return nil, err
	}
	plan := make([]PlannedPhase, 0, len(phases))
	for _, p := range phases {
		plan = append(plan, PlannedPhase{Phase: p, Tasks: e.tasks.TasksFor(p.ID())})
	}
	return plan, nil
}

func countTasks(plan []PlannedPhase) int {
	n := 0
	for _, step := range plan {
		n += len(step.Tasks)
	}
	return n
}
