// Package registry provides the ordered multimap from phase identifier to the
// tasks contributed to that phase.
package registry

import (
	"log/slog"
	"sync"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Entry is a registered task with its optional applicability predicate
type Entry struct {
	Task      domain.Task
	Predicate domain.Predicate // nil means always applicable
}

// Applies evaluates the predicate against a sub-target's plugin context
func (e Entry) Applies(pc domain.PluginContext) bool {
	if e.Predicate == nil {
		return true
	}
	return e.Predicate(pc)
}

// Registry holds tasks per phase in registration order. Registrations happen during
// plugin load; after Freeze it is read-only and safe for concurrent readers.
type Registry struct {
	tasks  map[string][]Entry
	phases []string
	frozen bool
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates an empty Registry
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tasks:  make(map[string][]Entry),
		logger: logger.With("component", "task-registry"),
	}
}

// Add appends a task to its phase
func (r *Registry) Add(task domain.Task) error {
	return r.AddWhen(task, nil)
}

// AddWhen appends a task that only runs for sub-targets where pred holds.
// The predicate is evaluated at run time, not here.
func (r *Registry) AddWhen(task domain.Task, pred domain.Predicate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return domain.ErrFrozen
	}
	if err := r.checkDuplicate(task); err != nil {
		return err
	}
	r.append(Entry{Task: task, Predicate: pred})
	r.logger.Debug("task registered", "phase", task.Phase(), "task", task.ID(), "conditional", pred != nil)
	return nil
}

func (r *Registry) checkDuplicate(task domain.Task) error {
	for _, e := range r.tasks[task.Phase()] {
		if e.Task.ID() == task.ID() {
			return domain.NewConfigurationError(domain.ErrDuplicateTask, task.Phase()+"/"+task.ID())
		}
	}
	return nil
}

func (r *Registry) append(e Entry) {
	phase := e.Task.Phase()
	if _, seen := r.tasks[phase]; !seen {
		r.phases = append(r.phases, phase)
	}
	r.tasks[phase] = append(r.tasks[phase], e)
}

// Merge appends every entry of staged, preserving its order.
// Nothing is added if any entry collides with an existing one.
func (r *Registry) Merge(staged *Registry) error {
	incoming := staged.entries()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkMerge(incoming); err != nil {
		return err
	}
	for _, e := range incoming {
		r.append(e)
	}
	return nil
}

// CanMerge reports the error Merge would return, without modifying the registry
func (r *Registry) CanMerge(staged *Registry) error {
	incoming := staged.entries()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkMerge(incoming)
}

func (r *Registry) checkMerge(incoming []Entry) error {
	if r.frozen {
		return domain.ErrFrozen
	}
	seen := make(map[string]bool, len(incoming))
	for _, e := range incoming {
		if err := r.checkDuplicate(e.Task); err != nil {
			return err
		}
		key := e.Task.Phase() + "/" + e.Task.ID()
		if seen[key] {
			return domain.NewConfigurationError(domain.ErrDuplicateTask, key)
		}
		seen[key] = true
	}
	return nil
}

func (r *Registry) entries() []Entry {
	var all []Entry
	for _, phase := range r.Phases() {
		all = append(all, r.TasksFor(phase)...)
	}
	return all
}

// TasksFor returns the entries for a phase in registration order
func (r *Registry) TasksFor(phase string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.tasks[phase]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Phases returns the phases that have tasks, in order of first registration
func (r *Registry) Phases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.phases))
	copy(out, r.phases)
	return out
}

// Count returns the total number of registered tasks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, entries := range r.tasks {
		total += len(entries)
	}
	return total
}

// Freeze closes registration
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether registration is closed
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
