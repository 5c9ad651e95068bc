// Package phasegraph holds the registry of lifecycle phases and computes
// deterministic execution plans from their specialization and ordering relations.
package phasegraph

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Graph is a registry of phases. It is mutable until Freeze, read-only afterwards.
type Graph struct {
	phases map[string]domain.Phase
	order  map[string]int // registration index, used to break ties
	ids    []string
	frozen bool
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates an empty Graph
func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		phases: make(map[string]domain.Phase),
		order:  make(map[string]int),
		logger: logger.With("component", "phase-graph"),
	}
}

// Register adds a phase. Identifiers are unique across all families.
func (g *Graph) Register(p domain.Phase) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return domain.ErrFrozen
	}
	if _, exists := g.phases[p.ID()]; exists {
		return domain.NewConfigurationError(domain.ErrDuplicatePhase, p.ID())
	}

	g.phases[p.ID()] = p
	g.order[p.ID()] = len(g.ids)
	g.ids = append(g.ids, p.ID())
	g.logger.Debug("phase registered", "phase", p.ID(), "family", p.Family())
	return nil
}

// Merge registers all phases of other, in other's registration order.
// Nothing is registered if any identifier already exists.
func (g *Graph) Merge(other *Graph) error {
	incoming := other.Phases()

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkMerge(incoming); err != nil {
		return err
	}
	for _, p := range incoming {
		g.phases[p.ID()] = p
		g.order[p.ID()] = len(g.ids)
		g.ids = append(g.ids, p.ID())
	}
	return nil
}

// CanMerge reports the error Merge would return, without modifying the graph
func (g *Graph) CanMerge(other *Graph) error {
	incoming := other.Phases()

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checkMerge(incoming)
}

func (g *Graph) checkMerge(incoming []domain.Phase) error {
	if g.frozen {
		return domain.ErrFrozen
	}
	for _, p := range incoming {
		if _, exists := g.phases[p.ID()]; exists {
			return domain.NewConfigurationError(domain.ErrDuplicatePhase, p.ID())
		}
	}
	return nil
}

// Get returns a phase by identifier
func (g *Graph) Get(id string) (domain.Phase, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.phases[id]
	return p, ok
}

// Phases returns all phases in registration order
func (g *Graph) Phases() []domain.Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]domain.Phase, 0, len(g.ids))
	for _, id := range g.ids {
		result = append(result, g.phases[id])
	}
	return result
}

// Frozen reports whether the graph has been sealed
func (g *Graph) Frozen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen
}

// Freeze validates the graph and seals it against further registration
func (g *Graph) Freeze() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return nil
	}
	if err := g.validate(); err != nil {
		return err
	}
	g.frozen = true
	g.logger.Debug("phase graph frozen", "phases", len(g.ids))
	return nil
}

// Validate checks that every reference resolves and that the graph is acyclic
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validate()
}

// prerequisites returns the phases that must precede p: its specialization parent first,
// then its depends-on entries in declaration order
func prerequisites(p domain.Phase) []string {
	var out []string
	if parent := p.Specializes(); parent != "" {
		out = append(out, parent)
	}
	return append(out, p.DependsOn()...)
}

func (g *Graph) validate() error {
	for _, id := range g.ids {
		for _, ref := range prerequisites(g.phases[id]) {
			if _, ok := g.phases[ref]; !ok {
				return domain.NewGraphError(domain.ErrUnknownPhase, ref, id, ref)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.ids))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			path := append(append([]string{}, stack[start:]...), id)
			return domain.NewGraphError(domain.ErrGraphCycle, id, path...)
		}

		state[id] = visiting
		stack = append(stack, id)
		for _, ref := range prerequisites(g.phases[id]) {
			if err := visit(ref); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// PlanFor returns the ordered phases to execute for target: the target, its
// specialization ancestry and the transitive closure of depends-on edges, sorted so
// that every prerequisite precedes its dependents. Ties are broken by registration order.
func (g *Graph) PlanFor(target string) ([]domain.Phase, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.phases[target]; !ok {
		return nil, domain.NewGraphError(domain.ErrUnknownPhase, target)
	}

	// Collect the closure
	members := make(map[string]bool)
	pending := []string{target}
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if members[id] {
			continue
		}
		p, ok := g.phases[id]
		if !ok {
			return nil, domain.NewGraphError(domain.ErrUnknownPhase, id)
		}
		members[id] = true
		pending = append(pending, prerequisites(p)...)
	}

	inDegree := make(map[string]int, len(members))
	dependents := make(map[string][]string, len(members))
	for id := range members {
		for _, ref := range prerequisites(g.phases[id]) {
			inDegree[id]++
			dependents[ref] = append(dependents[ref], id)
		}
	}

	var ready []string
	for id := range members {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	plan := make([]domain.Phase, 0, len(members))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return g.order[ready[i]] < g.order[ready[j]]
		})
		id := ready[0]
		ready = ready[1:]
		plan = append(plan, g.phases[id])

		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(plan) != len(members) {
		return nil, domain.NewGraphError(domain.ErrGraphCycle, target)
	}
	return plan, nil
}

// PlanIDs is PlanFor reduced to phase identifiers
func (g *Graph) PlanIDs(target string) ([]string, error) {
	plan, err := g.PlanFor(target)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(plan))
	for i, p := range plan {
		ids[i] = p.ID()
	}
	return ids, nil
}
