package domain

// Phase is a named stage of the build lifecycle.
//
// Specializes and DependsOn are independent relations: Specializes categorizes a
// phase as a variant of another (code-build is a build), DependsOn orders it.
type Phase interface {
	ID() string
	Family() Family
	Specializes() string
	DependsOn() []string
	Description() string
}

// PhaseRecord is the standard Phase implementation
type PhaseRecord struct {
	Name     string
	Kind     Family
	Parent   string
	Requires []string
	Summary  string
}

// NewPhase creates a generic phase that depends on the given phases
func NewPhase(id, description string, dependsOn ...string) *PhaseRecord {
	return &PhaseRecord{
		Name:     id,
		Kind:     FamilyGeneric,
		Requires: dependsOn,
		Summary:  description,
	}
}

func (p *PhaseRecord) ID() string          { return p.Name }
func (p *PhaseRecord) Family() Family      { return p.Kind }
func (p *PhaseRecord) Specializes() string { return p.Parent }
func (p *PhaseRecord) Description() string { return p.Summary }

// DependsOn returns a copy of the ordering prerequisites
func (p *PhaseRecord) DependsOn() []string {
	out := make([]string, len(p.Requires))
	copy(out, p.Requires)
	return out
}

// Specializing returns a copy of the record that specializes parent
func (p *PhaseRecord) Specializing(parent string) *PhaseRecord {
	cp := *p
	cp.Parent = parent
	cp.Requires = p.DependsOn()
	return &cp
}

// InFamily returns a copy of the record in the given family
func (p *PhaseRecord) InFamily(f Family) *PhaseRecord {
	cp := *p
	cp.Kind = f
	cp.Requires = p.DependsOn()
	return &cp
}
