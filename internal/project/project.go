// Package project reads the phaseforge.yaml project descriptor and expands it into
// run targets, one per module.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileName is the descriptor file name
const FileName = "phaseforge.yaml"

// ErrUnknownModule is returned when a requested module is not declared
var ErrUnknownModule = errors.New("unknown module")

// Project is a parsed descriptor
type Project struct {
	Name     string                    `yaml:"name"`
	Env      map[string]string         `yaml:"env"`
	Settings map[string]map[string]any `yaml:"settings"`
	Modules  []Module                  `yaml:"modules"`

	// Dir is the directory holding the descriptor
	Dir string `yaml:"-"`
}

// Module is a sub-project with its own directory, environment and plugin settings
type Module struct {
	Name     string                    `yaml:"name"`
	Dir      string                    `yaml:"dir"`
	Env      map[string]string         `yaml:"env"`
	Settings map[string]map[string]any `yaml:"settings"`
}

// Target is everything a run needs to know about one (sub-)project
type Target struct {
	Context   domain.ProjectContext
	Env       domain.Environment
	Overrides map[string]map[string]any
}

// Load parses the descriptor at path
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	p.Dir = dir
	if p.Name == "" {
		p.Name = filepath.Base(dir)
	}
	return p, nil
}

// Parse decodes descriptor content and validates module entries
func Parse(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(p.Modules))
	for i, m := range p.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("module %d: name is required", i)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("module %s declared twice", m.Name)
		}
		seen[m.Name] = true
		if p.Modules[i].Dir == "" {
			p.Modules[i].Dir = m.Name
		}
	}
	return &p, nil
}

// Find looks for FileName in dir and its parents
func Find(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(abs, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%s not found in %s or any parent", FileName, dir)
		}
		abs = parent
	}
}

// LoadOrDefault loads the nearest descriptor above dir, or returns a project with no
// modules rooted at dir when none exists
func LoadOrDefault(dir string) (*Project, error) {
	path, err := Find(dir)
	if err != nil {
		abs, aerr := filepath.Abs(dir)
		if aerr != nil {
			return nil, aerr
		}
		return &Project{Name: filepath.Base(abs), Dir: abs}, nil
	}
	return Load(path)
}

// Root returns the target for the project itself
func (p *Project) Root() Target {
	return Target{
		Context:   domain.ProjectContext{Name: p.Name, Dir: p.Dir},
		Env:       domain.Environment(p.Env).Merge(nil),
		Overrides: copyOverrides(p.Settings),
	}
}

// Module returns the target for one module. Module env and settings are layered
// over the project's.
func (p *Project) Module(name string) (Target, error) {
	for _, m := range p.Modules {
		if m.Name != name {
			continue
		}
		overrides := copyOverrides(p.Settings)
		for key, settings := range m.Settings {
			base, ok := overrides[key]
			if !ok {
				base = map[string]any{}
			}
			if err := mergo.Merge(&base, settings, mergo.WithOverride); err != nil {
				return Target{}, fmt.Errorf("merging %s settings for module %s: %w", key, name, err)
			}
			overrides[key] = base
		}
		dir := m.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.Dir, dir)
		}
		return Target{
			Context:   domain.ProjectContext{Name: p.Name, Dir: dir, SubProject: m.Name},
			Env:       domain.Environment(p.Env).Merge(m.Env),
			Overrides: overrides,
		}, nil
	}
	return Target{}, fmt.Errorf("%w: %s", ErrUnknownModule, name)
}

// Targets selects what a run covers: the named module, every module, or the root
// project when neither is requested or no modules are declared
func (p *Project) Targets(module string, all bool) ([]Target, error) {
	if module != "" {
		t, err := p.Module(module)
		if err != nil {
			return nil, err
		}
		return []Target{t}, nil
	}
	if !all || len(p.Modules) == 0 {
		return []Target{p.Root()}, nil
	}
	targets := make([]Target, 0, len(p.Modules))
	for _, m := range p.Modules {
		t, err := p.Module(m.Name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// ModuleFor returns the name of the module whose directory contains path, or ""
func (p *Project) ModuleFor(path string) string {
	best, bestLen := "", 0
	for _, m := range p.Modules {
		dir := m.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.Dir, dir)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if len(dir) > bestLen {
			best, bestLen = m.Name, len(dir)
		}
	}
	return best
}

func copyOverrides(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for key, settings := range in {
		m := make(map[string]any, len(settings))
		for k, v := range settings {
			m[k] = v
		}
		out[key] = m
	}
	return out
}
