package plugin

import (
	"fmt"
	goplugin "plugin"
	"sync"

	"github.com/hochfrequenz/phaseforge/internal/pluginsource"
)

// Opener turns a resolved artifact into a Plugin
type Opener interface {
	Open(art pluginsource.Artifact) (Plugin, error)
}

// Factory creates a compiled-in plugin
type Factory func() Plugin

// BuiltinOpener opens compiled-in plugins by name
type BuiltinOpener struct {
	factories map[string]Factory
	names     []string
}

// NewBuiltinOpener creates an opener with no plugins
func NewBuiltinOpener() *BuiltinOpener {
	return &BuiltinOpener{factories: make(map[string]Factory)}
}

// Add makes a compiled-in plugin available under name
func (o *BuiltinOpener) Add(name string, f Factory) *BuiltinOpener {
	if _, exists := o.factories[name]; !exists {
		o.names = append(o.names, name)
	}
	o.factories[name] = f
	return o
}

// Names returns the available builtin names in insertion order
func (o *BuiltinOpener) Names() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

func (o *BuiltinOpener) Open(art pluginsource.Artifact) (Plugin, error) {
	name, ok := pluginsource.BuiltinName(art.Path)
	if !ok {
		return nil, fmt.Errorf("%s is not a builtin artifact", art.Path)
	}
	f, ok := o.factories[name]
	if !ok {
		return nil, fmt.Errorf("no builtin plugin %q", name)
	}
	return f(), nil
}

// SharedObjectOpener opens Go plugin binaries. A binary is only opened once per
// process; the Go runtime cannot unload it.
type SharedObjectOpener struct {
	mu     sync.Mutex
	opened map[string]*goplugin.Plugin
}

// NewSharedObjectOpener creates an opener for .so plugins
func NewSharedObjectOpener() *SharedObjectOpener {
	return &SharedObjectOpener{opened: make(map[string]*goplugin.Plugin)}
}

func (o *SharedObjectOpener) Open(art pluginsource.Artifact) (Plugin, error) {
	o.mu.Lock()
	p, ok := o.opened[art.Path]
	if !ok {
		var err error
		p, err = goplugin.Open(art.Path)
		if err != nil {
			o.mu.Unlock()
			return nil, fmt.Errorf("opening %s: %w", art.Path, err)
		}
		o.opened[art.Path] = p
	}
	o.mu.Unlock()

	sym, err := p.Lookup(SymbolAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: missing %s: %w", art.Path, SymbolAPIVersion, err)
	}
	version, ok := sym.(*int)
	if !ok {
		return nil, fmt.Errorf("%s: %s has type %T, want *int", art.Path, SymbolAPIVersion, sym)
	}
	if *version != APIVersion {
		return nil, fmt.Errorf("%s: plugin API version %d, host supports %d", art.Path, *version, APIVersion)
	}

	sym, err = p.Lookup(SymbolNewPlugin)
	if err != nil {
		return nil, fmt.Errorf("%s: missing %s: %w", art.Path, SymbolNewPlugin, err)
	}
	newPlugin, ok := sym.(func() Plugin)
	if !ok {
		return nil, fmt.Errorf("%s: %s has type %T, want func() plugin.Plugin", art.Path, SymbolNewPlugin, sym)
	}
	return newPlugin(), nil
}

// Openers dispatches builtin artifacts to a BuiltinOpener and everything else to a
// fallback opener
type Openers struct {
	Builtin  *BuiltinOpener
	Fallback Opener
}

func (o Openers) Open(art pluginsource.Artifact) (Plugin, error) {
	if _, ok := pluginsource.BuiltinName(art.Path); ok {
		if o.Builtin == nil {
			return nil, fmt.Errorf("no builtin plugins available")
		}
		return o.Builtin.Open(art)
	}
	if o.Fallback == nil {
		return nil, fmt.Errorf("no opener for %s", art.Path)
	}
	return o.Fallback.Open(art)
}
