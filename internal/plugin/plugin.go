// Package plugin loads plugins and lets them populate the phase graph and the task
// registry.
//
// A plugin is a Go plugin (.so) exporting two symbols:
//
//	var PhaseforgeAPIVersion = plugin.APIVersion
//	func NewPlugin() plugin.Plugin
//
// Compiled-in plugins implement the same Plugin interface and are registered with
// a BuiltinOpener.
package plugin

import (
	"log/slog"

	"github.com/hochfrequenz/phaseforge/internal/phasegraph"
	"github.com/hochfrequenz/phaseforge/internal/registry"
)

// APIVersion is the version of the registration contract. Plugins built against a
// different version are rejected.
const APIVersion = 1

// Entrypoint symbol names looked up in plugin binaries
const (
	SymbolAPIVersion = "PhaseforgeAPIVersion"
	SymbolNewPlugin  = "NewPlugin"
)

// Plugin is the registration contract every plugin implements
type Plugin interface {
	// ID identifies the plugin in logs and load reports
	ID() string
	// ConfigKey is the key its configuration is bound under
	ConfigKey() string
	// NewConfig returns a fresh configuration object, usually a struct pointer with
	// mapstructure tags. It may return nil when the plugin takes no configuration.
	NewConfig() any
	// Register contributes phases and tasks. It is invoked once per load.
	Register(host *Host) error
}

// Host is what a plugin receives during registration. Phases and Tasks are staged:
// they are committed to the shared graph and registry only if Register succeeds.
type Host struct {
	Phases *phasegraph.Graph
	Tasks  *registry.Registry
	Config any
	Logger *slog.Logger
}

// ConfigAs returns the configuration bound under key in a plugin context
func ConfigAs[T any](pc interface{ Config(string) (any, bool) }, key string) (T, bool) {
	var zero T
	if pc == nil {
		return zero, false
	}
	v, ok := pc.Config(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
