package pluginsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// BuiltinPrefix marks artifact paths of compiled-in plugins
const BuiltinPrefix = "builtin:"

// BuiltinSource resolves plugins compiled into the binary
type BuiltinSource struct {
	names map[string]bool
}

// NewBuiltinSource creates a source that knows the given plugin names
func NewBuiltinSource(names ...string) *BuiltinSource {
	s := &BuiltinSource{names: make(map[string]bool, len(names))}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

func (s *BuiltinSource) Type() string { return TypeBuiltin }

func (s *BuiltinSource) Resolve(ctx context.Context, cfg Config) (Artifact, error) {
	if !s.names[cfg.Name] {
		return Artifact{}, fmt.Errorf("%w: no builtin plugin %q", domain.ErrArtifactNotFound, cfg.Name)
	}
	return Artifact{Path: BuiltinPrefix + cfg.Name, Source: TypeBuiltin, Name: cfg.Name, Version: cfg.Version}, nil
}

// BuiltinName returns the plugin name of a builtin artifact path
func BuiltinName(path string) (string, bool) {
	if !strings.HasPrefix(path, BuiltinPrefix) {
		return "", false
	}
	return strings.TrimPrefix(path, BuiltinPrefix), true
}
