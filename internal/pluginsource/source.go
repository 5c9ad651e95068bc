// Package pluginsource locates plugin artifacts. Each Source handles one origin
// (GitHub releases, a package repository, the local filesystem, compiled-in plugins);
// the Resolver dispatches to them and caches what they return.
package pluginsource

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Source type tags
const (
	TypeGitHub     = "github"
	TypeRepository = "repository"
	TypeLocal      = "local"
	TypeBuiltin    = "builtin"
)

// Config describes where a plugin comes from. Source-specific fields are optional.
type Config struct {
	Type     string         `toml:"type"`
	Name     string         `toml:"name"`
	Version  string         `toml:"version"`
	Repo     string         `toml:"repo,omitempty"`
	Asset    string         `toml:"asset,omitempty"`
	Path     string         `toml:"path,omitempty"`
	Pattern  string         `toml:"pattern,omitempty"`
	BaseDir  string         `toml:"base_dir,omitempty"`
	Settings map[string]any `toml:"settings,omitempty"`
}

// String returns name@version
func (c Config) String() string {
	if c.Version == "" {
		return c.Name
	}
	return c.Name + "@" + c.Version
}

// Artifact is a resolved plugin binary on local disk
type Artifact struct {
	Path    string
	Source  string
	Name    string
	Version string
}

// Source resolves plugin artifacts from one kind of origin
type Source interface {
	Type() string
	Resolve(ctx context.Context, cfg Config) (Artifact, error)
}

type cacheKey struct {
	source, name, version string
}

func (k cacheKey) String() string {
	return k.source + "\x00" + k.name + "\x00" + k.version
}

// Resolver dispatches to the first source whose type matches and caches results by
// (type, name, version). Concurrent requests for the same key share one fetch.
type Resolver struct {
	sources []Source
	cache   map[cacheKey]Artifact
	group   singleflight.Group
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewResolver creates a Resolver over sources, consulted in order
func NewResolver(logger *slog.Logger, sources ...Source) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		sources: sources,
		cache:   make(map[cacheKey]Artifact),
		logger:  logger.With("component", "plugin-resolver"),
	}
}

// Resolve returns the artifact for cfg, fetching it at most once per key
func (r *Resolver) Resolve(ctx context.Context, cfg Config) (Artifact, error) {
	key := cacheKey{source: cfg.Type, name: cfg.Name, version: cfg.Version}

	if art, ok := r.cached(key); ok {
		r.logger.Debug("plugin artifact cache hit", "plugin", cfg.String(), "source", cfg.Type)
		return art, nil
	}

	src := r.sourceFor(cfg.Type)
	if src == nil {
		return Artifact{}, domain.NewResolutionError(cfg.Type, cfg.Name, cfg.Version, domain.ErrNoMatchingSource)
	}

	v, err, _ := r.group.Do(key.String(), func() (interface{}, error) {
		if art, ok := r.cached(key); ok {
			return art, nil
		}

		r.logger.Info("resolving plugin", "plugin", cfg.String(), "source", cfg.Type)
		art, err := src.Resolve(ctx, cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = art
		r.mu.Unlock()
		return art, nil
	})
	if err != nil {
		var re *domain.ResolutionError
		if errors.As(err, &re) {
			return Artifact{}, err
		}
		return Artifact{}, domain.NewResolutionError(cfg.Type, cfg.Name, cfg.Version, err)
	}
	return v.(Artifact), nil
}

func (r *Resolver) cached(key cacheKey) (Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	art, ok := r.cache[key]
	return art, ok
}

func (r *Resolver) sourceFor(typ string) Source {
	for _, s := range r.sources {
		if s.Type() == typ {
			return s
		}
	}
	return nil
}

// expand substitutes {name}, {version}, {os} and {arch} placeholders
func expand(s string, cfg Config) string {
	return strings.NewReplacer(
		"{name}", cfg.Name,
		"{version}", cfg.Version,
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	).Replace(s)
}
