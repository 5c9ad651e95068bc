package pluginsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// LocalSource resolves plugins already present on disk. Config.Path names the file
// directly; otherwise Config.Pattern is globbed below Config.BaseDir and must select
// exactly one regular file.
type LocalSource struct {
	BaseDir string // used when Config.BaseDir is empty
}

func (s *LocalSource) Type() string { return TypeLocal }

func (s *LocalSource) Resolve(ctx context.Context, cfg Config) (Artifact, error) {
	if cfg.Path != "" {
		path := expand(cfg.Path, cfg)
		if !filepath.IsAbs(path) && s.baseDir(cfg) != "" {
			path = filepath.Join(s.baseDir(cfg), path)
		}
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Artifact{}, fmt.Errorf("%w: %s does not exist", domain.ErrArtifactNotFound, path)
			}
			return Artifact{}, err
		}
		if !info.Mode().IsRegular() {
			return Artifact{}, fmt.Errorf("%w: %s is not a regular file", domain.ErrArtifactNotFound, path)
		}
		return s.artifact(path, cfg), nil
	}

	if cfg.Pattern == "" {
		return Artifact{}, fmt.Errorf("local source requires path or pattern")
	}

	pattern := filepath.Join(s.baseDir(cfg), expand(cfg.Pattern, cfg))
	candidates, err := filepath.Glob(pattern)
	if err != nil {
		return Artifact{}, fmt.Errorf("invalid pattern %q: %w", cfg.Pattern, err)
	}

	var files []string
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			files = append(files, c)
		}
	}
	sort.Strings(files)

	switch len(files) {
	case 0:
		return Artifact{}, fmt.Errorf("%w: nothing matches %s", domain.ErrArtifactNotFound, pattern)
	case 1:
		return s.artifact(files[0], cfg), nil
	default:
		return Artifact{}, fmt.Errorf("%w: %v", domain.ErrAmbiguousArtifact, files)
	}
}

func (s *LocalSource) baseDir(cfg Config) string {
	if cfg.BaseDir != "" {
		return cfg.BaseDir
	}
	return s.BaseDir
}

func (s *LocalSource) artifact(path string, cfg Config) Artifact {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return Artifact{Path: path, Source: TypeLocal, Name: cfg.Name, Version: cfg.Version}
}
