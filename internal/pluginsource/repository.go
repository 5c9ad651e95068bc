package pluginsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

const defaultRepositoryLayout = "{name}-{version}-{os}-{arch}.so"

// RepositorySource resolves plugins from a package repository laid out as
// {repo}/{name}/{version}/{file}. Config.Repo overrides the default base URL and
// Config.Asset overrides the file name.
type RepositorySource struct {
	BaseURL string
	client  *http.Client
	cache   diskCache
	logger  *slog.Logger
}

// NewRepositorySource creates a source with a default base URL and a download cache
func NewRepositorySource(baseURL, cacheDir string, logger *slog.Logger) *RepositorySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositorySource{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: downloadTimeout},
		cache:   diskCache{root: cacheDir},
		logger:  logger.With("component", "repository-source"),
	}
}

func (s *RepositorySource) Type() string { return TypeRepository }

func (s *RepositorySource) Resolve(ctx context.Context, cfg Config) (Artifact, error) {
	base := cfg.Repo
	if base == "" {
		base = s.BaseURL
	}
	if base == "" {
		return Artifact{}, fmt.Errorf("repository source requires repo")
	}
	if cfg.Version == "" {
		return Artifact{}, fmt.Errorf("repository source requires version")
	}

	dir := s.cache.dir(TypeRepository, cfg)
	if path, ok := s.cache.lookup(dir); ok {
		return Artifact{Path: path, Source: TypeRepository, Name: cfg.Name, Version: cfg.Version}, nil
	}

	layout := cfg.Asset
	if layout == "" {
		layout = defaultRepositoryLayout
	}
	file := expand(layout, cfg)
	url := fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(base, "/"), cfg.Name, cfg.Version, file)

	s.logger.Info("downloading plugin", "plugin", cfg.String(), "url", url)
	dest := filepath.Join(dir, file)
	if err := downloadFile(ctx, s.client, url, dest, nil); err != nil {
		return Artifact{}, fmt.Errorf("failed to download %s: %w", url, err)
	}

	path, err := unpack(dest)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.cache.store(dir, path); err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: path, Source: TypeRepository, Name: cfg.Name, Version: cfg.Version}, nil
}
