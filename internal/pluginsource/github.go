package pluginsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"runtime"

	json "github.com/goccy/go-json"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubRelease represents the GitHub API response for a release
type GitHubRelease struct {
	TagName string        `json:"tag_name"`
	Name    string        `json:"name"`
	Assets  []GitHubAsset `json:"assets"`
}

// GitHubAsset is a downloadable file attached to a release
type GitHubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// GitHubSource resolves plugins attached as assets to GitHub releases.
// Config.Repo is "owner/repo"; Config.Version is the release tag.
type GitHubSource struct {
	APIURL string
	Token  string
	client *http.Client
	cache  diskCache
	logger *slog.Logger
}

// NewGitHubSource creates a source that caches downloads below cacheDir
func NewGitHubSource(cacheDir, token string, logger *slog.Logger) *GitHubSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubSource{
		APIURL: defaultGitHubAPI,
		Token:  token,
		client: &http.Client{Timeout: downloadTimeout},
		cache:  diskCache{root: cacheDir},
		logger: logger.With("component", "github-source"),
	}
}

func (s *GitHubSource) Type() string { return TypeGitHub }

func (s *GitHubSource) Resolve(ctx context.Context, cfg Config) (Artifact, error) {
	if cfg.Repo == "" {
		return Artifact{}, fmt.Errorf("github source requires repo")
	}

	dir := s.cache.dir(TypeGitHub, cfg)
	if path, ok := s.cache.lookup(dir); ok {
		return Artifact{Path: path, Source: TypeGitHub, Name: cfg.Name, Version: cfg.Version}, nil
	}

	release, err := s.fetchRelease(ctx, cfg.Repo, cfg.Version)
	if err != nil {
		return Artifact{}, err
	}

	asset, err := selectAsset(release.Assets, cfg)
	if err != nil {
		return Artifact{}, err
	}

	s.logger.Info("downloading plugin asset", "plugin", cfg.String(), "asset", asset.Name)
	dest := filepath.Join(dir, asset.Name)
	if err := downloadFile(ctx, s.client, asset.BrowserDownloadURL, dest, s.headers("application/octet-stream")); err != nil {
		return Artifact{}, fmt.Errorf("failed to download %s: %w", asset.Name, err)
	}

	path, err := unpack(dest)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.cache.store(dir, path); err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: path, Source: TypeGitHub, Name: cfg.Name, Version: cfg.Version}, nil
}

func (s *GitHubSource) headers(accept string) http.Header {
	h := http.Header{}
	h.Set("Accept", accept)
	if s.Token != "" {
		h.Set("Authorization", "Bearer "+s.Token)
	}
	return h
}

// fetchRelease fetches release metadata for a tag
func (s *GitHubSource) fetchRelease(ctx context.Context, repo, tag string) (*GitHubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", s.APIURL, repo, tag)
	return s.getRelease(ctx, url, fmt.Sprintf("release %s", tag), repo)
}

func (s *GitHubSource) getRelease(ctx context.Context, url, what, repo string) (*GitHubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = s.headers("application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s not found in %s", domain.ErrArtifactNotFound, what, repo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}
	return &release, nil
}

// selectAsset picks exactly one asset. Config.Asset (with placeholders) must match a
// name exactly; otherwise Config.Pattern, or a default of name/os/arch, is used as regexp.
func selectAsset(assets []GitHubAsset, cfg Config) (GitHubAsset, error) {
	var matches []GitHubAsset

	if cfg.Asset != "" {
		want := expand(cfg.Asset, cfg)
		for _, a := range assets {
			if a.Name == want {
				matches = append(matches, a)
			}
		}
	} else {
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = "^" + regexp.QuoteMeta(cfg.Name) + `.*` + runtime.GOOS + `[_-]` + runtime.GOARCH + `\.(so|tar\.gz|tgz)$`
		}
		re, err := regexp.Compile(expand(pattern, cfg))
		if err != nil {
			return GitHubAsset{}, fmt.Errorf("invalid asset pattern: %w", err)
		}
		for _, a := range assets {
			if re.MatchString(a.Name) {
				matches = append(matches, a)
			}
		}
	}

	switch len(matches) {
	case 0:
		return GitHubAsset{}, fmt.Errorf("%w: no release asset matches for %s", domain.ErrArtifactNotFound, cfg.String())
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return GitHubAsset{}, fmt.Errorf("%w: %v", domain.ErrAmbiguousArtifact, names)
	}
}
