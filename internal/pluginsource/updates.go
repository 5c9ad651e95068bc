package pluginsource

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// updateCheckConcurrency bounds parallel release lookups
const updateCheckConcurrency = 4

// Update reports a newer release for a configured plugin
type Update struct {
	Config Config
	Latest string
}

// Latest returns the tag of the newest release of repo
func (s *GitHubSource) Latest(ctx context.Context, repo string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", s.APIURL, repo)
	release, err := s.getRelease(ctx, url, "latest release", repo)
	if err != nil {
		return "", err
	}
	return release.TagName, nil
}

// Outdated checks every github plugin in configs against its latest release and
// returns those with a newer one, in configuration order
func (s *GitHubSource) Outdated(ctx context.Context, configs []Config) ([]Update, error) {
	latest := make([]string, len(configs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(updateCheckConcurrency)
	for i, cfg := range configs {
		if cfg.Type != TypeGitHub || cfg.Repo == "" {
			continue
		}
		g.Go(func() error {
			tag, err := s.Latest(ctx, cfg.Repo)
			if err != nil {
				return fmt.Errorf("%s: %w", cfg.String(), err)
			}
			latest[i] = tag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var updates []Update
	for i, cfg := range configs {
		if latest[i] != "" && NeedsUpdate(cfg.Version, latest[i]) {
			updates = append(updates, Update{Config: cfg, Latest: latest[i]})
		}
	}
	return updates, nil
}

// NeedsUpdate compares version strings and returns true if latest is newer.
// Versions are expected in format "vX.Y.Z" or "X.Y.Z". An unpinned (empty) version
// never needs an update; "dev" always does.
func NeedsUpdate(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")
	if current == "" || current == latest {
		return false
	}
	if current == "dev" {
		return latest != "dev"
	}

	currentParts := parseVersion(current)
	latestParts := parseVersion(latest)
	for i := 0; i < 3; i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}
	return false
}

// parseVersion extracts major, minor, patch from a version string
func parseVersion(v string) [3]int {
	var parts [3]int
	fmt.Sscanf(v, "%d.%d.%d", &parts[0], &parts[1], &parts[2])
	return parts
}
