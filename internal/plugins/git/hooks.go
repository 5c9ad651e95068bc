package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/plugin"
)

type hookInstaller struct {
	base *Config
}

func (h *hookInstaller) run(ctx context.Context, inv domain.Invocation) domain.TaskResult {
	cfg := h.base
	if target, ok := plugin.ConfigAs[*Config](inv.Plugins, Name); ok && target != nil {
		cfg = target
	}
	out := inv.Output
	if out == nil {
		out = io.Discard
	}

	gitDir, err := FindGitDir(inv.Project.Dir)
	if err != nil {
		return domain.Failure("locating git directory failed", err)
	}

	var dirs []string
	if cfg.HooksDir != "" {
		dir := cfg.HooksDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(inv.Project.Dir, dir)
		}
		dirs = append(dirs, dir)
	}
	installed, err := install(gitDir, cfg, newTemplates(dirs...), out)
	if err != nil {
		return domain.Failure("installing hooks failed", err)
	}
	return domain.Success(fmt.Sprintf("%d hooks installed", installed))
}

// FindGitDir returns the git directory for a work tree, following gitdir files
func FindGitDir(workTree string) (string, error) {
	dotGit := filepath.Join(workTree, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", fmt.Errorf("%s is not a git work tree: %w", workTree, err)
	}
	if info.IsDir() {
		return dotGit, nil
	}

	// Worktrees and submodules use a file pointing at the real directory
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("unexpected content in %s", dotGit)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(workTree, target)
	}
	return target, nil
}

// install writes the selected hooks into gitDir/hooks and reports how many were written
func install(gitDir string, cfg *Config, tpl *templates, out io.Writer) (int, error) {
	names := cfg.Hooks
	if len(names) == 0 {
		all, err := tpl.names()
		if err != nil {
			return 0, err
		}
		names = all
	}

	hooksDir := filepath.Join(gitDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return 0, fmt.Errorf("create hooks dir: %w", err)
	}

	installed := 0
	for _, name := range names {
		meta, script, err := tpl.render(name, cfg.Binary)
		if err != nil {
			return installed, err
		}
		path := filepath.Join(hooksDir, meta.Hook)

		if existing, err := os.ReadFile(path); err == nil {
			if bytes.Equal(existing, script) {
				fmt.Fprintf(out, "%s: up to date\n", meta.Hook)
				continue
			}
			if !cfg.Force && !bytes.Contains(existing, []byte(Marker)) {
				fmt.Fprintf(out, "%s: existing hook kept (set force to replace)\n", meta.Hook)
				continue
			}
		}

		if err := os.WriteFile(path, script, 0o755); err != nil {
			return installed, fmt.Errorf("write hook %s: %w", meta.Hook, err)
		}
		fmt.Fprintf(out, "%s: installed (runs %s)\n", meta.Hook, meta.Phase)
		installed++
	}
	return installed, nil
}
