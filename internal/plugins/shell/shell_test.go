package shell

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/phasegraph"
	"github.com/hochfrequenz/phaseforge/internal/plugin"
	"github.com/hochfrequenz/phaseforge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, settings map[string]any) (*plugin.Host, *plugin.Bindings) {
	t.Helper()
	p := New()
	bindings := plugin.NewBindings()
	require.NoError(t, bindings.Bind(Name, p.NewConfig, settings))
	cfg, ok := bindings.Config(Name)
	require.True(t, ok)

	host := &plugin.Host{
		Phases: phasegraph.NewDefault(nil),
		Tasks:  registry.New(nil),
		Config: cfg,
		Logger: slog.Default(),
	}
	require.NoError(t, p.Register(host))
	return host, bindings
}

func invoke(t *testing.T, e registry.Entry, pc domain.PluginContext, args ...string) (domain.TaskResult, string) {
	t.Helper()
	var out bytes.Buffer
	res := e.Task.Execute(context.Background(), domain.Invocation{
		Env:     domain.Environment{"GREETING": "hi"},
		Project: domain.ProjectContext{Name: "demo", Dir: t.TempDir()},
		Args:    args,
		Output:  &out,
		Plugins: pc,
	})
	return res, out.String()
}

func TestRegisterNamesTasksPerPhase(t *testing.T) {
	host, _ := register(t, map[string]any{
		"commands": map[string]any{
			"lint": []any{"true", "true"},
			"test": []any{map[string]any{"name": "unit", "run": "true"}},
		},
	})

	var lint []string
	for _, e := range host.Tasks.TasksFor("lint") {
		lint = append(lint, e.Task.ID())
	}
	assert.Equal(t, []string{"lint-1", "lint-2"}, lint)

	test := host.Tasks.TasksFor("test")
	require.Len(t, test, 1)
	assert.Equal(t, "unit", test[0].Task.ID())
}

func TestRegisterRejectsBadEntries(t *testing.T) {
	p := New()
	bindings := plugin.NewBindings()
	require.NoError(t, bindings.Bind(Name, p.NewConfig, map[string]any{
		"commands": map[string]any{"lint": []any{42}},
	}))
	cfg, _ := bindings.Config(Name)
	err := p.Register(&plugin.Host{
		Phases: phasegraph.New(nil),
		Tasks:  registry.New(nil),
		Config: cfg,
		Logger: slog.Default(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string or table")
}

func TestRegisterAddsPhases(t *testing.T) {
	host, _ := register(t, map[string]any{
		"phases": []any{
			map[string]any{"id": "docs", "description": "Build docs", "after": []any{"build"}},
		},
		"commands": map[string]any{"docs": []any{"true"}},
	})
	ph, ok := host.Phases.Get("docs")
	require.True(t, ok)
	assert.Equal(t, []string{"build"}, ph.DependsOn())
}

func TestCommandStreamsOutputAndArgs(t *testing.T) {
	host, bindings := register(t, map[string]any{
		"commands": map[string]any{
			"build": []any{`echo "$GREETING $PHASEFORGE_TASK $*"; echo oops >&2`},
		},
	})
	res, out := invoke(t, host.Tasks.TasksFor("build")[0], bindings, "a", "b")
	require.True(t, res.Succeeded(), res.ErrorDetail)
	assert.Contains(t, out, "hi build-1 a b\n")
	assert.Contains(t, out, "oops\n")
}

func TestCommandFailureCarriesExitCodeAndTail(t *testing.T) {
	host, bindings := register(t, map[string]any{
		"commands": map[string]any{"test": []any{"echo broken; exit 3"}},
	})
	res, _ := invoke(t, host.Tasks.TasksFor("test")[0], bindings)
	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Contains(t, res.Message, "exited with code 3")
	assert.Contains(t, res.ErrorDetail, "broken")
}

func TestCommandTimeout(t *testing.T) {
	host, bindings := register(t, map[string]any{
		"timeout":  "50ms",
		"commands": map[string]any{"test": []any{"sleep 5"}},
	})
	start := time.Now()
	res, _ := invoke(t, host.Tasks.TasksFor("test")[0], bindings)
	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Contains(t, res.ErrorDetail, "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandRunsInConfiguredDir(t *testing.T) {
	host, bindings := register(t, map[string]any{
		"commands": map[string]any{"build": []any{
			map[string]any{"run": "touch marker", "dir": "sub"},
		}},
	})
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	res := host.Tasks.TasksFor("build")[0].Task.Execute(context.Background(), domain.Invocation{
		Project: domain.ProjectContext{Dir: root},
		Plugins: bindings,
	})
	require.True(t, res.Succeeded(), res.ErrorDetail)
	assert.FileExists(t, filepath.Join(root, "sub", "marker"))
}

func TestSkipListPerTarget(t *testing.T) {
	host, bindings := register(t, map[string]any{
		"commands": map[string]any{"lint": []any{"true"}, "test": []any{"true"}},
	})
	lint := host.Tasks.TasksFor("lint")[0]
	test := host.Tasks.TasksFor("test")[0]

	assert.True(t, lint.Applies(bindings))

	pc, err := bindings.ForTarget(map[string]map[string]any{Name: {"skip": []any{"lint"}}})
	require.NoError(t, err)
	assert.False(t, lint.Applies(pc))
	assert.True(t, test.Applies(pc))

	pc, err = bindings.ForTarget(map[string]map[string]any{Name: {"skip": "test-1"}})
	require.NoError(t, err)
	assert.False(t, test.Applies(pc))
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	b := &tailBuffer{max: 2}
	for _, l := range strings.Fields("a b c") {
		b.add(l)
	}
	assert.Equal(t, "b\nc", b.String())
}
