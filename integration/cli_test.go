//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	paths := []string{
		"../phaseforge",
		"./phaseforge",
		filepath.Join(os.Getenv("GOPATH"), "bin", "phaseforge"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../phaseforge", "../cmd/phaseforge")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../phaseforge")
	return abs
}

// createTestConfig creates a temporary config file for testing
func createTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := `[general]
cache_dir = "` + filepath.Join(filepath.Dir(configPath), "cache") + `"
history_db = "` + dbPath + `"
log_level = "error"

[[plugin]]
type = "builtin"
name = "git"

[[plugin]]
type = "builtin"
name = "shell"

[plugin.settings.commands]
lint = ["test -n \"$STAGE\""]
build = [{ name = "compile", run = "echo compiling $PHASEFORGE_MODULE" }]
test = ["echo testing \"$@\""]
`
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// TestCLI_Phases lists the default phase set
func TestCLI_Phases(t *testing.T) {
	project := CopyFixturesToTemp(t)
	configPath := createTestConfig(t, TempDBPath(t))

	out, err := run(t, "phases", "--config", configPath, "--project", project)
	if err != nil {
		t.Fatalf("phases failed: %v\n%s", err, out)
	}
	for _, phase := range []string{"init", "lint", "build", "test", "code-build", "commit-msg"} {
		if !strings.Contains(out, phase) {
			t.Errorf("Expected phase %s in output, got: %s", phase, out)
		}
	}
}

// TestCLI_Plan shows prerequisites in order
func TestCLI_Plan(t *testing.T) {
	project := CopyFixturesToTemp(t)
	configPath := createTestConfig(t, TempDBPath(t))

	out, err := run(t, "plan", "test", "--config", configPath, "--project", project)
	if err != nil {
		t.Fatalf("plan failed: %v\n%s", err, out)
	}
	initIdx := strings.Index(out, "install-hooks")
	lintIdx := strings.Index(out, "lint-1")
	buildIdx := strings.Index(out, "compile")
	testIdx := strings.Index(out, "test-1")
	if initIdx < 0 || !(initIdx < lintIdx && lintIdx < buildIdx && buildIdx < testIdx) {
		t.Errorf("Expected init, lint, build, test order, got: %s", out)
	}
}

// TestCLI_RunAllModules runs the build for every module and records history
func TestCLI_RunAllModules(t *testing.T) {
	project := CopyFixturesToTemp(t)
	dbPath := TempDBPath(t)
	configPath := createTestConfig(t, dbPath)

	out, err := run(t, "run", "build", "--all-modules", "-v", "--config", configPath, "--project", project)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	for _, want := range []string{"compiling api", "compiling web", "build completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got: %s", want, out)
		}
	}
	if !strings.Contains(out, "lint-1 (skipped)") {
		t.Errorf("Expected web to skip lint, got: %s", out)
	}

	out, err = run(t, "history", "--config", configPath, "--project", project)
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	if strings.Count(out, "COMPLETED") != 2 {
		t.Errorf("Expected two completed executions, got: %s", out)
	}
}

// TestCLI_RunFailsOnUnknownPhase exits non-zero
func TestCLI_RunFailsOnUnknownPhase(t *testing.T) {
	project := CopyFixturesToTemp(t)
	configPath := createTestConfig(t, TempDBPath(t))

	out, err := run(t, "run", "deploy", "--config", configPath, "--project", project)
	if err == nil {
		t.Fatalf("Expected failure for unknown phase, got: %s", out)
	}
}

// TestCLI_CommitMsg validates commit messages through the commit-msg phase
func TestCLI_CommitMsg(t *testing.T) {
	project := CopyFixturesToTemp(t)
	configPath := createTestConfig(t, TempDBPath(t))

	msgFile := filepath.Join(t.TempDir(), "COMMIT_EDITMSG")
	os.WriteFile(msgFile, []byte("feat(api): add orders endpoint\n"), 0644)
	out, err := run(t, "run", "commit-msg", msgFile, "--config", configPath, "--project", project)
	if err != nil {
		t.Fatalf("valid message rejected: %v\n%s", err, out)
	}

	os.WriteFile(msgFile, []byte("added stuff\n"), 0644)
	out, err = run(t, "run", "commit-msg", msgFile, "--config", configPath, "--project", project)
	if err == nil {
		t.Fatalf("invalid message accepted: %s", out)
	}
	if !strings.Contains(out, "Conventional Commits") {
		t.Errorf("Expected rejection message, got: %s", out)
	}
}

// TestCLI_InstallHooks writes hook scripts into .git/hooks
func TestCLI_InstallHooks(t *testing.T) {
	project := CopyFixturesToTemp(t)
	configPath := createTestConfig(t, TempDBPath(t))
	os.MkdirAll(filepath.Join(project, ".git"), 0755)

	out, err := run(t, "run", "init", "--config", configPath, "--project", project)
	if err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(project, ".git", "hooks", "commit-msg")); err != nil {
		t.Errorf("commit-msg hook not installed: %v", err)
	}
}
