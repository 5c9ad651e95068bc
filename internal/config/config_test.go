package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/pluginsource"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.General.LogLevel)
	}
	if len(cfg.Plugins) != 2 {
		t.Fatalf("len(Plugins) = %d, want 2", len(cfg.Plugins))
	}
	if cfg.Plugins[0].Type != pluginsource.TypeBuiltin || cfg.Plugins[0].Name != "git" {
		t.Errorf("Plugins[0] = %+v, want builtin git", cfg.Plugins[0])
	}
	if cfg.Watch.Debounce.Duration != 500*time.Millisecond {
		t.Errorf("Watch.Debounce = %v, want 500ms", cfg.Watch.Debounce)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Plugins) != 2 {
		t.Errorf("len(Plugins) = %d, want defaults", len(cfg.Plugins))
	}
}

func TestLoad_FromFile(t *testing.T) {
	content := `
[general]
cache_dir = "/var/cache/pf"
log_level = "debug"

[[plugin]]
type = "github"
name = "golang"
version = "v1.2.0"
repo = "acme/phaseforge-golang"
pattern = "golang-.*\\.tar\\.gz"

[plugin.settings]
race = true
packages = ["./..."]

[[plugin]]
type = "local"
name = "custom"
pattern = "plugins/custom-*.so"

[notifications]
desktop = true
slack_webhook = "https://hooks.slack.test/x"

[stream]
url = "ws://localhost:9000/events"

[watch]
debounce = "2s"
ignore = ["dist"]

[[schedule]]
name = "nightly"
cron = "0 2 * * *"
phase = "test"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.CacheDir != "/var/cache/pf" {
		t.Errorf("CacheDir = %q, want /var/cache/pf", cfg.General.CacheDir)
	}
	if cfg.General.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.General.LogLevel)
	}
	if cfg.General.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want default text", cfg.General.LogFormat)
	}
	if len(cfg.Plugins) != 2 {
		t.Fatalf("len(Plugins) = %d, want 2 (explicit list replaces defaults)", len(cfg.Plugins))
	}

	gh := cfg.Plugins[0]
	if gh.Repo != "acme/phaseforge-golang" || gh.Version != "v1.2.0" {
		t.Errorf("Plugins[0] = %+v", gh)
	}
	if gh.Settings["race"] != true {
		t.Errorf("Settings[race] = %v, want true", gh.Settings["race"])
	}

	local := cfg.Plugins[1]
	if local.BaseDir != filepath.Dir(path) {
		t.Errorf("local BaseDir = %q, want config dir %q", local.BaseDir, filepath.Dir(path))
	}

	if !cfg.Notifications.Desktop {
		t.Error("expected Notifications.Desktop = true")
	}
	if cfg.Stream.URL != "ws://localhost:9000/events" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
	if cfg.Watch.Debounce.Duration != 2*time.Second {
		t.Errorf("Watch.Debounce = %v, want 2s", cfg.Watch.Debounce)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Cron != "0 2 * * *" {
		t.Errorf("Schedules = %+v", cfg.Schedules)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[general\n"},
		{"plugin without type", "[[plugin]]\nname = \"x\"\n"},
		{"plugin without name", "[[plugin]]\ntype = \"builtin\"\n"},
		{"schedule without cron", "[[schedule]]\nname = \"n\"\nphase = \"test\"\n"},
		{"bad duration", "[watch]\ndebounce = \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[general]\nlog_level = \"warn\""), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	// resolve symlinks in the temp dir (macOS /var -> /private/var)
	want, _ := filepath.EvalSymlinks(localConfig)
	found, _ := filepath.EvalSymlinks(FindLocalConfig())
	if found != want {
		t.Errorf("FindLocalConfig() = %q, want %q", found, want)
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	path := writeTempConfig(t, "[general]\nlog_level = \"error\"\n")

	cfg, err := LoadWithLocalFallback(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", cfg.General.LogLevel)
	}
}

func TestLoadWithLocalFallback_LocalConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, LocalConfigName), []byte("[general]\nlog_format = \"json\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.General.LogFormat)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
