package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/pluginsource"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-repository config file searched for upwards from the
// working directory
const LocalConfigName = ".phaseforge.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig         `toml:"general"`
	Plugins       []pluginsource.Config `toml:"plugin"`
	Notifications NotificationsConfig   `toml:"notifications"`
	Stream        StreamConfig          `toml:"stream"`
	Watch         WatchConfig           `toml:"watch"`
	Schedules     []ScheduleConfig      `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	CacheDir    string `toml:"cache_dir"`
	HistoryDB   string `toml:"history_db"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	LogFile     string `toml:"log_file"`
	GitHubToken string `toml:"github_token"`
	// RecordOutput stores task output lines in the history database
	RecordOutput bool `toml:"record_output"`
	// RepositoryURL is the default base URL for repository plugin sources
	RepositoryURL string `toml:"repository_url"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// StreamConfig configures the websocket event stream. An empty URL disables it.
type StreamConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// WatchConfig configures file watching
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
	Ignore   []string `toml:"ignore"`
}

// ScheduleConfig is one cron-triggered run
type ScheduleConfig struct {
	Name   string `toml:"name"`
	Cron   string `toml:"cron"`
	Phase  string `toml:"phase"`
	Module string `toml:"module"`
}

// Duration is a time.Duration written as a string ("500ms", "2s") in TOML
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			CacheDir:  filepath.Join(home, ".cache", "phaseforge", "plugins"),
			HistoryDB: filepath.Join(home, ".local", "share", "phaseforge", "history.db"),
			LogLevel:  "info",
			LogFormat: "text",
		},
		Plugins: []pluginsource.Config{
			{Type: pluginsource.TypeBuiltin, Name: "git"},
			{Type: pluginsource.TypeBuiltin, Name: "shell"},
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Watch: WatchConfig{
			Debounce: Duration{500 * time.Millisecond},
			Ignore:   []string{".git", "node_modules", "vendor"},
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// An explicit [[plugin]] list replaces the builtin defaults
	cfg.Plugins = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = Default().Plugins
	}

	cfg.General.CacheDir = ExpandPath(cfg.General.CacheDir)
	cfg.General.HistoryDB = ExpandPath(cfg.General.HistoryDB)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	base := filepath.Dir(path)
	for i := range cfg.Plugins {
		p := &cfg.Plugins[i]
		p.Path = ExpandPath(p.Path)
		p.BaseDir = ExpandPath(p.BaseDir)
		if p.Type == pluginsource.TypeLocal && p.BaseDir == "" {
			p.BaseDir = base
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks plugin and schedule entries for missing fields
func (c *Config) Validate() error {
	for i, p := range c.Plugins {
		if p.Type == "" {
			return fmt.Errorf("plugin %d: type is required", i)
		}
		if p.Name == "" {
			return fmt.Errorf("plugin %d: name is required", i)
		}
	}
	for i, s := range c.Schedules {
		if s.Cron == "" || s.Phase == "" {
			return fmt.Errorf("schedule %d (%s): cron and phase are required", i, s.Name)
		}
	}
	return nil
}

// LoadWithLocalFallback loads path if given, else the nearest LocalConfigName, else
// the default config path
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig searches the working directory and its parents for
// LocalConfigName. It returns "" if none exists.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "phaseforge", "config.toml")
}
