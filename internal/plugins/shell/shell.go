// Package shell is a builtin plugin turning configured shell commands into tasks.
//
//	[[plugin]]
//	type = "builtin"
//	name = "shell"
//
//	[plugin.settings.commands]
//	lint = ["go vet ./..."]
//	test = [{ name = "unit", run = "go test ./...", dir = "." }]
package shell

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/plugin"
)

// Name is the builtin name and configuration key
const Name = "shell"

// Config is the shell plugin configuration
type Config struct {
	// Commands maps a phase id to its commands. Entries are either a command string
	// or a table with name, run and dir.
	Commands map[string][]any  `mapstructure:"commands"`
	Phases   []PhaseDef        `mapstructure:"phases"`
	Shell    string            `mapstructure:"shell"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Env      map[string]string `mapstructure:"env"`
	// Skip lists task ids or phase ids not run for a target
	Skip []string `mapstructure:"skip"`
}

// PhaseDef declares an extra phase
type PhaseDef struct {
	ID          string   `mapstructure:"id"`
	Description string   `mapstructure:"description"`
	After       []string `mapstructure:"after"`
	Specializes string   `mapstructure:"specializes"`
	Family      string   `mapstructure:"family"`
}

// Command is one configured command
type Command struct {
	Name string `mapstructure:"name"`
	Run  string `mapstructure:"run"`
	Dir  string `mapstructure:"dir"`
}

func (c *Config) skips(phase, task string) bool {
	for _, s := range c.Skip {
		if s == phase || s == task {
			return true
		}
	}
	return false
}

// Plugin registers one task per configured command
type Plugin struct{}

// New returns the shell plugin
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) ID() string        { return Name }
func (p *Plugin) ConfigKey() string { return Name }
func (p *Plugin) NewConfig() any    { return &Config{Shell: "sh"} }

func (p *Plugin) Register(host *plugin.Host) error {
	cfg, ok := host.Config.(*Config)
	if !ok || cfg == nil {
		return fmt.Errorf("shell: unexpected config type %T", host.Config)
	}

	for _, def := range cfg.Phases {
		if def.ID == "" {
			return fmt.Errorf("shell: phase without id")
		}
		ph := domain.NewPhase(def.ID, def.Description, def.After...)
		if def.Specializes != "" {
			ph = ph.Specializing(def.Specializes)
		}
		if def.Family != "" {
			ph = ph.InFamily(domain.Family(def.Family))
		}
		if err := host.Phases.Register(ph); err != nil {
			return err
		}
	}

	phases := make([]string, 0, len(cfg.Commands))
	for phase := range cfg.Commands {
		phases = append(phases, phase)
	}
	sort.Strings(phases)

	for _, phase := range phases {
		commands, err := parseCommands(cfg.Commands[phase])
		if err != nil {
			return fmt.Errorf("shell: commands for %s: %w", phase, err)
		}
		for i, c := range commands {
			id := c.Name
			if id == "" {
				id = fmt.Sprintf("%s-%d", phase, i+1)
			}
			task := &commandTask{id: id, phase: phase, cmd: c, base: cfg}
			if err := host.Tasks.AddWhen(task, applies(phase, id)); err != nil {
				return err
			}
			host.Logger.Debug("shell task registered", "phase", phase, "task", id)
		}
	}
	return nil
}

// applies skips a task when the target's shell config lists it or its phase
func applies(phase, id string) domain.Predicate {
	return func(pc domain.PluginContext) bool {
		cfg, ok := plugin.ConfigAs[*Config](pc, Name)
		if !ok {
			return true
		}
		return !cfg.skips(phase, id)
	}
}

func parseCommands(raw []any) ([]Command, error) {
	out := make([]Command, 0, len(raw))
	for i, entry := range raw {
		switch v := entry.(type) {
		case string:
			out = append(out, Command{Run: v})
		case map[string]any:
			var c Command
			if err := mapstructure.Decode(v, &c); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
			if c.Run == "" {
				return nil, fmt.Errorf("entry %d: run is required", i+1)
			}
			out = append(out, c)
		default:
			return nil, fmt.Errorf("entry %d: expected string or table, got %T", i+1, entry)
		}
	}
	return out, nil
}
