// Package git is a builtin plugin for git workflows: Conventional Commits validation
// in the commit-msg phase and installation of hook scripts that call back into phaseforge.
package git

import (
	"fmt"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/phasegraph"
	"github.com/hochfrequenz/phaseforge/internal/plugin"
)

// Name is the builtin name and configuration key
const Name = "git"

// Task identifiers
const (
	ValidateCommitMessage = "validate-commit-message"
	InstallHooks          = "install-hooks"
)

// Config is the git plugin configuration
type Config struct {
	// Binary is the command hook scripts invoke
	Binary string `mapstructure:"binary"`
	// HooksDir holds template overrides named <hook>.tmpl
	HooksDir string `mapstructure:"hooks_dir"`
	// Hooks limits which hooks are installed; empty means all
	Hooks []string `mapstructure:"hooks"`
	// Force overwrites hooks not written by phaseforge
	Force bool `mapstructure:"force"`
	// Validate toggles commit message validation
	Validate bool `mapstructure:"validate"`
}

// Plugin contributes the git tasks
type Plugin struct{}

// New returns the git plugin
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) ID() string        { return Name }
func (p *Plugin) ConfigKey() string { return Name }

func (p *Plugin) NewConfig() any {
	return &Config{Binary: "phaseforge", Validate: true}
}

func (p *Plugin) Register(host *plugin.Host) error {
	cfg, ok := host.Config.(*Config)
	if !ok || cfg == nil {
		return fmt.Errorf("git: unexpected config type %T", host.Config)
	}

	validate := domain.NewTask(phasegraph.CommitMsg, ValidateCommitMessage, validateCommitMessage)
	if err := host.Tasks.AddWhen(validate, validationEnabled); err != nil {
		return err
	}

	installer := &hookInstaller{base: cfg}
	if err := host.Tasks.Add(domain.NewTask(phasegraph.Init, InstallHooks, installer.run)); err != nil {
		return err
	}
	return nil
}

func validationEnabled(pc domain.PluginContext) bool {
	cfg, ok := plugin.ConfigAs[*Config](pc, Name)
	if !ok {
		return true
	}
	return cfg.Validate
}
