// Package app wires configuration, plugins, the engine and the event sinks together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/config"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/engine"
	"github.com/hochfrequenz/phaseforge/internal/eventstream"
	"github.com/hochfrequenz/phaseforge/internal/history"
	"github.com/hochfrequenz/phaseforge/internal/logging"
	"github.com/hochfrequenz/phaseforge/internal/notify"
	"github.com/hochfrequenz/phaseforge/internal/phasegraph"
	"github.com/hochfrequenz/phaseforge/internal/plugin"
	"github.com/hochfrequenz/phaseforge/internal/plugins/git"
	"github.com/hochfrequenz/phaseforge/internal/plugins/shell"
	"github.com/hochfrequenz/phaseforge/internal/pluginsource"
	"github.com/hochfrequenz/phaseforge/internal/project"
	"github.com/hochfrequenz/phaseforge/internal/registry"
	"github.com/hochfrequenz/phaseforge/internal/sink"
)

// streamDrainTimeout bounds how long Close waits for queued stream messages
const streamDrainTimeout = 5 * time.Second

// Options configures New
type Options struct {
	// ConfigPath is an explicit config file; empty searches for .phaseforge.toml
	// and then the user config
	ConfigPath string
	// LogLevel overrides the configured level when set
	LogLevel string
	// ProjectDir is where the project descriptor is searched from; empty means the
	// working directory
	ProjectDir string
	// LogWriter receives log output when no log file is configured
	LogWriter io.Writer
	// Builtins adds builtin plugins next to git and shell
	Builtins map[string]plugin.Factory
	// NoHistory disables the execution history database
	NoHistory bool
}

// App is a loaded, ready to run phaseforge instance
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Project  *project.Project
	Engine   *engine.Engine
	Bindings *plugin.Bindings
	Report   plugin.Report
	History  *history.Store
	// GitHub is the release source, also used for update checks
	GitHub *pluginsource.GitHubSource

	notifier     *notify.Sink
	stream       *eventstream.Client
	cancelStream context.CancelFunc
	closeLog     func() error
}

// New loads configuration and plugins and builds the engine. Plugins that fail to
// load are reported in App.Report and logged; they do not fail New.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.LoadWithLocalFallback(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.General.LogLevel = opts.LogLevel
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.General.LogLevel,
		Format: cfg.General.LogFormat,
		Path:   cfg.General.LogFile,
		Writer: opts.LogWriter,
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, closeLog: closeLog}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	dir := opts.ProjectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}
	proj, err := project.LoadOrDefault(dir)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	a.Project = proj

	if err := a.loadPlugins(ctx, opts.Builtins); err != nil {
		return err
	}

	if a.Config.General.HistoryDB != "" && !opts.NoHistory {
		if err := os.MkdirAll(filepath.Dir(a.Config.General.HistoryDB), 0755); err != nil {
			return fmt.Errorf("creating history dir: %w", err)
		}
		var hopts []history.Option
		if a.Config.General.RecordOutput {
			hopts = append(hopts, history.WithOutput())
		}
		store, err := history.New(a.Config.General.HistoryDB, hopts...)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		a.History = store
	}

	a.notifier = newNotifier(a.Config.Notifications)

	if a.Config.Stream.URL != "" {
		client, err := eventstream.NewClient(eventstream.Config{
			URL:   a.Config.Stream.URL,
			Token: a.Config.Stream.Token,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		streamCtx, cancel := context.WithCancel(context.Background())
		a.stream = client
		a.cancelStream = cancel
		go func() {
			if err := client.Run(streamCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Warn("event stream stopped", "error", err)
			}
		}()
	}
	return nil
}

func (a *App) loadPlugins(ctx context.Context, extra map[string]plugin.Factory) error {
	cfg := a.Config
	graph := phasegraph.NewDefault(a.Logger)
	tasks := registry.New(a.Logger)
	a.Bindings = plugin.NewBindings()

	builtins := plugin.NewBuiltinOpener().
		Add(git.Name, git.New).
		Add(shell.Name, shell.New)
	for name, f := range extra {
		builtins.Add(name, f)
	}

	a.GitHub = pluginsource.NewGitHubSource(cfg.General.CacheDir, cfg.General.GitHubToken, a.Logger)
	resolver := pluginsource.NewResolver(a.Logger,
		a.GitHub,
		pluginsource.NewRepositorySource(cfg.General.RepositoryURL, cfg.General.CacheDir, a.Logger),
		&pluginsource.LocalSource{BaseDir: a.Project.Dir},
		pluginsource.NewBuiltinSource(builtins.Names()...),
	)
	opener := plugin.Openers{Builtin: builtins, Fallback: plugin.NewSharedObjectOpener()}
	loader := plugin.NewLoader(resolver, opener, graph, tasks, a.Bindings, plugin.WithLogger(a.Logger))

	report, err := loader.Load(ctx, cfg.Plugins)
	if err != nil {
		return err
	}
	a.Report = report
	for _, res := range report.Failed() {
		a.Logger.Warn("plugin not loaded", "plugin", res.Config.String(), "error", res.Err)
	}

	eng, err := engine.New(graph, tasks, a.Bindings, engine.WithLogger(a.Logger))
	if err != nil {
		return err
	}
	a.Engine = eng
	return nil
}

func newNotifier(cfg config.NotificationsConfig) *notify.Sink {
	var notifiers []notify.Notifier
	if cfg.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notify.NewSink(notify.NewMultiNotifier(notifiers...), true)
}

// Sink returns the fan-out of extra plus every configured sink: structured log,
// history, notifications and the event stream
func (a *App) Sink(extra ...domain.EventSink) *sink.Fanout {
	f := sink.NewFanout(extra...)
	f.Add(sink.NewSlog(a.Logger))
	if a.History != nil {
		f.Add(a.History)
	}
	if a.notifier != nil {
		f.Add(a.notifier)
	}
	if a.stream != nil {
		f.Add(a.stream)
	}
	return f
}

// Close releases the history database and flushes the event stream
func (a *App) Close() error {
	var errs []error
	if a.stream != nil {
		a.stream.Close()
		select {
		case <-a.stream.Done():
		case <-time.After(streamDrainTimeout):
			a.Logger.Warn("event stream did not drain in time")
		}
		a.cancelStream()
	}
	if a.History != nil {
		errs = append(errs, a.History.Close())
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}
