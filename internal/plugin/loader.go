package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/phasegraph"
	"github.com/hochfrequenz/phaseforge/internal/pluginsource"
	"github.com/hochfrequenz/phaseforge/internal/registry"
	"golang.org/x/sync/errgroup"
)

// DefaultResolveConcurrency bounds parallel artifact downloads
const DefaultResolveConcurrency = 4

// Result is the outcome of loading one configured plugin
type Result struct {
	Config   pluginsource.Config
	Artifact pluginsource.Artifact
	PluginID string
	Key      string
	Phases   int
	Tasks    int
	Duration time.Duration
	Err      error
}

// Loaded reports whether the plugin was committed
func (r Result) Loaded() bool { return r.Err == nil }

// Report lists load results in configuration order
type Report struct {
	Results []Result
}

// Loaded returns the number of committed plugins
func (r Report) Loaded() int {
	n := 0
	for _, res := range r.Results {
		if res.Loaded() {
			n++
		}
	}
	return n
}

// Failed returns the results of plugins that were not committed
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Loaded() {
			out = append(out, res)
		}
	}
	return out
}

// Err joins all load failures, or returns nil
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Config.String(), res.Err))
	}
	return errors.Join(errs...)
}

// Loader resolves configured plugins and registers them into a shared graph,
// registry and set of bindings
type Loader struct {
	resolver    *pluginsource.Resolver
	opener      Opener
	graph       *phasegraph.Graph
	tasks       *registry.Registry
	bindings    *Bindings
	concurrency int
	logger      *slog.Logger
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithResolveConcurrency bounds how many artifacts are resolved in parallel
func WithResolveConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithLogger sets the loader's logger
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader committing into graph, tasks and bindings
func NewLoader(resolver *pluginsource.Resolver, opener Opener, graph *phasegraph.Graph, tasks *registry.Registry, bindings *Bindings, opts ...LoaderOption) *Loader {
	l := &Loader{
		resolver:    resolver,
		opener:      opener,
		graph:       graph,
		tasks:       tasks,
		bindings:    bindings,
		concurrency: DefaultResolveConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "plugin-loader")
	return l
}

// Load resolves all configs concurrently, then registers the plugins one by one in
// configuration order. A failing plugin is recorded in the report and skipped; the
// returned error is only non-nil when ctx is cancelled before loading finishes.
func (l *Loader) Load(ctx context.Context, configs []pluginsource.Config) (Report, error) {
	results := make([]Result, len(configs))
	for i, cfg := range configs {
		results[i].Config = cfg
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i := range configs {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i].Err = gctx.Err()
				return nil
			}
			art, err := l.resolver.Resolve(gctx, configs[i])
			results[i].Artifact = art
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{Results: results}, err
	}

	for i := range results {
		res := &results[i]
		if res.Err != nil {
			l.logger.Error("plugin resolution failed", "plugin", res.Config.String(), "source", res.Config.Type, "error", res.Err)
			continue
		}
		start := time.Now()
		l.loadOne(res)
		res.Duration = time.Since(start)
		if res.Err != nil {
			l.logger.Error("plugin load failed", "plugin", res.Config.String(), "error", res.Err)
			continue
		}
		l.logger.Info("plugin loaded",
			"plugin", res.PluginID,
			"key", res.Key,
			"phases", res.Phases,
			"tasks", res.Tasks,
			"duration", res.Duration,
		)
	}
	return Report{Results: results}, nil
}

// loadOne opens, configures and registers one plugin. A panic anywhere in plugin
// code fails only this plugin; nothing is committed before the last step.
func (l *Loader) loadOne(res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("plugin %s panicked while loading: %v", res.Config.String(), r)
		}
	}()

	p, err := l.opener.Open(res.Artifact)
	if err != nil {
		res.Err = err
		return
	}
	res.PluginID = p.ID()
	res.Key = p.ConfigKey()

	if l.bindings.Has(res.Key) {
		res.Err = domain.NewConfigurationError(domain.ErrDuplicateContextKey, res.Key)
		return
	}

	value, err := decodeSettings(p.NewConfig, res.Config.Settings)
	if err != nil {
		res.Err = fmt.Errorf("decoding settings: %w", err)
		return
	}

	host := &Host{
		Phases: phasegraph.New(l.logger),
		Tasks:  registry.New(l.logger),
		Config: value,
		Logger: l.logger.With("plugin", res.PluginID),
	}
	if err := register(p, res.PluginID, host); err != nil {
		res.Err = err
		return
	}

	if err := l.graph.CanMerge(host.Phases); err != nil {
		res.Err = err
		return
	}
	if err := l.tasks.CanMerge(host.Tasks); err != nil {
		res.Err = err
		return
	}
	if err := l.graph.Merge(host.Phases); err != nil {
		res.Err = err
		return
	}
	if err := l.tasks.Merge(host.Tasks); err != nil {
		res.Err = err
		return
	}
	if err := l.bindings.commit(res.Key, p.NewConfig, res.Config.Settings, value); err != nil {
		res.Err = err
		return
	}
	res.Phases = len(host.Phases.Phases())
	res.Tasks = host.Tasks.Count()
}

func register(p Plugin, id string, host *Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked during registration: %v", id, r)
		}
	}()
	if err := p.Register(host); err != nil {
		return fmt.Errorf("registering %s: %w", id, err)
	}
	return nil
}
