package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/engine"
	"github.com/hochfrequenz/phaseforge/internal/project"
	"github.com/hochfrequenz/phaseforge/internal/schedule"
	"github.com/hochfrequenz/phaseforge/internal/watch"
)

// RunOptions selects the phase and the targets of a run
type RunOptions struct {
	Phase      string
	Module     string
	AllModules bool
	Args       []string
	// Env is layered over the project and module environment
	Env domain.Environment
	// KeepGoing runs the remaining targets after one fails
	KeepGoing bool
}

// ErrRunFailed is returned when at least one execution failed
var ErrRunFailed = errors.New("run failed")

// Run executes the phase once per selected target, in declaration order. Every
// execution is delivered to out and to the configured sinks.
func (a *App) Run(ctx context.Context, opts RunOptions, out domain.EventSink) ([]domain.ExecutionStatus, error) {
	targets, err := a.Project.Targets(opts.Module, opts.AllModules)
	if err != nil {
		return nil, err
	}
	return a.runTargets(ctx, opts, targets, out)
}

func (a *App) runTargets(ctx context.Context, opts RunOptions, targets []project.Target, out domain.EventSink) ([]domain.ExecutionStatus, error) {
	fan := a.Sink(out)
	var statuses []domain.ExecutionStatus
	failed := false
	for _, t := range targets {
		st := a.Engine.Run(ctx, engine.RunRequest{
			Target:    opts.Phase,
			Project:   t.Context,
			Args:      opts.Args,
			Env:       t.Env.Merge(opts.Env),
			Overrides: t.Overrides,
		}, fan)
		statuses = append(statuses, st)
		if st.Status == domain.RunFailed {
			failed = true
			if !opts.KeepGoing {
				break
			}
		}
	}
	if failed {
		return statuses, ErrRunFailed
	}
	return statuses, nil
}

// Watch reruns the phase whenever files below the project change. With modules
// declared and no module selected, only the modules owning changed files run. It
// blocks until ctx is cancelled.
func (a *App) Watch(ctx context.Context, opts RunOptions, out domain.EventSink) error {
	changes := make(chan []string, 1)
	w, err := watch.New(a.Project.Dir, func(changed []string) {
		select {
		case changes <- changed:
		default:
			// A run is pending already; it will pick up the tree as it is
		}
	}, watch.Options{
		Debounce: a.Config.Watch.Debounce.Duration,
		Ignore:   a.Config.Watch.Ignore,
		Logger:   a.Logger,
	})
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.Stop()

	a.Logger.Info("watching for changes", "dir", a.Project.Dir, "phase", opts.Phase)
	for {
		select {
		case <-ctx.Done():
			return nil
		case changed := <-changes:
			targets, err := a.watchTargets(opts, changed)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				continue
			}
			a.Logger.Debug("change detected", "files", len(changed), "targets", len(targets))
			// Failures are reported through the sinks; watching continues
			_, _ = a.runTargets(ctx, opts, targets, out)
		}
	}
}

func (a *App) watchTargets(opts RunOptions, changed []string) ([]project.Target, error) {
	if opts.Module != "" || len(a.Project.Modules) == 0 {
		return a.Project.Targets(opts.Module, false)
	}

	seen := make(map[string]bool)
	var names []string
	for _, path := range changed {
		name := a.Project.ModuleFor(path)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		if opts.AllModules {
			return nil, nil
		}
		return []project.Target{a.Project.Root()}, nil
	}
	sort.Strings(names)

	targets := make([]project.Target, 0, len(names))
	for _, name := range names {
		t, err := a.Project.Module(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Jobs converts the configured schedules into scheduler jobs
func (a *App) Jobs() []schedule.Job {
	jobs := make([]schedule.Job, 0, len(a.Config.Schedules))
	for i, s := range a.Config.Schedules {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", s.Phase, i+1)
		}
		jobs = append(jobs, schedule.Job{Name: name, Cron: s.Cron, Phase: s.Phase, Module: s.Module})
	}
	return jobs
}

// Schedule runs the configured cron jobs until ctx is cancelled
func (a *App) Schedule(ctx context.Context, out domain.EventSink) error {
	sched, err := schedule.NewScheduler(a.Jobs(), a.Logger)
	if err != nil {
		return err
	}
	for _, name := range sched.Names() {
		a.Logger.Info("scheduled", "job", name, "next", sched.NextRun(name, time.Now()).Format(time.RFC3339))
	}
	sched.Start(ctx, func(ctx context.Context, job schedule.Job) error {
		_, err := a.Run(ctx, RunOptions{Phase: job.Phase, Module: job.Module}, out)
		return err
	})
	return nil
}
