package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/phaseforge/internal/app"
	"github.com/hochfrequenz/phaseforge/internal/schedule"
	"github.com/hochfrequenz/phaseforge/internal/sink"
	"github.com/hochfrequenz/phaseforge/tui"
	"github.com/spf13/cobra"
)

var (
	runModule     string
	runAllModules bool
	runEnv        map[string]string
	runTUI        bool
	runVerbose    bool
	runKeepGoing  bool
	scheduleList  bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run PHASE [ARGS...]",
		Short: "Run a phase and its prerequisites",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	addTargetFlags(runCmd)
	runCmd.Flags().StringToStringVar(&runEnv, "env", nil, "extra environment variables (KEY=VALUE)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show a live terminal UI")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print task output")
	runCmd.Flags().BoolVar(&runKeepGoing, "keep-going", false, "run remaining modules after a failure")
	rootCmd.AddCommand(runCmd)

	// plan command
	planCmd := &cobra.Command{
		Use:   "plan PHASE",
		Short: "Show the phases and tasks a run would execute",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	rootCmd.AddCommand(planCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch PHASE",
		Short: "Rerun a phase whenever project files change",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	addTargetFlags(watchCmd)
	watchCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print task output")
	rootCmd.AddCommand(watchCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured cron schedules",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().BoolVar(&scheduleList, "list", false, "list schedules and their next run, then exit")
	rootCmd.AddCommand(scheduleCmd)
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runModule, "module", "", "run for one module")
	cmd.Flags().BoolVar(&runAllModules, "all-modules", false, "run for every module")
}

func loadApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		ProjectDir: projectDir,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := app.RunOptions{
		Phase:      args[0],
		Module:     runModule,
		AllModules: runAllModules,
		Args:       args[1:],
		Env:        runEnv,
		KeepGoing:  runKeepGoing,
	}
	if runTUI {
		return runWithTUI(ctx, cancel, a, opts)
	}

	_, err = a.Run(ctx, opts, sink.NewConsole(os.Stdout, runVerbose))
	return err
}

func runWithTUI(ctx context.Context, cancel context.CancelFunc, a *app.App, opts app.RunOptions) error {
	plan, err := a.Engine.Plan(opts.Phase)
	if err != nil {
		return err
	}

	feed := tui.NewFeed(0)
	model := tui.NewModel(tui.ModelConfig{Target: opts.Phase, Plan: plan, Feed: feed})

	runErr := make(chan error, 1)
	go func() {
		_, err := a.Run(ctx, opts, feed)
		feed.Close(err)
		runErr <- err
	}()

	p := tea.NewProgram(model, tea.WithAltScreen())
	final, uiErr := p.Run()

	// Quitting early cancels the tasks still running
	cancel()
	feed.Stop()
	err = <-runErr

	if m, ok := final.(tui.Model); ok {
		for _, ex := range m.Executions() {
			if ex.Status != nil {
				fmt.Println(sink.Summary(*ex.Status, time.Now()))
			}
		}
	}
	return errors.Join(uiErr, err)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.Engine.Plan(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tTASK\tCONDITIONAL")
	for _, step := range plan {
		if len(step.Tasks) == 0 {
			fmt.Fprintf(w, "%s\t-\t\n", step.Phase.ID())
			continue
		}
		for _, e := range step.Tasks {
			cond := ""
			if e.Predicate != nil {
				cond = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", step.Phase.ID(), e.Task.ID(), cond)
		}
	}
	return w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Fail early on unknown phases
	if _, err := a.Engine.Plan(args[0]); err != nil {
		return err
	}

	fmt.Printf("Watching %s for changes (Ctrl+C to stop)\n", a.Project.Dir)
	return a.Watch(ctx, app.RunOptions{
		Phase:      args[0],
		Module:     runModule,
		AllModules: runAllModules,
		KeepGoing:  true,
	}, sink.NewConsole(os.Stdout, runVerbose))
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := a.Jobs()
	if len(jobs) == 0 {
		return errors.New("no schedules configured")
	}

	if scheduleList {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCRON\tPHASE\tMODULE\tNEXT")
		now := time.Now()
		for _, j := range jobs {
			module := j.Module
			if module == "" {
				module = "-"
			}
			next := "invalid"
			if sched, err := schedule.ParseCron(j.Cron); err == nil {
				next = humanize.Time(sched.Next(now))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.Name, j.Cron, j.Phase, module, next)
		}
		return w.Flush()
	}

	fmt.Printf("Running %d schedules: %s\n", len(jobs), jobNames(jobs))
	return a.Schedule(ctx, sink.NewConsole(os.Stdout, false))
}

func jobNames(jobs []schedule.Job) string {
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	return strings.Join(names, ", ")
}
