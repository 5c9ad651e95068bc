package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/history"
	"github.com/hochfrequenz/phaseforge/internal/pluginsource"
	"github.com/hochfrequenz/phaseforge/internal/sink"
	"github.com/spf13/cobra"
)

var (
	historyLimit    int
	historyStatus   string
	historyProject  string
	historyPrune    time.Duration
	pluginsOutdated bool
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "phases",
		Short: "List registered phases",
		RunE:  runPhases,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tasks",
		Short: "List registered tasks per phase",
		RunE:  runTasks,
	})

	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Show configured plugins and their load result",
		RunE:  runPlugins,
	}
	pluginsCmd.Flags().BoolVar(&pluginsOutdated, "outdated", false, "check github plugins for newer releases")
	rootCmd.AddCommand(pluginsCmd)

	historyCmd := &cobra.Command{
		Use:   "history [EXECUTION]",
		Short: "List past executions or show the events of one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of executions")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (COMPLETED, FAILED, RUNNING)")
	historyCmd.Flags().StringVar(&historyProject, "project-name", "", "filter by project name")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete executions older than this age, e.g. 720h")
	rootCmd.AddCommand(historyCmd)
}

func runPhases(cmd *cobra.Command, args []string) error {
	a, err := loadApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tFAMILY\tAFTER\tSPECIALIZES\tDESCRIPTION")
	for _, p := range a.Engine.Graph().Phases() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID(), p.Family(), orDash(strings.Join(p.DependsOn(), ",")), orDash(p.Specializes()), p.Description())
	}
	return w.Flush()
}

func runTasks(cmd *cobra.Command, args []string) error {
	a, err := loadApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	tasks := a.Engine.Tasks()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tTASK")
	for _, phase := range tasks.Phases() {
		for _, e := range tasks.TasksFor(phase) {
			fmt.Fprintf(w, "%s\t%s\n", phase, e.Task.ID())
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d tasks\n", tasks.Count())
	return nil
}

func runPlugins(cmd *cobra.Command, args []string) error {
	a, err := loadApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	if pluginsOutdated {
		return printOutdated(cmd.Context(), a.GitHub, a.Config.Plugins)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tSOURCE\tKEY\tPHASES\tTASKS\tTIME\tSTATUS")
	for _, res := range a.Report.Results {
		status := "loaded"
		if !res.Loaded() {
			status = "error: " + res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			res.Config.String(), res.Config.Type, orDash(res.Key), res.Phases, res.Tasks,
			res.Duration.Round(time.Millisecond), status)
	}
	return w.Flush()
}

func printOutdated(ctx context.Context, src *pluginsource.GitHubSource, configs []pluginsource.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	updates, err := src.Outdated(ctx, configs)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		fmt.Println("All github plugins are up to date")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tREPO\tCURRENT\tLATEST")
	for _, u := range updates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Config.Name, u.Config.Repo, u.Config.Version, u.Latest)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.History == nil {
		return fmt.Errorf("history is disabled: set general.history_db")
	}

	if historyPrune > 0 {
		n, err := a.History.Prune(time.Now().Add(-historyPrune))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d executions\n", n)
		return nil
	}

	if len(args) == 1 {
		return showExecution(a.History, args[0])
	}

	runs, err := a.History.List(history.ListOptions{
		Project: historyProject,
		Status:  domain.RunStatus(strings.ToUpper(historyStatus)),
		Limit:   historyLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tMODULE\tPHASE\tSTATUS\tTASKS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.ID, r.Project, orDash(r.Module), r.Target, r.Status,
			r.CompletedTasks, r.TotalTasks, humanize.Time(r.StartedAt), r.Duration().Round(time.Millisecond))
	}
	return w.Flush()
}

func showExecution(store *history.Store, id string) error {
	exec, err := store.Get(id)
	if err != nil {
		return err
	}
	events, err := store.Events(id)
	if err != nil {
		return err
	}

	console := sink.NewConsole(os.Stdout, true)
	for _, ev := range events {
		if err := console.Emit(ev); err != nil {
			return err
		}
	}

	fmt.Printf("\n%s %s: %d of %d tasks completed, %d skipped, %d failed (%s, took %s)\n",
		exec.Target, strings.ToLower(string(exec.Status)),
		exec.CompletedTasks, exec.TotalTasks, exec.SkippedTasks, exec.FailedTasks,
		humanize.Time(exec.StartedAt), exec.Duration().Round(time.Millisecond))
	if exec.Error != "" {
		fmt.Println(exec.Error)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
