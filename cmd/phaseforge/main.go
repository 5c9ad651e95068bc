package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	projectDir string
	rootCmd    = &cobra.Command{
		Use:   "phaseforge",
		Short: "phaseforge - pluggable build and CI orchestration",
		Long: `phaseforge runs a project through an ordered graph of phases (lint, build, test,
release, git hooks, ...). Plugins contribute phases and the tasks bound to them;
a run executes every task of the requested phase and its prerequisites in order
and stops at the first failure.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "project directory (default: working directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
