package main

import (
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "plan", "phases", "tasks", "plugins", "history", "watch", "schedule"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRunFlags(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}
	for _, flag := range []string{"module", "all-modules", "env", "tui", "verbose", "keep-going"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("run is missing --%s", flag)
		}
	}
	for _, flag := range []string{"config", "log-level", "project"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing global --%s", flag)
		}
	}
}

func TestOrDash(t *testing.T) {
	if orDash("") != "-" || orDash("x") != "x" {
		t.Error("orDash")
	}
}
