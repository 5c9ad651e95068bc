package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/hochfrequenz/phaseforge/internal/plugin"
)

const (
	// tailLines is how much output is kept for the failure detail
	tailLines = 20
	// waitDelay bounds how long output is drained after the command was killed
	waitDelay = 2 * time.Second
)

type commandTask struct {
	id    string
	phase string
	cmd   Command
	base  *Config
}

func (t *commandTask) ID() string    { return t.id }
func (t *commandTask) Phase() string { return t.phase }

func (t *commandTask) Execute(ctx context.Context, inv domain.Invocation) domain.TaskResult {
	cfg := t.base
	if target, ok := plugin.ConfigAs[*Config](inv.Plugins, Name); ok && target != nil {
		cfg = target
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}
	// Positional args become "$@" inside the command
	args := append([]string{"-c", t.cmd.Run, "phaseforge"}, inv.Args...)
	cmd := exec.CommandContext(ctx, shell, args...)

	cmd.Dir = inv.Project.Dir
	if t.cmd.Dir != "" {
		if filepath.IsAbs(t.cmd.Dir) {
			cmd.Dir = t.cmd.Dir
		} else {
			cmd.Dir = filepath.Join(inv.Project.Dir, t.cmd.Dir)
		}
	}

	// Set environment
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, domain.Environment(cfg.Env).Pairs()...)
	cmd.Env = append(cmd.Env, inv.Env.Pairs()...)
	cmd.Env = append(cmd.Env,
		"PHASEFORGE_PHASE="+t.phase,
		"PHASEFORGE_TASK="+t.id,
		"PHASEFORGE_PROJECT="+inv.Project.Name,
		"PHASEFORGE_MODULE="+inv.Project.SubProject,
	)

	out := inv.Output
	if out == nil {
		out = io.Discard
	}
	// One writer for both streams keeps their lines in order
	lines := &lineSplitter{out: out, tail: &tailBuffer{max: tailLines}}
	cmd.Stdout = lines
	cmd.Stderr = lines
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return domain.Failure(fmt.Sprintf("starting %q failed", t.cmd.Run), err)
	}

	err := cmd.Wait()
	lines.flush()
	if err == nil {
		return domain.Success(t.cmd.Run)
	}

	detail := err.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		detail = fmt.Sprintf("timed out after %s", cfg.Timeout)
	}
	if text := lines.tail.String(); text != "" {
		detail += "\n" + text
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return domain.TaskResult{
			Outcome:     domain.OutcomeFailure,
			Message:     fmt.Sprintf("%q exited with code %d", t.cmd.Run, exitErr.ExitCode()),
			ErrorDetail: detail,
		}
	}
	return domain.TaskResult{
		Outcome:     domain.OutcomeFailure,
		Message:     fmt.Sprintf("%q failed", t.cmd.Run),
		ErrorDetail: detail,
	}
}

// lineSplitter forwards complete lines to out and remembers the last ones
type lineSplitter struct {
	mu   sync.Mutex
	out  io.Writer
	buf  []byte
	tail *tailBuffer
}

func (l *lineSplitter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.line(string(bytes.TrimRight(l.buf[:i], "\r")))
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineSplitter) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.line(string(l.buf))
		l.buf = nil
	}
}

func (l *lineSplitter) line(s string) {
	l.tail.add(s)
	fmt.Fprintln(l.out, s)
}

// tailBuffer keeps the last max lines
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (b *tailBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
