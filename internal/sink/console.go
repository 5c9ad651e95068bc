package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize/english"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

var (
	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	moduleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// Console renders events as human readable lines
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	now     func() time.Time
}

// NewConsole creates a console renderer. With verbose set, task output lines are
// printed too.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose, now: time.Now}
}

func (c *Console) Emit(ev domain.ExecutionEvent) error {
	line := c.render(ev)
	if line == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *Console) render(ev domain.ExecutionEvent) string {
	prefix := ""
	if ev.SubProject != "" {
		prefix = moduleStyle.Render("["+ev.SubProject+"]") + " "
	}
	switch ev.Type {
	case domain.EventUpdated:
		return prefix + phaseStyle.Render("▸ "+ev.PhaseID)
	case domain.EventStarted:
		if !c.verbose {
			return ""
		}
		return prefix + "  " + ev.TaskID + "..."
	case domain.EventCompleted:
		msg := "  " + okStyle.Render("✓") + " " + ev.TaskID
		if ev.Message != "" {
			msg += ": " + ev.Message
		}
		return prefix + msg
	case domain.EventSkipped:
		msg := prefix + "  " + skipStyle.Render("- "+ev.TaskID+" (skipped)")
		if !ev.Success && ev.Message != "" {
			msg += ": " + failStyle.Render(ev.Message)
			if ev.ErrorDetail != "" {
				msg += " (" + ev.ErrorDetail + ")"
			}
		}
		return msg
	case domain.EventFailed:
		name := ev.TaskID
		if name == "" {
			name = ev.PhaseID
		}
		var b strings.Builder
		b.WriteString(prefix + "  " + failStyle.Render("✗ "+name))
		if ev.Message != "" {
			b.WriteString(": " + ev.Message)
		}
		if ev.ErrorDetail != "" {
			for _, l := range strings.Split(ev.ErrorDetail, "\n") {
				b.WriteString("\n" + prefix + "      " + l)
			}
		}
		return b.String()
	case domain.EventOutput:
		if !c.verbose {
			return ""
		}
		return prefix + "    " + outputStyle.Render(ev.Message)
	}
	return ""
}

func (c *Console) Finished(st domain.ExecutionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, Summary(st, c.now()))
	return err
}

// Summary formats a one-line result for a finished execution
func Summary(st domain.ExecutionStatus, now time.Time) string {
	parts := []string{english.Plural(st.CompletedTasks, "task", "") + " completed"}
	if st.SkippedTasks > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", st.SkippedTasks))
	}
	if st.FailedTasks > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", st.FailedTasks))
	}
	text := fmt.Sprintf("%s %s: %s in %s",
		st.TaskID,
		strings.ToLower(string(st.Status)),
		strings.Join(parts, ", "),
		st.Duration(now).Round(time.Millisecond),
	)
	if st.Status == domain.RunFailed {
		return failStyle.Render(text)
	}
	return okStyle.Render(text)
}
