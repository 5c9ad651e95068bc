package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize/english"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" phaseforge │ %s │ %s │ %s ",
		m.target, english.Plural(len(m.executions), "execution", ""), m.elapsed())
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderExecutions()))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var detail string
	switch m.activeTab {
	case TabTasks:
		detail = m.renderTasks()
	case TabOutput:
		detail = m.renderOutput()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(detail))
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) elapsed() string {
	return m.now().Sub(m.started).Round(time.Second).String()
}

func (m Model) current() *ExecutionView {
	if m.selected < 0 || m.selected >= len(m.executions) {
		return nil
	}
	return m.executions[m.selected]
}

func (m Model) renderExecutions() string {
	if len(m.executions) == 0 {
		return dimmedStyle.Render("waiting for the first execution...")
	}
	var lines []string
	for i, ex := range m.executions {
		marker := "  "
		label := ex.Label
		if i == m.selected {
			marker = "▸ "
			label = selectedStyle.Render(label)
		}
		lines = append(lines, marker+label+"  "+executionState(ex))
	}
	return strings.Join(lines, "\n")
}

func executionState(ex *ExecutionView) string {
	if ex.Status == nil {
		if ex.Phase == "" {
			return runningStyle.Render("● starting")
		}
		return runningStyle.Render("● " + ex.Phase)
	}
	st := ex.Status
	counts := fmt.Sprintf("%d/%d", st.CompletedTasks, st.TotalTasks)
	if st.SkippedTasks > 0 {
		counts += fmt.Sprintf(", %d skipped", st.SkippedTasks)
	}
	if st.Status == domain.RunFailed {
		return failedStyle.Render("✗ failed") + " " + dimmedStyle.Render(counts)
	}
	return completedStyle.Render("✓ completed") + " " + dimmedStyle.Render(counts)
}

func (m Model) renderTabs() string {
	names := []string{"Tasks", "Output"}
	var parts []string
	for i, name := range names {
		if Tab(i) == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(name))
		} else {
			parts = append(parts, tabInactiveStyle.Render(name))
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderTasks() string {
	ex := m.current()
	if ex == nil {
		return dimmedStyle.Render("no tasks yet")
	}
	if len(ex.Tasks) == 0 {
		return dimmedStyle.Render("nothing to run")
	}

	var b strings.Builder
	phase := ""
	for _, t := range ex.Tasks {
		if t.Phase != phase {
			phase = t.Phase
			b.WriteString(phaseStyle.Render(phase))
			b.WriteString("\n")
		}
		b.WriteString("  " + m.renderTask(t))
		b.WriteString("\n")
	}
	if ex.Failure != "" {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render(ex.Failure))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderTask(t *TaskRow) string {
	switch t.State {
	case TaskRunning:
		d := m.now().Sub(t.Started).Round(time.Second)
		return runningStyle.Render("● "+t.ID) + dimmedStyle.Render(fmt.Sprintf(" (%s)", d))
	case TaskDone:
		return completedStyle.Render("✓ "+t.ID) + withMessage(t.Message)
	case TaskFailed:
		return failedStyle.Render("✗ "+t.ID) + withMessage(t.Message)
	case TaskSkipped:
		return dimmedStyle.Render("- " + t.ID + " (skipped)")
	default:
		return dimmedStyle.Render("  " + t.ID)
	}
}

func withMessage(msg string) string {
	if msg == "" {
		return ""
	}
	return dimmedStyle.Render(": " + msg)
}

func (m Model) renderOutput() string {
	ex := m.current()
	if ex == nil || len(ex.Output) == 0 {
		return dimmedStyle.Render("no output")
	}
	lines := ex.Output
	// Leave room for header, executions and status bar
	visible := m.height - len(m.executions) - 9
	if visible < 5 {
		visible = 5
	}
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStatusBar() string {
	help := " q quit │ tab switch view │ j/k select execution "
	if m.done {
		result := completedStyle.Render(" done ")
		if m.err != nil {
			result = failedStyle.Render(" " + m.err.Error() + " ")
		}
		help = result + "│" + help
	}
	return statusBarStyle.Width(m.width).Render(help)
}
