package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			if m.selected < len(m.executions)-1 {
				m.selected++
			}
		case "k", "up":
			if m.selected > 0 {
				m.selected--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % 2
		case "o":
			m.activeTab = TabOutput
		case "t":
			m.activeTab = TabTasks
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case EventMsg:
		m.apply(domain.ExecutionEvent(msg))
		// Follow the newest execution
		m.selected = len(m.executions) - 1
		return m, m.next()

	case StatusMsg:
		m.finish(domain.ExecutionStatus(msg))
		return m, m.next()

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

func (m Model) next() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return m.feed.wait()
}
