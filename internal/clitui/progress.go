// Package clitui provides the two small interactive surfaces paude shows
// on top of an otherwise scriptable CLI: an animated spinner while `create`
// materializes a session, and the colored status table for `list`.
package clitui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// doneMsg carries the result of the background operation back into Update.
type doneMsg struct {
	err error
}

// ProgressModel drives a single long-running session operation (create,
// start) behind a spinner: the operation runs in the background as soon as
// the program starts and reports back via a result message.
type ProgressModel struct {
	label   string
	run     func() error
	spinner spinner.Model
	err     error
	done    bool
}

// NewProgressModel builds a model that runs fn in the background as soon
// as the program starts, showing label next to an animated spinner until
// fn returns.
func NewProgressModel(label string, fn func() error) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return ProgressModel{label: label, run: fn, spinner: s}
}

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, runCmd(m.run))
}

func runCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: fn()}
	}
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m ProgressModel) View() string {
	if m.done {
		if m.err != nil {
			return errStyle.Render("✗ "+m.label) + ": " + m.err.Error() + "\n"
		}
		return okStyle.Render("✓ "+m.label) + "\n"
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), labelStyle.Render(m.label))
}

// Err returns the error the background operation finished with, if any.
// Call only after the program has returned from p.Run().
func (m ProgressModel) Err() error { return m.err }
