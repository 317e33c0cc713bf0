package clitui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/paude/paude/internal/session"
)

var phaseStyles = map[session.Phase]lipgloss.Style{
	session.PhaseRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	session.PhaseStopped:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	session.PhaseError:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	session.PhasePending:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	session.PhaseDeleting: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
}

// RenderPhase colors a Phase the way the status column of `paude list`
// highlights it, one lipgloss style per state.
func RenderPhase(p session.Phase) string {
	style, ok := phaseStyles[p]
	if !ok {
		return string(p)
	}
	return style.Render(string(p))
}

// RenderSessionTable renders the session list the way `paude list` prints
// it to an interactive terminal: a lipgloss-colored status column plus a
// legacy marker for pre-StatefulSet-schema remote pods.
func RenderSessionTable(sessions []session.Session) string {
	var b strings.Builder
	header := lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("%-20s %-8s %-10s %-30s", "NAME", "BACKEND", "PHASE", "IMAGE"))
	b.WriteString(header)
	b.WriteString("\n")
	for _, s := range sessions {
		legacy := ""
		if s.Legacy {
			legacy = " (legacy)"
		}
		fmt.Fprintf(&b, "%-20s %-8s %-19s %-30s%s\n",
			s.Name, s.Backend, RenderPhase(s.Phase), s.ImageTag, legacy)
	}
	return b.String()
}
