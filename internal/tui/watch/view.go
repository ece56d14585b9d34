package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func (m *Model) render() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderSlotsPanel())
	sections = append(sections, m.renderFeedPanel())
	sections = append(sections, m.renderStatusBar())
	if m.showHelp {
		sections = append(sections, m.help.View(m.keys))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	title := TitleStyle.Render("loom watch")
	return HeaderStyle.Render(title)
}

func (m *Model) renderSlotsPanel() string {
	style := SlotsPanelStyle
	if m.focusedPanel == PanelSlots {
		style = FocusedBorderStyle
	}
	return style.Width(m.width - 2).Render(m.slotsViewport.View())
}

func (m *Model) renderFeedPanel() string {
	style := FeedPanelStyle
	if m.focusedPanel == PanelFeed {
		style = FocusedBorderStyle
	}
	return style.Width(m.width - 2).Render(m.feedViewport.View())
}

// renderSlots renders shepherd slots and support roles. Caller must hold m.mu.
func (m *Model) renderSlots() string {
	if len(m.slots) == 0 && len(m.roles) == 0 {
		return SlotIdleStyle.Render("No shepherds or support roles yet")
	}

	var lines []string
	lines = append(lines, RoleLabelStyle.Render("shepherds/"))
	for _, s := range m.slots {
		line := fmt.Sprintf("  %s  %s", s.SlotID, statusStyle(s.Status).Render(s.Status))
		if s.Issue != nil {
			line += "  " + issueString(s.Issue)
		}
		if s.Phase != "" {
			line += "  phase=" + s.Phase
		}
		if s.IdleReason != "" {
			line += "  (" + s.IdleReason
			if s.IdleSince != nil {
				line += ", idle " + formatAge(time.Since(*s.IdleSince))
			}
			line += ")"
		}
		lines = append(lines, line)
	}

	if len(m.roles) > 0 {
		lines = append(lines, "")
		lines = append(lines, RoleLabelStyle.Render("support roles/"))
		for _, r := range m.roles {
			lines = append(lines, fmt.Sprintf("  %-10s %s", r.RoleID, statusStyle(r.Status).Render(r.Status)))
		}
	}

	return strings.Join(lines, "\n")
}

// renderFeed renders the milestone feed, most recent first. Caller must
// hold m.mu.
func (m *Model) renderFeed() string {
	if len(m.events) == 0 {
		return SlotIdleStyle.Render("No activity yet")
	}

	var lines []string
	start := 0
	if len(m.events) > 200 {
		start = len(m.events) - 200
	}
	for i := len(m.events) - 1; i >= start; i-- {
		lines = append(lines, m.renderEvent(m.events[i]))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderEvent(e Event) string {
	ts := TimestampStyle.Render(e.Time.Format("15:04:05"))

	var style lipgloss.Style
	switch e.Type {
	case "complete":
		style = EventCompleteStyle
	case "fail":
		style = EventFailStyle
	case "intervene":
		style = EventInterveneStyle
	default:
		style = EventMilestoneStyle
	}

	return fmt.Sprintf("%s %s %s", ts, style.Render(e.Source+":"), e.Message)
}

func (m *Model) renderStatusBar() string {
	var panelName string
	switch m.focusedPanel {
	case PanelSlots:
		panelName = "slots"
	case PanelFeed:
		panelName = "feed"
	}
	left := fmt.Sprintf("[%s] %d events", panelName, len(m.events))
	help := m.renderShortHelp()

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(help) - 4
	if gap < 1 {
		gap = 1
	}
	return StatusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + help)
}

func (m *Model) renderShortHelp() string {
	hints := []string{
		HelpKeyStyle.Render("tab") + HelpDescStyle.Render(":switch"),
		HelpKeyStyle.Render("r") + HelpDescStyle.Render(":refresh"),
		HelpKeyStyle.Render("q") + HelpDescStyle.Render(":quit"),
		HelpKeyStyle.Render("?") + HelpDescStyle.Render(":help"),
	}
	return strings.Join(hints, "  ")
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
