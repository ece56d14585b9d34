package watch

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("62")
	colorDim       = lipgloss.Color("240")
	colorHighlight = lipgloss.Color("214")
	colorSuccess   = lipgloss.Color("42")
	colorWarning   = lipgloss.Color("214")
	colorError     = lipgloss.Color("203")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)

	HeaderStyle = lipgloss.NewStyle().Padding(0, 1)

	FilterStyle = lipgloss.NewStyle().Foreground(colorDim)

	SlotsPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	FeedPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	FocusedBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Padding(0, 1)

	SlotIdleStyle    = lipgloss.NewStyle().Foreground(colorDim)
	SlotWorkingStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	SlotErroredStyle = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	SlotPausedStyle  = lipgloss.NewStyle().Foreground(colorWarning)

	RoleLabelStyle = lipgloss.NewStyle().Foreground(colorHighlight)
	TimestampStyle = lipgloss.NewStyle().Foreground(colorDim)

	EventMilestoneStyle = lipgloss.NewStyle().Foreground(colorPrimary)
	EventCompleteStyle  = lipgloss.NewStyle().Foreground(colorSuccess)
	EventFailStyle      = lipgloss.NewStyle().Foreground(colorError)
	EventInterveneStyle = lipgloss.NewStyle().Foreground(colorWarning)

	StatusBarStyle = lipgloss.NewStyle().Foreground(colorDim).Padding(0, 1)
	HelpKeyStyle   = lipgloss.NewStyle().Foreground(colorHighlight)
	HelpDescStyle  = lipgloss.NewStyle().Foreground(colorDim)
)

// statusStyle picks the style for a shepherd slot or support role status
// string ("idle", "working", "errored", "paused").
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "working", "running":
		return SlotWorkingStyle
	case "errored":
		return SlotErroredStyle
	case "paused":
		return SlotPausedStyle
	default:
		return SlotIdleStyle
	}
}
