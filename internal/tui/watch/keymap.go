package watch

import "github.com/charmbracelet/bubbles/key"

// KeyMap binds keys for the watch dashboard.
type KeyMap struct {
	Quit        key.Binding
	Help        key.Binding
	Tab         key.Binding
	FocusSlots  key.Binding
	FocusFeed   key.Binding
	Refresh     key.Binding
	Up          key.Binding
	Down        key.Binding
}

// DefaultKeyMap returns the watch dashboard's key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "switch panel"),
		),
		FocusSlots: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "slots"),
		),
		FocusFeed: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "feed"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Up: key.NewBinding(key.WithKeys("k", "up")),
		Down: key.NewBinding(key.WithKeys("j", "down")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.FocusSlots, k.FocusFeed, k.Tab},
		{k.Up, k.Down, k.Refresh},
		{k.Help, k.Quit},
	}
}
