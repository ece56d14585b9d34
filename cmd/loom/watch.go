package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rjwalters/loom/internal/tui/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard over shepherd slots, support roles, and recent activity",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	dc, err := buildDaemonContext(cmd.Context())
	if err != nil {
		return err
	}

	model := watch.NewModel(dc.store)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}
