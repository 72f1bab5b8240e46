// Package ui provides terminal output styling for the shiftd commands.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// RenderPass styles success output.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warning output.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles failure output.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles informational highlights.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// Badge renders a sync state as a colored label.
func Badge(state schema.SyncState) string {
	switch state {
	case schema.StateSynced:
		return RenderPass("synced")
	case schema.StateDirty:
		return RenderWarn("pending")
	case schema.StateStuck:
		return RenderFail("stuck")
	default:
		return state.String()
	}
}
