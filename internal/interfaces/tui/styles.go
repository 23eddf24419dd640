// Package tui is the interactive console: inbox on the left, the open
// conversation on the right, composer and status bar at the bottom.
package tui

import "github.com/charmbracelet/lipgloss"

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(colorGray)
	selectedStyle = lipgloss.NewStyle().Foreground(colorWhite).Background(colorDimCyan).Bold(true)
	unreadStyle   = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(colorRed)
	okStyle       = lipgloss.NewStyle().Foreground(colorGreen)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
	activePaneStyle = paneStyle.BorderForeground(colorCyan)

	statusBarStyle = lipgloss.NewStyle().Foreground(colorWhite).Background(colorDim).Padding(0, 1)

	contactNameStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	adminNameStyle   = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	aiNameStyle      = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	separatorStyle   = lipgloss.NewStyle().Foreground(colorDim)
)
