package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary  = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	colorDim      = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#626262"}
	colorAccent   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	colorStatusBg = lipgloss.AdaptiveColor{Light: "#E8E8E8", Dark: "#16213E"}
	colorStatusFg = lipgloss.AdaptiveColor{Light: "#3D3D3D", Dark: "#ABABAB"}
	colorUp       = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#25D366"}
	colorDown     = lipgloss.AdaptiveColor{Light: "#D62D20", Dark: "#FF5F56"}

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			PaddingLeft(1)

	headerTimeStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Align(lipgloss.Right)

	rankStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	titleStyle = lipgloss.NewStyle().
			Bold(true)

	volumeStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	contenderStyle = lipgloss.NewStyle().
			Foreground(colorStatusFg)

	upStyle = lipgloss.NewStyle().
		Foreground(colorUp)

	downStyle = lipgloss.NewStyle().
			Foreground(colorDown)

	flatStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorAccent)

	statusBarStyle = lipgloss.NewStyle().
			Background(colorStatusBg).
			Foreground(colorStatusFg).
			PaddingLeft(1).
			PaddingRight(1)
)
