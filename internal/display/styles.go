package display

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	muted       lipgloss.Style
	errorStatus lipgloss.Style
	ready       lipgloss.Style
	bar         lipgloss.Style
	footer      lipgloss.Style
}

func defaultTheme() theme {
	blue := lipgloss.Color("#4d9de0")
	pink := lipgloss.Color("#e15554")
	mint := lipgloss.Color("#3bb273")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3af")

	return theme{
		header: lipgloss.NewStyle().
			Foreground(text).
			Bold(true).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(blue).
			Foreground(lipgloss.Color("#0b1320")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		muted:       lipgloss.NewStyle().Foreground(muted),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		ready:       lipgloss.NewStyle().Foreground(mint),
		bar:         lipgloss.NewStyle().Foreground(blue),
		footer:      lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
	}
}
