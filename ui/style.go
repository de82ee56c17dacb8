package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	successColor = lipgloss.Color("10")
	failureColor = lipgloss.Color("9")
	mutedColor   = lipgloss.Color("8")
	accentColor  = lipgloss.Color("205")
)

// Colorize applies the given color to the text using lipgloss.
// color is an RGB value such as 0x1bd96a.
func Colorize(text string, color int) string {
	hexColor := fmt.Sprintf("#%06x", color)
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(hexColor))
	return style.Render(text)
}

func Success(text string) string {
	return lipgloss.NewStyle().Foreground(successColor).Render(text)
}

func Failure(text string) string {
	return lipgloss.NewStyle().Foreground(failureColor).Render(text)
}

func Muted(text string) string {
	return lipgloss.NewStyle().Foreground(mutedColor).Render(text)
}

func Heading(text string) string {
	return lipgloss.NewStyle().Bold(true).Render(text)
}

// AccentStyle is used for spinners and highlighted names.
func AccentStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(accentColor)
}

// Verdict renders a compatibility verdict.
func Verdict(passing bool) string {
	if passing {
		return Success("compatible")
	}
	return Failure("incompatible")
}
