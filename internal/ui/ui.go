// Package ui provides terminal output helpers for the nd CLI.
//
// Styling is disabled automatically when stdout is not a terminal, so piped
// output stays plain.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// styled reports whether styled output should be emitted.
func styled() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// RenderAccent renders informational highlights.
func RenderAccent(s string) string {
	if !styled() {
		return s
	}
	return accentStyle.Render(s)
}

// RenderPass renders success markers.
func RenderPass(s string) string {
	if !styled() {
		return s
	}
	return passStyle.Render(s)
}

// RenderWarn renders warnings.
func RenderWarn(s string) string {
	if !styled() {
		return s
	}
	return warnStyle.Render(s)
}

// RenderFail renders failure markers.
func RenderFail(s string) string {
	if !styled() {
		return s
	}
	return failStyle.Render(s)
}
