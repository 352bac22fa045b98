// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the AleutianFlow CLI.
//
// A Printer styles its output with the Aleutian palette when it writes to a
// terminal and falls back to plain, tab separated text otherwise, so that
// piped output stays greppable.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconRunning Icon = "›"
	IconSkipped Icon = "–"
)

// StatusIcon maps a run or node status to its icon.
func StatusIcon(status string) Icon {
	switch status {
	case "completed", "success":
		return IconSuccess
	case "failed":
		return IconError
	case "cancelled":
		return IconWarning
	case "running":
		return IconRunning
	case "skipped":
		return IconSkipped
	default:
		return IconPending
	}
}

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	default:
		return Styles.Muted
	}
}

// Printer writes styled CLI output.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter returns a Printer for w. Styling is enabled only when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: !isTerminal(w) || os.Getenv("NO_COLOR") != ""}
}

// NewPlainPrinter returns a Printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: true}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether output is unstyled.
func (p *Printer) Plain() bool { return p.plain }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

// Title prints a heading. Plain output omits it.
func (p *Printer) Title(text string) {
	if p.plain {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconSuccess), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconWarning), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconError), Styles.Error.Render(text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

func (p *Printer) icon(i Icon) string {
	return p.render(i.style(), string(i))
}

// Waves prints the execution order, one wave per line.
func (p *Printer) Waves(waves [][]string) {
	for i, wave := range waves {
		if p.plain {
			fmt.Fprintf(p.w, "%d\t%s\n", i, strings.Join(wave, ","))
			continue
		}
		label := Styles.Muted.Render(fmt.Sprintf("wave %d", i))
		fmt.Fprintf(p.w, "%s  %s\n", label, Styles.Bold.Render(strings.Join(wave, "  ")))
	}
}

// Row is one line of a status listing.
type Row struct {
	Status string
	Name   string
	Kind   string
	Detail string
}

// Rows prints a status listing. Plain output is tab separated.
func (p *Printer) Rows(rows []Row) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Name))
	}
	for _, r := range rows {
		if p.plain {
			fmt.Fprintf(p.w, "%s\t%s\t%s\t%s\n", r.Status, r.Name, r.Kind, r.Detail)
			continue
		}
		line := fmt.Sprintf("%s %-*s %s", p.icon(StatusIcon(r.Status)), width, r.Name, Styles.Muted.Render(r.Kind))
		if r.Detail != "" {
			style := Styles.Muted
			if r.Status == "failed" {
				style = Styles.Error
			}
			line += "  " + style.Render(r.Detail)
		}
		fmt.Fprintln(p.w, line)
	}
}

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
