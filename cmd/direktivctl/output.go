// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Colour palette.
var (
	colorAccent  = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")
)

type styles struct {
	header  lipgloss.Style
	cell    lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
}

// printer renders command results as tables or JSON. Colours are only
// emitted when w is a terminal.
type printer struct {
	w      io.Writer
	format string
	styles styles
}

func newPrinter(w io.Writer, format string) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		w:      w,
		format: format,
		styles: styles{
			header:  r.NewStyle().Bold(true).Foreground(colorAccent).PaddingRight(2),
			cell:    r.NewStyle().PaddingRight(2),
			success: r.NewStyle().Foreground(colorAccent),
			warn:    r.NewStyle().Foreground(colorWarning),
			err:     r.NewStyle().Bold(true).Foreground(colorError),
			muted:   r.NewStyle().Foreground(colorMuted),
		},
	}
}

// Result prints v as JSON, or as a table built by rows.
func (p *printer) Result(v any, headers []string, rows [][]string) error {
	if p.format == "json" {
		return p.JSON(v)
	}
	return p.Table(headers, rows)
}

// JSON prints v indented.
func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table prints rows under headers without borders.
func (p *printer) Table(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, p.styles.muted.Render("No resources found."))
		return err
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.header
			}
			return p.styles.cell
		})
	_, err := fmt.Fprintln(p.w, t.String())
	return err
}

// Success prints a confirmation line. JSON output stays machine
// readable, so nothing is printed there.
func (p *printer) Success(format string, args ...any) {
	if p.format == "json" {
		return
	}
	fmt.Fprintln(p.w, p.styles.success.Render("✓"), fmt.Sprintf(format, args...))
}

// Line prints a plain line.
func (p *printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// =============================================================================
// Confirmation
// =============================================================================

// confirm asks before a destructive action. --yes skips the question;
// without a terminal the action is refused.
func (a *app) confirm(action string) error {
	if a.assumeYes {
		return nil
	}
	if !a.interactive() {
		return usageError(fmt.Errorf("refusing to %s without confirmation; pass --yes", action))
	}

	ok := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Really %s?", action)).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	return nil
}

// =============================================================================
// Formatting helpers
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return strconv.FormatFloat(float64(n)/(1<<20), 'f', 1, 64) + "M"
	case n >= 1<<10:
		return strconv.FormatFloat(float64(n)/(1<<10), 'f', 1, 64) + "K"
	default:
		return strconv.FormatInt(n, 10)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
