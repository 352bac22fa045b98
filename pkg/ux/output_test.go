// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	if !p.Plain() {
		t.Error("expected a non-terminal writer to be plain")
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status string
		want   Icon
	}{
		{"completed", IconSuccess},
		{"success", IconSuccess},
		{"failed", IconError},
		{"cancelled", IconWarning},
		{"running", IconRunning},
		{"skipped", IconSkipped},
		{"pending", IconPending},
		{"", IconPending},
	}
	for _, tt := range tests {
		if got := StatusIcon(tt.status); got != tt.want {
			t.Errorf("StatusIcon(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestPrinter_PlainMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("note")

	want := "OK: done\nWARN: careful\nERROR: broken\nnote\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrinter_PlainWaves(t *testing.T) {
	var buf bytes.Buffer
	NewPlainPrinter(&buf).Waves([][]string{{"A", "B"}, {"C"}})

	want := "0\tA,B\n1\tC\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrinter_PlainRows(t *testing.T) {
	var buf bytes.Buffer
	NewPlainPrinter(&buf).Rows([]Row{
		{Status: "completed", Name: "A", Kind: "text", Detail: "a cat"},
		{Status: "failed", Name: "B", Kind: "inference", Detail: "boom"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[1] != "failed\tB\tinference\tboom" {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestPrinter_StyledRowsContainNames(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf}
	p.Rows([]Row{{Status: "success", Name: "frame", Kind: "extract-frame"}})

	out := buf.String()
	if !strings.Contains(out, "frame") || !strings.Contains(out, string(IconSuccess)) {
		t.Errorf("styled row missing content: %q", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"hello", 1, "…"},
		{"hello", 0, "hello"},
		{"héllo wörld", 3, "hé…"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
