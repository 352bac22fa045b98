// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"DEBUG", LevelDebug, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Service: "flow", JSON: true, Output: &buf})
	defer logger.Close()

	logger.Info("filtered")
	logger.Warn("kept", "run_id", "r1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("console output is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["service"] != "flow" || rec["run_id"] != "r1" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelDebug, Service: "flowctl", Quiet: true, LogDir: dir})

	logger.Slog().Debug("from slog", slog.String("node_id", "a"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "flowctl_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"node_id":"a"`) {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestExporter_ReceivesSlogRecords(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "flow", Quiet: true, Exporter: exp})

	child := logger.Slog().With("run_id", "r1").WithGroup("node")
	child.Info("finished", "id", "b")
	child.Debug("filtered")

	entries := exp.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "finished" || e.Level != LevelInfo || e.Service != "flow" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Attrs["run_id"] != "r1" || e.Attrs["node.id"] != "b" {
		t.Errorf("unexpected attrs %v", e.Attrs)
	}
	if _, ok := e.Attrs["service"]; ok {
		t.Error("service should be carried on the entry, not in attrs")
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.With("component", "engine").Error("boom")

	if !strings.Contains(buf.String(), "component=engine") {
		t.Errorf("child attributes missing: %q", buf.String())
	}
}

func TestLogger_CloseTwice(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir(), Exporter: NopExporter{}})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
