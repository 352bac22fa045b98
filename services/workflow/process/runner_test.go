// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// --- ExecRunner Tests ---

func TestExecRunner_RejectsUnsetBinary(t *testing.T) {
	r := NewExecRunner(nil, nil)
	_, err := r.Run(context.Background(), "", nil, time.Second)
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration), "error = %v", err)
}

func TestExecRunner_RejectsMissingBinary(t *testing.T) {
	r := NewExecRunner(nil, nil)

	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "ffprobe"), nil, time.Second)
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration), "error = %v", err)

	_, err = r.Run(context.Background(), "definitely-not-a-real-binary-4711", nil, time.Second)
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration), "error = %v", err)

	_, err = r.Run(context.Background(), t.TempDir()+string(os.PathSeparator), nil, time.Second)
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration), "error = %v", err)
}

func TestExecRunner_CapturesOutputAndExitCode(t *testing.T) {
	r := NewExecRunner(nil, nil)
	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2; exit 3"}, 5*time.Second)

	require.NoError(t, err, "non-zero exit is reported in the result")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestExecRunner_Timeout(t *testing.T) {
	metrics := &recordingMetrics{}
	r := NewExecRunner(nil, metrics)

	start := time.Now()
	_, err := r.Run(context.Background(), "sh", []string{"-c", "sleep 5"}, 100*time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrExternalService), "error = %v", err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, []string{OutcomeTimeout}, metrics.outcomes)
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) ObserveProcess(_, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}

func TestStderrTail(t *testing.T) {
	assert.Equal(t, "short", StderrTail("  short\n", 10))
	assert.Equal(t, "...6789", StderrTail("0123456789", 4))
}

// --- Prober Tests ---

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s", 10.0, true},
		{"Duration: 01:02:03.5", 3723.5, true},
		{"Duration: 00:00:07", 7, true},
		{"Duration: N/A, bitrate: N/A", 0, false},
		{"nothing here", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDuration(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestProber_ParsesDespiteNonZeroExit(t *testing.T) {
	mock := &MockRunner{
		RunFunc: func(_ context.Context, _ string, _ []string, _ time.Duration) (*Result, error) {
			return &Result{
				Stderr:   "Input #0, mov,mp4\n  Duration: 00:00:10.00, start: 0.000000\nAt least one output file must be specified",
				ExitCode: 1,
			}, nil
		},
	}
	p := &Prober{Runner: mock, Binary: "ffmpeg"}

	d, err := p.Duration(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 10.0, d)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].Binary)
	assert.Equal(t, []string{"-hide_banner", "-i", "/tmp/in.mp4"}, calls[0].Args)
}

func TestProber_NoDuration(t *testing.T) {
	mock := &MockRunner{
		RunFunc: func(_ context.Context, _ string, _ []string, _ time.Duration) (*Result, error) {
			return &Result{Stderr: "/tmp/in.mp4: Invalid data found when processing input", ExitCode: 1}, nil
		},
	}
	p := &Prober{Runner: mock, Binary: "ffmpeg"}

	_, err := p.Duration(context.Background(), "/tmp/in.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrExternalService))
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestProber_PropagatesRunnerError(t *testing.T) {
	mock := &MockRunner{
		RunFunc: func(_ context.Context, _ string, _ []string, _ time.Duration) (*Result, error) {
			return nil, flowerr.Configurationf("resolve binary", "binary path is not set")
		},
	}
	p := &Prober{Runner: mock}

	_, err := p.Duration(context.Background(), "/tmp/in.mp4")
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration))
}

// --- Extractor Tests ---

func TestExtractor(t *testing.T) {
	tests := []struct {
		name      string
		exitCode  int
		writeFile []byte
		wantErr   bool
	}{
		{"frame written", 0, []byte("jpeg"), false},
		{"exit zero without file", 0, nil, true},
		{"exit zero with empty file", 0, []byte{}, true},
		{"non-zero exit", 1, []byte("jpeg"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "frame.jpg")
			var gotArgs []string
			mock := &MockRunner{
				RunFunc: func(_ context.Context, _ string, args []string, _ time.Duration) (*Result, error) {
					gotArgs = args
					if tt.writeFile != nil {
						if err := os.WriteFile(out, tt.writeFile, 0o600); err != nil {
							return nil, err
						}
					}
					return &Result{ExitCode: tt.exitCode, Stderr: "boom"}, nil
				},
			}
			e := &Extractor{Runner: mock, Binary: "ffmpeg"}

			err := e.ExtractFrame(context.Background(), "/tmp/in.mp4", 5, out)
			if tt.wantErr {
				assert.True(t, errors.Is(err, flowerr.ErrExternalService), "error = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, strings.Join(gotArgs, " "), "-ss 5.000 -i /tmp/in.mp4 -frames:v 1")
		})
	}
}
