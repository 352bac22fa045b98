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
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

const (
	// DefaultProbeTimeout bounds a duration probe.
	DefaultProbeTimeout = 30 * time.Second

	// DefaultExtractTimeout bounds a frame extraction.
	DefaultExtractTimeout = 60 * time.Second
)

// durationPattern matches the "Duration: HH:MM:SS.frac" line that the probe
// binary writes to its diagnostics.
var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseDuration extracts the media duration in seconds from probe output.
func ParseDuration(diagnostics string) (float64, bool) {
	m := durationPattern.FindStringSubmatch(diagnostics)
	if m == nil {
		return 0, false
	}
	h, err1 := strconv.Atoi(m[1])
	mins, err2 := strconv.Atoi(m[2])
	secs, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(mins)*60 + secs, true
}

// Prober reads the duration of a media file.
type Prober struct {
	Runner  Runner
	Binary  string
	Timeout time.Duration
}

// Duration returns the length of the media at path in seconds.
//
// Probing without an output makes the binary exit non-zero while still
// printing the container header, so the duration is parsed from both streams
// regardless of the exit code. Only when no duration is found is a non-zero
// exit reported.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	const op = "probe duration"
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	res, err := p.Runner.Run(ctx, p.Binary, []string{"-hide_banner", "-i", path}, timeout)
	if err != nil {
		return 0, err
	}

	if d, ok := ParseDuration(res.Stderr + "\n" + res.Stdout); ok {
		return d, nil
	}
	if res.ExitCode != 0 {
		return 0, flowerr.ExternalServicef(op, "exit code %d%s", res.ExitCode, tailSuffix(res.Stderr))
	}
	return 0, flowerr.ExternalServicef(op, "no duration in probe output%s", tailSuffix(res.Stderr))
}

// Extractor writes a single frame of a video to an image file.
type Extractor struct {
	Runner  Runner
	Binary  string
	Timeout time.Duration
}

// ExtractFrame seeks to seek seconds in input and writes one frame to output.
// It succeeds only if the binary exits 0 and output exists and is non-empty.
func (e *Extractor) ExtractFrame(ctx context.Context, input string, seek float64, output string) error {
	const op = "extract frame"
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		output,
	}
	res, err := e.Runner.Run(ctx, e.Binary, args, timeout)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return flowerr.ExternalServicef(op, "exit code %d%s", res.ExitCode, tailSuffix(res.Stderr))
	}

	info, err := os.Stat(output)
	if err != nil {
		return flowerr.ExternalService(op, fmt.Errorf("no frame written at %.3fs: %w", seek, err))
	}
	if info.Size() == 0 {
		return flowerr.ExternalServicef(op, "empty frame written at %.3fs", seek)
	}
	return nil
}
