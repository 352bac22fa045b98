// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianFlow/services/workflow/assets"
	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/media"
)

// VideoDownloader streams a remote video to a local file.
type VideoDownloader interface {
	Download(ctx context.Context, url, destPath string) (int64, error)
}

// DurationProber returns the length of a media file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FrameExtractor writes one frame of a video to an image file.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, input string, seek float64, output string) error
}

// FrameConfig configures a FrameExecutor.
type FrameConfig struct {
	Downloader VideoDownloader
	Prober     DurationProber
	Extractor  FrameExtractor

	// Store is optional; without it frames are returned as data URIs.
	Store assets.Store

	// ScratchDir is the parent of per-invocation working directories.
	// Empty uses os.TempDir().
	ScratchDir string

	// MaxInlineBytes caps the decoded size of an embedded video.
	MaxInlineBytes int64

	Logger *slog.Logger
}

// FrameExecutor extracts a still frame from the first upstream video.
type FrameExecutor struct {
	cfg FrameConfig
}

// NewFrameExecutor creates a FrameExecutor.
func NewFrameExecutor(cfg FrameConfig) *FrameExecutor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInlineBytes <= 0 {
		cfg.MaxInlineBytes = fetch.DefaultMaxBytes
	}
	return &FrameExecutor{cfg: cfg}
}

// Execute materialises the video in a scratch directory, probes its
// duration, resolves the timestamp and extracts one frame. The scratch
// directory is removed on every path.
func (f *FrameExecutor) Execute(ctx context.Context, req Request, d graph.ExtractFrameData) (Output, error) {
	const op = "extract-frame"
	if len(req.Inputs) == 0 {
		return Output{}, flowerr.Validationf(op, "no input connected to node %s", req.NodeID)
	}
	in, ok := firstOfKind(req.Inputs, graph.OutputVideo)
	if !ok {
		return Output{}, flowerr.Validationf(op, "missing input: node %s has no upstream video", req.NodeID)
	}

	// Reject a malformed timestamp before any I/O.
	ts, err := media.ParseTimestamp(string(d.Timestamp))
	if err != nil {
		return Output{}, err
	}

	scratch, err := os.MkdirTemp(f.cfg.ScratchDir, "frame-*")
	if err != nil {
		return Output{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			f.cfg.Logger.Warn("failed to remove scratch dir",
				slog.String("path", scratch),
				slog.String("error", err.Error()))
		}
	}()

	videoPath, err := f.materialize(ctx, in.Output.Value, scratch)
	if err != nil {
		return Output{}, err
	}

	duration, err := f.cfg.Prober.Duration(ctx, videoPath)
	if err != nil {
		return Output{}, err
	}
	seek, err := ts.Seek(duration)
	if err != nil {
		return Output{}, err
	}

	framePath := filepath.Join(scratch, "frame.jpg")
	if err := f.cfg.Extractor.ExtractFrame(ctx, videoPath, seek, framePath); err != nil {
		return Output{}, err
	}
	frame, err := os.ReadFile(framePath)
	if err != nil {
		return Output{}, fmt.Errorf("read frame: %w", err)
	}

	f.cfg.Logger.Debug("extracted frame",
		slog.String("node_id", req.NodeID),
		slog.String("timestamp", ts.String()),
		slog.Float64("duration_s", duration),
		slog.Float64("seek_s", seek))

	ref, err := assets.Deliver(ctx, f.cfg.Store, frame, assets.Hint{RunID: req.RunID, NodeID: req.NodeID, ContentType: "image/jpeg"})
	if err != nil {
		return Output{}, err
	}
	return ImageOutput(ref), nil
}

// materialize writes the referenced video into dir and returns its path.
func (f *FrameExecutor) materialize(ctx context.Context, ref, dir string) (string, error) {
	const op = "extract-frame"
	switch {
	case fetch.IsDataURI(ref):
		uri, err := fetch.ParseDataURILimit(ref, f.cfg.MaxInlineBytes)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, "input"+fetch.Extension(uri.MIME))
		if err := os.WriteFile(path, uri.Data, 0o600); err != nil {
			return "", fmt.Errorf("write video: %w", err)
		}
		return path, nil
	case fetch.IsHTTPURL(ref):
		path := filepath.Join(dir, "input.video")
		if _, err := f.cfg.Downloader.Download(ctx, ref, path); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", flowerr.Validationf(op, "unsupported video reference")
	}
}
