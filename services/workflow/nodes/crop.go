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

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianFlow/services/workflow/assets"
	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/media"
)

// MediaLoader resolves a data URI or http(s) URL to bytes and a MIME type.
// *fetch.Downloader implements it.
type MediaLoader interface {
	Load(ctx context.Context, ref string) ([]byte, string, error)
}

// CropExecutor crops the first upstream image.
type CropExecutor struct {
	loader MediaLoader
	store  assets.Store
	logger *slog.Logger

	// Concurrent crops of the same remote image share one fetch, across runs.
	group singleflight.Group
}

// NewCropExecutor creates a CropExecutor. store may be nil, in which case
// crops are returned as data URIs.
func NewCropExecutor(loader MediaLoader, store assets.Store, logger *slog.Logger) *CropExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CropExecutor{loader: loader, store: store, logger: logger}
}

type loaded struct {
	data []byte
	mime string
}

// Execute crops the image by the percentages in d.
func (c *CropExecutor) Execute(ctx context.Context, req Request, d graph.CropData) (Output, error) {
	const op = "crop"
	if len(req.Inputs) == 0 {
		return Output{}, flowerr.Validationf(op, "no input connected to node %s", req.NodeID)
	}
	in, ok := firstOfKind(req.Inputs, graph.OutputImage)
	if !ok {
		return Output{}, flowerr.Validationf(op, "missing input: node %s has no upstream image", req.NodeID)
	}

	img, err := c.load(ctx, in.Output.Value)
	if err != nil {
		return Output{}, err
	}

	out, mime, rect, err := media.CropImage(img.data, float64(d.X), float64(d.Y), float64(d.Width), float64(d.Height))
	if err != nil {
		return Output{}, err
	}
	c.logger.Debug("cropped image",
		slog.String("node_id", req.NodeID),
		slog.Int("left", rect.Left),
		slog.Int("top", rect.Top),
		slog.Int("width", rect.Width),
		slog.Int("height", rect.Height))

	ref, err := assets.Deliver(ctx, c.store, out, assets.Hint{RunID: req.RunID, NodeID: req.NodeID, ContentType: mime})
	if err != nil {
		return Output{}, err
	}
	return ImageOutput(ref), nil
}

func (c *CropExecutor) load(ctx context.Context, ref string) (loaded, error) {
	if !fetch.IsHTTPURL(ref) {
		data, mime, err := c.loader.Load(ctx, ref)
		return loaded{data: data, mime: mime}, err
	}
	// The shared fetch outlives any one caller, so it runs detached and is
	// bounded by the loader's own timeout. Each caller stops waiting when its
	// own context ends.
	ch := c.group.DoChan(ref, func() (any, error) {
		data, mime, err := c.loader.Load(context.WithoutCancel(ctx), ref)
		return loaded{data: data, mime: mime}, err
	})
	select {
	case <-ctx.Done():
		return loaded{}, flowerr.ExternalService("crop", fmt.Errorf("load image: %w", ctx.Err()))
	case r := <-ch:
		if r.Err != nil {
			return loaded{}, r.Err
		}
		return r.Val.(loaded), nil
	}
}
