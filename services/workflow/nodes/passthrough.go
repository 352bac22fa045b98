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
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
)

// PassthroughExecutor returns the literal or reference a source node holds.
type PassthroughExecutor struct{}

// Text returns the configured prompt.
func (PassthroughExecutor) Text(req Request, d graph.TextData) (Output, error) {
	if strings.TrimSpace(d.Text) == "" {
		return Output{}, flowerr.Validationf("text", "missing input: node %s has no text", req.NodeID)
	}
	return TextOutput(d.Text), nil
}

// Image returns the uploaded image reference.
func (PassthroughExecutor) Image(req Request, d graph.ImageSourceData) (Output, error) {
	if strings.TrimSpace(d.ImageURL) == "" {
		return Output{}, flowerr.Validationf("image-source", "missing input: node %s has no image", req.NodeID)
	}
	return ImageOutput(d.ImageURL), nil
}

// Video returns the uploaded video reference.
func (PassthroughExecutor) Video(req Request, d graph.VideoSourceData) (Output, error) {
	if strings.TrimSpace(d.VideoURL) == "" {
		return Output{}, flowerr.Validationf("video-source", "missing input: node %s has no video", req.NodeID)
	}
	return VideoOutput(d.VideoURL), nil
}
