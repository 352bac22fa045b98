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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
)

// ErrNilExecutor is returned by NewRegistry when an executor is missing.
var ErrNilExecutor = errors.New("executor must not be nil")

// Executors lists one executor per node kind. Text, image-source and
// video-source share the passthrough executor.
type Executors struct {
	Passthrough *PassthroughExecutor
	Crop        *CropExecutor
	Frame       *FrameExecutor
	Inference   *InferenceExecutor
}

// Registry dispatches requests to the executor for their kind.
//
// # Thread Safety
//
// Safe for concurrent use once built.
type Registry struct {
	passthrough *PassthroughExecutor
	crop        *CropExecutor
	frame       *FrameExecutor
	inference   *InferenceExecutor
}

// NewRegistry builds a registry, failing if any executor is nil.
func NewRegistry(ex Executors) (*Registry, error) {
	checks := []struct {
		name  string
		isNil bool
	}{
		{"passthrough", ex.Passthrough == nil},
		{"crop", ex.Crop == nil},
		{"frame", ex.Frame == nil},
		{"inference", ex.Inference == nil},
	}
	for _, c := range checks {
		if c.isNil {
			return nil, fmt.Errorf("%w: %s", ErrNilExecutor, c.name)
		}
	}
	return &Registry{
		passthrough: ex.Passthrough,
		crop:        ex.Crop,
		frame:       ex.Frame,
		inference:   ex.Inference,
	}, nil
}

// Dispatch runs the executor for req.Data's kind.
func (r *Registry) Dispatch(ctx context.Context, req Request) (Output, error) {
	if req.Data == nil {
		return Output{}, fmt.Errorf("node %q: no decoded data", req.NodeID)
	}
	d := &dispatcher{r: r, ctx: ctx, req: req}
	if err := req.Data.Accept(d); err != nil {
		return Output{}, err
	}
	return d.out, nil
}

// dispatcher is the single place that maps a kind to an executor.
type dispatcher struct {
	r   *Registry
	ctx context.Context
	req Request
	out Output
}

var _ graph.Visitor = (*dispatcher)(nil)

func (d *dispatcher) VisitText(data graph.TextData) (err error) {
	d.out, err = d.r.passthrough.Text(d.req, data)
	return err
}

func (d *dispatcher) VisitImageSource(data graph.ImageSourceData) (err error) {
	d.out, err = d.r.passthrough.Image(d.req, data)
	return err
}

func (d *dispatcher) VisitVideoSource(data graph.VideoSourceData) (err error) {
	d.out, err = d.r.passthrough.Video(d.req, data)
	return err
}

func (d *dispatcher) VisitCrop(data graph.CropData) (err error) {
	d.out, err = d.r.crop.Execute(d.ctx, d.req, data)
	return err
}

func (d *dispatcher) VisitExtractFrame(data graph.ExtractFrameData) (err error) {
	d.out, err = d.r.frame.Execute(d.ctx, d.req, data)
	return err
}

func (d *dispatcher) VisitInference(data graph.InferenceData) (err error) {
	d.out, err = d.r.inference.Execute(d.ctx, d.req, data)
	return err
}
