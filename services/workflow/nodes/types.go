// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodes executes single workflow nodes.
//
// Each node kind has one executor. The Registry routes a request to the
// executor for its kind through graph.Visitor, so a kind without an executor
// is a compile error rather than a runtime miss.
//
// Executors receive the outputs of their upstream nodes as ordered Inputs
// and return a single Output. They never see the rest of the graph.
package nodes

import (
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
)

// Output is the result of one node: text, a data URI or a URL.
type Output struct {
	Kind  graph.OutputKind `json:"kind"`
	Value string           `json:"value"`
}

// TextOutput returns a text output.
func TextOutput(s string) Output {
	return Output{Kind: graph.OutputText, Value: s}
}

// ImageOutput returns an image output.
func ImageOutput(ref string) Output {
	return Output{Kind: graph.OutputImage, Value: ref}
}

// VideoOutput returns a video output.
func VideoOutput(ref string) Output {
	return Output{Kind: graph.OutputVideo, Value: ref}
}

// Input is the output of one upstream node, as seen through one edge.
type Input struct {
	SourceID     string
	SourceKind   graph.Kind
	SourceHandle string
	TargetHandle string
	Output       Output
}

// EffectiveKind returns the declared kind of the value, falling back to its
// shape when the producer could not tell.
func (in Input) EffectiveKind() graph.OutputKind {
	if in.Output.Kind != "" && in.Output.Kind != graph.OutputUnknown {
		return in.Output.Kind
	}
	if k := graph.ClassifyOutput(in.Output.Value); k != graph.OutputUnknown {
		return k
	}
	return graph.OutputKindOf(in.SourceKind)
}

// Request is one node invocation.
type Request struct {
	RunID  string
	NodeID string
	Data   graph.Data

	// Inputs are in edge order.
	Inputs []Input
}

// firstOfKind returns the first input of kind k.
func firstOfKind(inputs []Input, k graph.OutputKind) (Input, bool) {
	for _, in := range inputs {
		if in.EffectiveKind() == k {
			return in, true
		}
	}
	return Input{}, false
}
