// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// Kind identifies the type of a node. The set is closed.
type Kind string

const (
	KindText         Kind = "text"
	KindImageSource  Kind = "image-source"
	KindVideoSource  Kind = "video-source"
	KindCrop         Kind = "crop"
	KindExtractFrame Kind = "extract-frame"
	KindInference    Kind = "inference"
)

var allKinds = []Kind{
	KindText,
	KindImageSource,
	KindVideoSource,
	KindCrop,
	KindExtractFrame,
	KindInference,
}

// AllKinds returns every node kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// Node is one processing step of a workflow.
//
// Data holds the kind-specific configuration exactly as the editor sent it;
// DecodeData turns it into a typed value.
type Node struct {
	ID   string          `json:"id"`
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge is a dependency: Target consumes the output of Source.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Workflow is a node and edge set as submitted by the editor.
type Workflow struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Parse decodes a workflow document from r.
func Parse(r io.Reader) (*Workflow, error) {
	var wf Workflow
	dec := json.NewDecoder(r)
	if err := dec.Decode(&wf); err != nil {
		return nil, flowerr.Validationf("parse workflow", "decode: %w", err)
	}
	return &wf, nil
}

// ParseBytes decodes a workflow document from b.
func ParseBytes(b []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, flowerr.Validationf("parse workflow", "decode: %w", err)
	}
	return &wf, nil
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeIDs returns node ids in declaration order.
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, len(w.Nodes))
	for i, n := range w.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Incoming returns the edges that target id, in edge order.
func (w *Workflow) Incoming(id string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.Target == id {
			in = append(in, e)
		}
	}
	return in
}
