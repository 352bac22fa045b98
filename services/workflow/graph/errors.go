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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the graph package.
var (
	// ErrEmptyNodeID is returned when a node has no id.
	ErrEmptyNodeID = errors.New("node id must not be empty")

	// ErrDuplicateNode is returned when two nodes share an id.
	ErrDuplicateNode = errors.New("node with this id already exists")

	// ErrNodeNotFound is returned when an edge or selection names an absent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnknownKind is returned for a node type outside the closed set.
	ErrUnknownKind = errors.New("unknown node type")

	// ErrCycleDetected is returned when the graph contains a cycle.
	ErrCycleDetected = errors.New("cycle detected in workflow")

	// ErrNoProgress is returned when Kahn partitioning stalls with nodes left.
	ErrNoProgress = errors.New("no progress possible: cycle or missing dependency")

	// ErrEmptySelection is returned when a scoped run selects no nodes.
	ErrEmptySelection = errors.New("no nodes selected")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	NodeID string
	Err    error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// EdgeError reports an edge whose endpoint is missing.
type EdgeError struct {
	EdgeID  string
	Source  string
	Target  string
	Missing string
}

// Error returns the error message.
func (e *EdgeError) Error() string {
	return fmt.Sprintf("edge %s (%s -> %s) references unknown node %q",
		e.label(), e.Source, e.Target, e.Missing)
}

func (e *EdgeError) label() string {
	if e.EdgeID == "" {
		return "<unnamed>"
	}
	return e.EdgeID
}

// Unwrap returns ErrNodeNotFound.
func (e *EdgeError) Unwrap() error {
	return ErrNodeNotFound
}

// CycleError provides details about a detected cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// Unwrap returns ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
