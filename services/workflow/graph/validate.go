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
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// Validate checks that nodes and edges form a DAG.
//
// Description:
//
//	Rejects empty or duplicate node ids, node types outside the closed set
//	and edges whose source or target is absent. It then runs a depth-first
//	search with an explicit recursion stack; reaching a node that is still on
//	the stack is a back edge and reports the cycle. Runs in O(V+E).
//
//	A dangling edge is reported even if the graph also has a cycle.
//
// Inputs:
//
//	nodes - The node set.
//	edges - The edge set.
//
// Outputs:
//
//	error - nil if valid, otherwise a *flowerr.Error of kind validation
//	        wrapping a *NodeError, *EdgeError or *CycleError.
func Validate(nodes []Node, edges []Edge) error {
	const op = "validate workflow"

	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return flowerr.New(flowerr.KindValidation, op, ErrEmptyNodeID)
		}
		if _, dup := known[n.ID]; dup {
			return flowerr.New(flowerr.KindValidation, op, &NodeError{NodeID: n.ID, Err: ErrDuplicateNode})
		}
		if !n.Type.Valid() {
			return flowerr.New(flowerr.KindValidation, op,
				&NodeError{NodeID: n.ID, Err: fmt.Errorf("%w: %q", ErrUnknownKind, n.Type)})
		}
		known[n.ID] = struct{}{}
	}

	adjList := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if _, ok := known[e.Source]; !ok {
			return flowerr.New(flowerr.KindValidation, op,
				&EdgeError{EdgeID: e.ID, Source: e.Source, Target: e.Target, Missing: e.Source})
		}
		if _, ok := known[e.Target]; !ok {
			return flowerr.New(flowerr.KindValidation, op,
				&EdgeError{EdgeID: e.ID, Source: e.Source, Target: e.Target, Missing: e.Target})
		}
		adjList[e.Source] = append(adjList[e.Source], e.Target)
	}

	if err := detectCycles(nodes, adjList); err != nil {
		return flowerr.New(flowerr.KindValidation, op, err)
	}
	return nil
}

// detectCycles uses DFS to detect cycles in the graph. Roots are visited in
// node order so the reported path is deterministic.
func detectCycles(nodes []Node, adjList map[string][]string) error {
	visited := make(map[string]bool, len(nodes))
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, next := range adjList[id] {
			if !visited[next] {
				if err := dfs(next); err != nil {
					return err
				}
			} else if recStack[next] {
				cycleStart := 0
				for i, n := range path {
					if n == next {
						cycleStart = i
						break
					}
				}
				cycle := make([]string, 0, len(path)-cycleStart+1)
				cycle = append(cycle, path[cycleStart:]...)
				cycle = append(cycle, next)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
		return nil
	}

	for _, n := range nodes {
		if !visited[n.ID] {
			if err := dfs(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Check validates wf, decodes every node's data and returns its waves. It is
// the full pre-flight check a workflow passes before a run is accepted.
func Check(wf *Workflow) ([][]string, error) {
	if err := Validate(wf.Nodes, wf.Edges); err != nil {
		return nil, err
	}
	waves, err := Waves(wf.Nodes, wf.Edges)
	if err != nil {
		return nil, err
	}
	for _, n := range wf.Nodes {
		if _, err := DecodeData(n.Type, n.Data); err != nil {
			return nil, &NodeError{NodeID: n.ID, Err: err}
		}
	}
	return waves, nil
}
