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

// Waves partitions an acyclic graph into execution waves.
//
// Description:
//
//	Iterative Kahn partitioning: each wave is every remaining node whose
//	in-degree is zero, after which those nodes and their outgoing edges are
//	removed. Every node appears in exactly one wave and for every edge u->v
//	the wave of u precedes the wave of v. Within a wave, ids keep their order
//	in nodes.
//
//	Callers are expected to Validate first. If no node is ready while nodes
//	remain, ErrNoProgress is returned rather than looping.
//
// Outputs:
//
//	[][]string - Node ids grouped by wave.
//	error - Non-nil if the partition stalls or an edge names an absent node.
func Waves(nodes []Node, edges []Edge) ([][]string, error) {
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}

	dependents := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if _, ok := inDegree[e.Target]; !ok {
			return nil, flowerr.New(flowerr.KindValidation, "compute waves",
				&EdgeError{EdgeID: e.ID, Source: e.Source, Target: e.Target, Missing: e.Target})
		}
		if _, ok := inDegree[e.Source]; !ok {
			return nil, flowerr.New(flowerr.KindValidation, "compute waves",
				&EdgeError{EdgeID: e.ID, Source: e.Source, Target: e.Target, Missing: e.Source})
		}
		inDegree[e.Target]++
		dependents[e.Source] = append(dependents[e.Source], e.Target)
	}

	remaining := make([]string, 0, len(nodes))
	for _, n := range nodes {
		remaining = append(remaining, n.ID)
	}

	var waves [][]string
	for len(remaining) > 0 {
		var wave, rest []string
		for _, id := range remaining {
			if inDegree[id] == 0 {
				wave = append(wave, id)
			} else {
				rest = append(rest, id)
			}
		}
		if len(wave) == 0 {
			return nil, flowerr.New(flowerr.KindValidation, "compute waves",
				fmt.Errorf("%w: %d nodes unscheduled", ErrNoProgress, len(rest)))
		}
		for _, id := range wave {
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
		waves = append(waves, wave)
		remaining = rest
	}
	return waves, nil
}

// Subgraph restricts a graph to the selected nodes and everything upstream.
//
// Description:
//
//	Reverse breadth-first search from the selected ids along incoming edges
//	collects the transitive upstream closure. The result keeps nodes and
//	edges in their original order and contains only edges with both
//	endpoints in the closure.
//
// Inputs:
//
//	selected - Node ids to run. Must be non-empty and present in nodes.
//	nodes, edges - The full workflow.
//
// Outputs:
//
//	*Workflow - The closure.
//	error - A validation error if a selected id is unknown.
func Subgraph(selected []string, nodes []Node, edges []Edge) (*Workflow, error) {
	const op = "select subgraph"
	if len(selected) == 0 {
		return nil, flowerr.New(flowerr.KindValidation, op, ErrEmptySelection)
	}

	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}

	parents := make(map[string][]string)
	for _, e := range edges {
		parents[e.Target] = append(parents[e.Target], e.Source)
	}

	inClosure := make(map[string]bool, len(selected))
	queue := make([]string, 0, len(selected))
	for _, id := range selected {
		if _, ok := known[id]; !ok {
			return nil, flowerr.New(flowerr.KindValidation, op, &NodeError{NodeID: id, Err: ErrNodeNotFound})
		}
		if !inClosure[id] {
			inClosure[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, p := range parents[id] {
			if !inClosure[p] {
				inClosure[p] = true
				queue = append(queue, p)
			}
		}
	}

	sub := &Workflow{}
	for _, n := range nodes {
		if inClosure[n.ID] {
			sub.Nodes = append(sub.Nodes, n)
		}
	}
	for _, e := range edges {
		if inClosure[e.Source] && inClosure[e.Target] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub, nil
}
