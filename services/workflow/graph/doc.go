// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the workflow graph model and the pure algorithms that
// run over it before anything executes.
//
// A workflow is the editor's JSON document: a list of typed nodes and a list
// of directed edges. This package provides:
//   - Node kinds as a closed set, with typed configuration per kind
//   - Validate, which rejects dangling edges and cycles
//   - Waves, which partitions an acyclic graph into parallel batches
//   - Subgraph, which restricts a graph to selected nodes and their ancestors
//
// Nothing here performs I/O. All functions are safe for concurrent use
// because they never mutate their inputs.
//
// # Example
//
//	wf, err := graph.ParseBytes(body)
//	if err := graph.Validate(wf.Nodes, wf.Edges); err != nil {
//	    return err // a *flowerr.Error of kind validation
//	}
//	waves, err := graph.Waves(wf.Nodes, wf.Edges)
package graph
