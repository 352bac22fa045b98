// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runlog records workflow runs.
//
// Every store here implements engine.Sink, so it can be handed straight to
// the executor, and most also implement Reader for the run history API.
//
//	MemoryStore   - bounded in-process history (default)
//	BadgerStore   - embedded durable history
//	PostgresStore - shared durable history
//	InfluxSink    - node and run durations as time series (write only)
//	Hub           - live fan-out to websocket subscribers (write only)
//
// Multi combines several sinks into one.
package runlog

import (
	"context"
	"errors"
	"slices"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

// ErrRunNotFound is returned by readers for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Reader queries recorded runs.
type Reader interface {
	GetRun(ctx context.Context, runID string) (engine.Run, error)
	ListNodes(ctx context.Context, runID string) ([]engine.NodeState, error)

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]engine.Run, error)
}

// Store is a sink that can be read back.
type Store interface {
	engine.Sink
	Reader
}

// record is a run and its nodes, in wave order.
type record struct {
	Run   engine.Run         `json:"run"`
	Nodes []engine.NodeState `json:"nodes"`
}

func newRecord(run engine.Run) *record {
	r := &record{Run: run}
	for _, wave := range run.Waves {
		for _, id := range wave {
			r.Nodes = append(r.Nodes, engine.NodeState{NodeID: id, Status: engine.NodePending})
		}
	}
	return r
}

// apply folds a transition into the record. A node the record has not seen
// is appended.
func (r *record) apply(t engine.Transition) {
	i := slices.IndexFunc(r.Nodes, func(ns engine.NodeState) bool { return ns.NodeID == t.NodeID })
	if i < 0 {
		r.Nodes = append(r.Nodes, engine.NodeState{NodeID: t.NodeID})
		i = len(r.Nodes) - 1
	}
	applyTransition(&r.Nodes[i], t)
}

func applyTransition(ns *engine.NodeState, t engine.Transition) {
	at := t.At
	ns.Type = t.Type
	ns.Status = t.To
	switch t.To {
	case engine.NodeRunning:
		ns.StartedAt = &at
	case engine.NodeSuccess, engine.NodeFailed:
		ns.CompletedAt = &at
		ns.Duration = t.Duration
		ns.Output = t.Output
		ns.Error = t.Error
	}
}

func (r *record) complete(c engine.Completion) {
	at := c.At
	r.Run.Status = c.Status
	r.Run.Error = c.Error
	r.Run.CompletedAt = &at
}

func (r *record) clone() *record {
	return &record{Run: r.Run, Nodes: slices.Clone(r.Nodes)}
}
