// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/workflow/nodes"
)

// runState is the audit trail of one run. Node transitions arrive from the
// goroutines of a wave, so every access holds mu.
type runState struct {
	mu    sync.Mutex
	run   Run
	order []string
	nodes map[string]*NodeState
}

func newRunState(plan *Plan) *runState {
	st := &runState{
		run:   plan.Run,
		order: plan.workflow.NodeIDs(),
		nodes: make(map[string]*NodeState, len(plan.workflow.Nodes)),
	}
	for _, n := range plan.workflow.Nodes {
		st.nodes[n.ID] = &NodeState{NodeID: n.ID, Type: n.Type, Status: NodePending}
	}
	return st
}

func (s *runState) transition(id string, to NodeStatus, at time.Time, apply func(*NodeState)) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.nodes[id]
	t := Transition{RunID: s.run.RunID, NodeID: id, Type: ns.Type, From: ns.Status, To: to, At: at}
	ns.Status = to
	if apply != nil {
		apply(ns)
	}
	t.Output = ns.Output
	t.Error = ns.Error
	t.Duration = ns.Duration
	return t
}

func (s *runState) start(id string, at time.Time) Transition {
	return s.transition(id, NodeRunning, at, func(ns *NodeState) {
		ns.StartedAt = &at
	})
}

func (s *runState) complete(ns *NodeState, at time.Time) {
	ns.CompletedAt = &at
	if ns.StartedAt != nil {
		ns.Duration = at.Sub(*ns.StartedAt)
	}
}

func (s *runState) succeed(id string, out nodes.Output, at time.Time) Transition {
	return s.transition(id, NodeSuccess, at, func(ns *NodeState) {
		ns.Output = &out
		s.complete(ns, at)
	})
}

func (s *runState) fail(id string, err error, at time.Time) Transition {
	return s.transition(id, NodeFailed, at, func(ns *NodeState) {
		ns.Error = err.Error()
		s.complete(ns, at)
	})
}

// skipPending marks every node that never started as skipped.
func (s *runState) skipPending(at time.Time) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transition
	for _, id := range s.order {
		ns := s.nodes[id]
		if ns.Status != NodePending {
			continue
		}
		ns.Status = NodeSkipped
		out = append(out, Transition{RunID: s.run.RunID, NodeID: id, Type: ns.Type, From: NodePending, To: NodeSkipped, At: at})
	}
	return out
}

func (s *runState) finish(status RunStatus, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Status = status
	s.run.CompletedAt = &at
	if err != nil {
		s.run.Error = err.Error()
	}
}

func (s *runState) snapshotRun() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *runState) result(outputs map[string]nodes.Output) *RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &RunResult{
		Run:     s.run,
		Nodes:   make([]NodeState, 0, len(s.order)),
		Outputs: maps.Clone(outputs),
	}
	for _, id := range s.order {
		res.Nodes = append(res.Nodes, *s.nodes[id])
	}
	return res
}
