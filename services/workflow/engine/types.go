// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine executes workflow runs.
//
// A run is validated and scoped by Prepare, then executed wave by wave by
// Execute. Nodes of one wave run concurrently; the next wave starts only
// after every node of the current wave has finished. Each node reads the
// outputs of its upstream nodes from a map that is written between waves,
// so there is exactly one writer per key and every write happens before the
// reads that depend on it.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/nodes"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// NodeStatus is the lifecycle state of one node within a run.
//
// Transitions are monotonic: pending -> running -> success|failed, or
// pending -> skipped for nodes never dispatched because the run stopped.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeFailed  NodeStatus = "failed"
	NodeSkipped NodeStatus = "skipped"
)

// Terminal reports whether the node reached a final state.
func (s NodeStatus) Terminal() bool {
	return s == NodeSuccess || s == NodeFailed || s == NodeSkipped
}

// Scope selects how much of a workflow a run executes.
type Scope string

const (
	// ScopeFull runs every node.
	ScopeFull Scope = "full"
	// ScopePartial runs the selected nodes and everything upstream of them.
	ScopePartial Scope = "partial"
	// ScopeSingle runs one selected node and everything upstream of it.
	ScopeSingle Scope = "single"
)

// ParseScope parses a scope name; empty means full.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeFull:
		return ScopeFull, nil
	case ScopePartial:
		return ScopePartial, nil
	case ScopeSingle:
		return ScopeSingle, nil
	}
	return "", flowerr.Validationf("parse scope", "unknown scope %q", s)
}

// NodeState is the audit record of one node in one run.
type NodeState struct {
	NodeID      string        `json:"nodeId"`
	Type        graph.Kind    `json:"type"`
	Status      NodeStatus    `json:"status"`
	Output      *nodes.Output `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Run is the record of one execution.
type Run struct {
	RunID         string     `json:"runId"`
	Status        RunStatus  `json:"status"`
	Scope         Scope      `json:"scope"`
	SelectedNodes []string   `json:"selectedNodes,omitempty"`
	Waves         [][]string `json:"waves"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Transition is one node status change, emitted to the Sink.
type Transition struct {
	RunID    string        `json:"runId"`
	NodeID   string        `json:"nodeId"`
	Type     graph.Kind    `json:"type"`
	From     NodeStatus    `json:"from"`
	To       NodeStatus    `json:"to"`
	Output   *nodes.Output `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Completion reports the terminal status of a run.
type Completion struct {
	RunID    string        `json:"runId"`
	Status   RunStatus     `json:"status"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// Sink observes runs. Calls are best effort: a returned error is logged
// and never changes the outcome of the run.
//
// Thread Safety: OnTransition is called concurrently for nodes of the
// same wave.
type Sink interface {
	OnRunStart(ctx context.Context, run Run) error
	OnTransition(ctx context.Context, t Transition) error
	OnRunComplete(ctx context.Context, c Completion) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnRunStart(context.Context, Run) error           { return nil }
func (NopSink) OnTransition(context.Context, Transition) error  { return nil }
func (NopSink) OnRunComplete(context.Context, Completion) error { return nil }

var _ Sink = NopSink{}

// Dispatcher executes one node. *nodes.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req nodes.Request) (nodes.Output, error)
}

// RunRequest asks for a workflow to be executed.
type RunRequest struct {
	// RunID is generated when empty.
	RunID    string
	Scope    Scope
	Selected []string
	Workflow *graph.Workflow
}

// RunResult is the final state of a run.
type RunResult struct {
	Run   Run         `json:"run"`
	Nodes []NodeState `json:"nodes"`

	// Outputs holds the output of every successful node.
	Outputs map[string]nodes.Output `json:"outputs"`
}

// Node returns the state of id.
func (r *RunResult) Node(id string) (NodeState, bool) {
	for _, n := range r.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeState{}, false
}

// RunError reports the node that stopped a run.
type RunError struct {
	RunID  string
	NodeID string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at node %s: %v", e.RunID, e.NodeID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
