// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runlog

import (
	"context"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

// DefaultMemoryRuns is how many runs a MemoryStore keeps by default.
const DefaultMemoryRuns = 1000

// MemoryStore keeps the most recent runs in memory.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*record
	order   []string
	maxRuns int
}

// NewMemoryStore creates a MemoryStore holding up to maxRuns runs; older
// runs are evicted first. maxRuns <= 0 uses DefaultMemoryRuns.
func NewMemoryStore(maxRuns int) *MemoryStore {
	if maxRuns <= 0 {
		maxRuns = DefaultMemoryRuns
	}
	return &MemoryStore{runs: make(map[string]*record), maxRuns: maxRuns}
}

func (m *MemoryStore) OnRunStart(_ context.Context, run engine.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; !ok {
		m.order = append(m.order, run.RunID)
	}
	m.runs[run.RunID] = newRecord(run)
	for len(m.order) > m.maxRuns {
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryStore) OnTransition(_ context.Context, t engine.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[t.RunID]
	if !ok {
		return ErrRunNotFound
	}
	r.apply(t)
	return nil
}

func (m *MemoryStore) OnRunComplete(_ context.Context, c engine.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[c.RunID]
	if !ok {
		return ErrRunNotFound
	}
	r.complete(c)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (engine.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return engine.Run{}, ErrRunNotFound
	}
	return r.Run, nil
}

func (m *MemoryStore) ListNodes(_ context.Context, runID string) ([]engine.NodeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.clone().Nodes, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]engine.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]engine.Run, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.order[i]].Run)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
