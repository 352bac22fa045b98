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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

// --- Multi ---

type erringSink struct{ engine.NopSink }

func (erringSink) OnTransition(context.Context, engine.Transition) error {
	return errors.New("sink down")
}

func TestMulti_ContinuesPastFailingSink(t *testing.T) {
	mem := NewMemoryStore(0)
	m := Multi{erringSink{}, mem}

	runThrough(t, m, "r", false)

	states, err := mem.ListNodes(context.Background(), "r")
	require.NoError(t, err)
	for _, ns := range states {
		assert.Equal(t, engine.NodeSuccess, ns.Status)
	}
	err = m.OnTransition(context.Background(), engine.Transition{RunID: "r", NodeID: "A"})
	assert.ErrorContains(t, err, "sink down")
}

// --- Influx ---

type fakePointWriter struct {
	mu     sync.Mutex
	points []*write.Point
}

func (f *fakePointWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p...)
	return nil
}

func TestInfluxSink_WritesFinishedNodesAndRuns(t *testing.T) {
	w := &fakePointWriter{}
	s := &InfluxSink{writer: w}

	runThrough(t, s, "r", true)

	var nodes, runs int
	for _, p := range w.points {
		switch p.Name() {
		case "workflow_node":
			nodes++
			tags := map[string]string{}
			for _, tag := range p.TagList() {
				tags[tag.Key] = tag.Value
			}
			assert.Equal(t, "r", tags["run_id"])
			assert.Contains(t, []string{"success", "failed"}, tags["status"])
		case "workflow_run":
			runs++
		}
	}
	assert.Equal(t, 2, nodes, "A succeeded and B failed; C was skipped")
	assert.Equal(t, 1, runs)
}

func TestInfluxConfig_Validate(t *testing.T) {
	assert.Error(t, InfluxConfig{}.Validate())
	assert.NoError(t, InfluxConfig{URL: "http://influx:8086", Org: "o", Bucket: "b"}.Validate())
}

// --- Hub ---

func TestHub_DeliversRunEventsInOrder(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("r")
	other := h.Subscribe("someone-else")
	defer other.Close()

	runThrough(t, h, "r", false)

	var events []Event
	for ev := range sub.C {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, engine.RunCompleted, last.Completion.Status)

	var order []string
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, EventTransition, ev.Type)
		order = append(order, ev.Transition.NodeID+":"+string(ev.Transition.To))
	}
	assert.Equal(t, []string{"A:running", "A:success", "B:running", "B:success", "C:running", "C:success"}, order)
	assert.Zero(t, h.Subscribers("r"))
	assert.Equal(t, 1, h.Subscribers("someone-else"))
}

func TestHub_SlowSubscriberStillGetsCompletion(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe("r")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.OnTransition(ctx, engine.Transition{RunID: "r", NodeID: "A", To: engine.NodeRunning}))
	}
	require.NoError(t, h.OnRunComplete(ctx, engine.Completion{RunID: "r", Status: engine.RunFailed, At: time.Now()}))

	ev, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, EventComplete, ev.Type)
	_, ok = <-sub.C
	assert.False(t, ok, "channel closed after completion")
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("r")
	sub.Close()
	sub.Close()
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.NoError(t, h.OnRunComplete(context.Background(), engine.Completion{RunID: "r"}))
}
