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
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

// DefaultSubscriberBuffer is the event buffer of one subscription.
const DefaultSubscriberBuffer = 64

// EventType distinguishes hub events.
type EventType string

const (
	EventTransition EventType = "transition"
	EventComplete   EventType = "complete"
)

// Event is one message to a run subscriber.
type Event struct {
	Type       EventType          `json:"type"`
	Transition *engine.Transition `json:"transition,omitempty"`
	Completion *engine.Completion `json:"completion,omitempty"`
}

// Subscription receives the events of one run. C is closed after the
// completion event, or by Close.
type Subscription struct {
	C <-chan Event

	hub   *Hub
	runID string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// offer sends ev without blocking and reports whether it was delivered.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// finish delivers ev as the last event and closes the channel. When the
// buffer is full the oldest pending event is dropped to make room.
func (s *Subscription) finish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- ev
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans run events out to live subscribers.
//
// Description:
//
//	Delivery never blocks the engine: a subscriber whose buffer is full
//	misses the event and the drop is logged. A completion event is always
//	the last event on a subscription.
//
// Thread Safety: safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a Hub. buffer <= 0 uses DefaultSubscriberBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer, logger: logger}
}

// Subscribe registers for the events of runID.
func (h *Hub) Subscribe(runID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, hub: h, runID: runID, ch: ch}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*Subscription]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	return sub
}

// Subscribers returns the number of live subscriptions to runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(sub)
}

// detach requires h.mu.
func (h *Hub) detach(sub *Subscription) {
	if set, ok := h.subs[sub.runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.runID)
		}
	}
	sub.shut()
}

func (h *Hub) publish(runID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[runID] {
		if !sub.offer(ev) {
			h.logger.Warn("dropping run event for slow subscriber",
				slog.String("run_id", runID),
				slog.String("event", string(ev.Type)))
		}
	}
}

func (h *Hub) OnRunStart(context.Context, engine.Run) error {
	return nil
}

func (h *Hub) OnTransition(_ context.Context, t engine.Transition) error {
	h.publish(t.RunID, Event{Type: EventTransition, Transition: &t})
	return nil
}

// OnRunComplete delivers the completion and closes every subscription of
// the run.
func (h *Hub) OnRunComplete(_ context.Context, c engine.Completion) error {
	h.mu.Lock()
	subs := h.subs[c.RunID]
	delete(h.subs, c.RunID)
	h.mu.Unlock()

	ev := Event{Type: EventComplete, Completion: &c}
	for sub := range subs {
		sub.finish(ev)
	}
	return nil
}

var _ engine.Sink = (*Hub)(nil)
