// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/runlog"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// StreamEvents upgrades to a websocket and streams the run's node
// transitions as runlog.Event JSON messages, ending with one "complete"
// event. A run that already finished gets only its completion.
func (h *Handler) StreamEvents(c *gin.Context) {
	runID := c.Param("runId")
	ctx := c.Request.Context()

	// Subscribe before reading the record so a completion between the two
	// cannot be missed: the run log is written before the hub publishes.
	sub := h.hub.Subscribe(runID)
	defer sub.Close()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade the websocket", slog.String("run_id", runID), slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	if run.Status.Terminal() {
		done := engine.Completion{RunID: run.RunID, Status: run.Status, Error: run.Error}
		if run.CompletedAt != nil {
			done.At = *run.CompletedAt
			if run.StartedAt != nil {
				done.Duration = run.CompletedAt.Sub(*run.StartedAt)
			}
		}
		h.send(ws, runlog.Event{Type: runlog.EventComplete, Completion: &done})
		closeNormally(ws)
		return
	}

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				closeNormally(ws)
				return
			}
			if err := h.send(ws, ev); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) send(ws *websocket.Conn, ev runlog.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteJSON(ev)
	if err != nil {
		h.logger.Warn("failed to write websocket event", slog.String("error", err.Error()))
	}
	return err
}

func closeNormally(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
