// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the workflow HTTP API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/runlog"
)

// DefaultListLimit is used by ListRuns without a limit parameter.
const DefaultListLimit = 50

// Engine is the part of *engine.Executor the handlers use.
type Engine interface {
	Prepare(req engine.RunRequest) (*engine.Plan, error)
	Execute(ctx context.Context, plan *engine.Plan) (*engine.RunResult, error)
	Start(ctx context.Context, plan *engine.Plan) (*engine.Handle, error)
	Cancel(runID string) error
}

// Config configures a Handler.
type Config struct {
	Engine Engine
	Runs   runlog.Reader
	Hub    *runlog.Hub

	// BaseContext is the parent of background runs. It should outlive
	// requests and end at shutdown. Nil uses context.Background().
	BaseContext context.Context

	Logger *slog.Logger
}

// Handler serves the run and workflow endpoints.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handler struct {
	engine Engine
	runs   runlog.Reader
	hub    *runlog.Hub
	base   context.Context
	logger *slog.Logger

	// background runs in flight
	wg sync.WaitGroup
}

// New creates a Handler.
func New(cfg Config) *Handler {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		engine: cfg.Engine,
		runs:   cfg.Runs,
		hub:    cfg.Hub,
		base:   cfg.BaseContext,
		logger: cfg.Logger,
	}
}

// Wait blocks until every background run has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// ValidateWorkflow checks a workflow without running it.
//
// A workflow that fails validation is still a 200: the verdict is the
// answer. Only an unreadable body is a 400.
func (h *Handler) ValidateWorkflow(c *gin.Context) {
	var req WorkflowRequest
	if !bindJSON(c, &req) {
		return
	}
	waves, err := graph.Check(req.workflow())
	if err != nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{Valid: true, Waves: waves})
}

// StartRun validates and starts a run.
//
// Validation errors are reported synchronously with 400 and no run is
// recorded. With wait the response is the final result (200, whatever the
// run status); otherwise the run continues in the background and the
// response is 202 with its id.
func (h *Handler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if !bindJSON(c, &req) {
		return
	}

	plan, err := h.engine.Prepare(engine.RunRequest{
		RunID:    req.RunID,
		Scope:    engine.Scope(req.Scope),
		Selected: req.SelectedNodes,
		Workflow: req.workflow(),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger := h.logger.With(slog.String("run_id", plan.Run.RunID))

	if req.Wait {
		result, err := h.engine.Execute(c.Request.Context(), plan)
		if result == nil {
			abortWithError(c, err)
			return
		}
		if err != nil {
			logger.Info("run did not complete", slog.String("status", string(result.Run.Status)), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusOK, result)
		return
	}

	handle, err := h.engine.Start(h.base, plan)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result, err := handle.Result()
		if err != nil {
			logger.Info("background run did not complete", slog.String("error", err.Error()))
			return
		}
		logger.Info("background run finished", slog.String("status", string(result.Run.Status)))
	}()
	c.JSON(http.StatusAccepted, StartRunResponse{RunID: plan.Run.RunID, Status: engine.RunRunning, Waves: plan.Run.Waves})
}

// GetRun returns a run record.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("runId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListNodes returns the node states of a run in wave order.
func (h *Handler) ListNodes(c *gin.Context) {
	states, err := h.runs.ListNodes(c.Request.Context(), c.Param("runId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": c.Param("runId"), "nodes": states})
}

// ListRuns returns the most recent runs, newest first.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// CancelRun requests advisory cancellation. The wave in progress finishes.
func (h *Handler) CancelRun(c *gin.Context) {
	runID := c.Param("runId")
	if err := h.engine.Cancel(runID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": runID, "cancelRequested": true})
}
