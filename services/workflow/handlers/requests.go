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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/runlog"
)

var requestValidate = validator.New()

// WorkflowRequest is a workflow as the editor submits it.
type WorkflowRequest struct {
	Nodes []graph.Node `json:"nodes" validate:"required,min=1,dive"`
	Edges []graph.Edge `json:"edges" validate:"dive"`
}

func (r *WorkflowRequest) Validate() error {
	return requestValidate.Struct(r)
}

func (r *WorkflowRequest) workflow() *graph.Workflow {
	return &graph.Workflow{Nodes: r.Nodes, Edges: r.Edges}
}

// StartRunRequest starts a run.
//
// # Validation
//
//   - Nodes: at least one
//   - Scope: empty, "full", "partial" or "single"
//   - SelectedNodes: required for partial and single scopes
//   - RunID: optional, generated when empty
type StartRunRequest struct {
	WorkflowRequest

	RunID         string   `json:"runId,omitempty" validate:"omitempty,max=128,printascii"`
	Scope         string   `json:"scope,omitempty" validate:"omitempty,oneof=full partial single"`
	SelectedNodes []string `json:"selectedNodes,omitempty" validate:"required_if=Scope partial,required_if=Scope single,dive,required"`

	// Wait makes the request block until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

func (r *StartRunRequest) Validate() error {
	return requestValidate.Struct(r)
}

// StartRunResponse is returned for a run accepted in the background.
type StartRunResponse struct {
	RunID  string           `json:"runId"`
	Status engine.RunStatus `json:"status"`
	Waves  [][]string       `json:"waves"`
}

// ValidateResponse reports whether a workflow can run.
type ValidateResponse struct {
	Valid bool       `json:"valid"`
	Waves [][]string `json:"waves,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runlog.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunNotActive):
		return http.StatusConflict
	}
	switch flowerr.KindOf(err) {
	case flowerr.KindValidation:
		return http.StatusBadRequest
	case flowerr.KindResourceLimit:
		return http.StatusRequestEntityTooLarge
	case flowerr.KindExternalService:
		return http.StatusBadGateway
	case flowerr.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if k := flowerr.KindOf(err); k != flowerr.KindUnknown {
		resp.Kind = k.String()
	}
	c.AbortWithStatusJSON(statusFor(err), resp)
}

// bindJSON decodes and validates the request body, replying 400 on failure.
func bindJSON(c *gin.Context, req interface{ Validate() error }) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Kind: flowerr.KindValidation.String()})
		return false
	}
	if err := req.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: flowerr.KindValidation.String()})
		return false
	}
	return true
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
