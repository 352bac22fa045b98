// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/handlers"
	"github.com/AleutianAI/AleutianFlow/services/workflow/runlog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := gin.New()
	h := handlers.New(handlers.Config{Runs: runlog.NewMemoryStore(0), Hub: runlog.NewHub(0, nil)})
	SetupRoutes(router, h, http.NotFoundHandler())

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/workflows/validate"},
		{"POST", "/v1/runs"},
		{"GET", "/v1/runs"},
		{"GET", "/v1/runs/:runId"},
		{"GET", "/v1/runs/:runId/nodes"},
		{"POST", "/v1/runs/:runId/cancel"},
		{"GET", "/v1/runs/:runId/events"},
	}

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, e := range expected {
		assert.True(t, registered[e.method+" "+e.path], "route %s %s not registered", e.method, e.path)
	}
}

func TestSetupRoutes_WithoutMetrics(t *testing.T) {
	router := gin.New()
	h := handlers.New(handlers.Config{Runs: runlog.NewMemoryStore(0), Hub: runlog.NewHub(0, nil)})
	SetupRoutes(router, h, nil)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodGet, "/health", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
