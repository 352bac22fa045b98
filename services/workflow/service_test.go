// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/config"
	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.GinMode = "test"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

func newTestService(t *testing.T, cfg config.Config) Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })
	return svc
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RunLog.Backend = "cassandra"

	svc, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestService_HealthAndMetrics(t *testing.T) {
	svc := newTestService(t, testConfig())

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_workflow_active_runs")
}

func TestService_RunsTextWorkflow(t *testing.T) {
	svc := newTestService(t, testConfig())

	body := `{"nodes":[{"id":"a","type":"text","data":{"text":"hello"}}],"edges":[],"wait":true}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result engine.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, engine.RunCompleted, result.Run.Status)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+result.Run.RunID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_BadgerRunLog(t *testing.T) {
	cfg := testConfig()
	cfg.RunLog.Backend = config.RunLogBadger
	cfg.RunLog.Badger.Path = t.TempDir()

	svc := newTestService(t, cfg)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_ServeStopsOnCancel(t *testing.T) {
	svc := newTestService(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestService_CloseTwice(t *testing.T) {
	svc, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}
