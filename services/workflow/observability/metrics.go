// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and telemetry for the workflow
// service.
//
// # Description
//
// WorkflowMetrics holds the service's Prometheus metrics. It is wired into
// the engine as a run sink and into the downloader and process runner as
// their metrics hooks, so one value covers:
//   - Runs by terminal status and run duration
//   - Node transitions by type and status
//   - Download outcomes and bytes
//   - External process invocations by binary and outcome
//
// The OpenTelemetry providers set up by Init carry the engine's own spans
// and histograms.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/process"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace  = "aleutian"
	workflowSubsystem = "workflow"
)

// WorkflowMetrics holds the Prometheus metrics of the workflow service.
type WorkflowMetrics struct {
	// RunsTotal counts finished runs.
	// Labels: status (completed, failed, cancelled)
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures wall time per run.
	// Labels: status
	RunDurationSeconds *prometheus.HistogramVec

	// ActiveRuns tracks runs that started and have not finished.
	ActiveRuns prometheus.Gauge

	// NodeTransitionsTotal counts node status changes.
	// Labels: type (node kind), status
	NodeTransitionsTotal *prometheus.CounterVec

	// DownloadsTotal counts downloads by outcome.
	// Labels: outcome (ok, too_large, timeout, http_error, failed)
	DownloadsTotal *prometheus.CounterVec

	// DownloadBytesTotal counts bytes received by outcome.
	// Labels: outcome
	DownloadBytesTotal *prometheus.CounterVec

	// ProcessInvocationsTotal counts external process runs.
	// Labels: binary (base name), outcome (ok, non_zero_exit, timeout, failed)
	ProcessInvocationsTotal *prometheus.CounterVec

	// ProcessDurationSeconds measures external process wall time.
	// Labels: binary
	ProcessDurationSeconds *prometheus.HistogramVec
}

// NewWorkflowMetrics creates the metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler().
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration).
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	f := promauto.With(reg)
	return &WorkflowMetrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "runs_total",
				Help:      "Total number of finished workflow runs by status",
			},
			[]string{"status"},
		),
		RunDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Wall time of workflow runs",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "active_runs",
				Help:      "Number of workflow runs in progress",
			},
		),
		NodeTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "node_transitions_total",
				Help:      "Node status transitions by node type and target status",
			},
			[]string{"type", "status"},
		),
		DownloadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "downloads_total",
				Help:      "Media downloads by outcome",
			},
			[]string{"outcome"},
		),
		DownloadBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "download_bytes_total",
				Help:      "Bytes received by media downloads",
			},
			[]string{"outcome"},
		),
		ProcessInvocationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "process_invocations_total",
				Help:      "External process invocations by binary and outcome",
			},
			[]string{"binary", "outcome"},
		),
		ProcessDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: workflowSubsystem,
				Name:      "process_duration_seconds",
				Help:      "Wall time of external processes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"binary"},
		),
	}
}

// =============================================================================
// Hooks
// =============================================================================

func (m *WorkflowMetrics) OnRunStart(context.Context, engine.Run) error {
	m.ActiveRuns.Inc()
	return nil
}

func (m *WorkflowMetrics) OnTransition(_ context.Context, t engine.Transition) error {
	m.NodeTransitionsTotal.WithLabelValues(string(t.Type), string(t.To)).Inc()
	return nil
}

func (m *WorkflowMetrics) OnRunComplete(_ context.Context, c engine.Completion) error {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(string(c.Status)).Inc()
	m.RunDurationSeconds.WithLabelValues(string(c.Status)).Observe(c.Duration.Seconds())
	return nil
}

// ObserveDownload implements fetch.Metrics.
func (m *WorkflowMetrics) ObserveDownload(outcome string, bytes int64) {
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.DownloadBytesTotal.WithLabelValues(outcome).Add(float64(bytes))
	}
}

// ObserveProcess implements process.Metrics. Binaries are labelled by base
// name to keep cardinality bounded.
func (m *WorkflowMetrics) ObserveProcess(binary, outcome string, d time.Duration) {
	name := filepath.Base(binary)
	m.ProcessInvocationsTotal.WithLabelValues(name, outcome).Inc()
	m.ProcessDurationSeconds.WithLabelValues(name).Observe(d.Seconds())
}

var (
	_ engine.Sink     = (*WorkflowMetrics)(nil)
	_ fetch.Metrics   = (*WorkflowMetrics)(nil)
	_ process.Metrics = (*WorkflowMetrics)(nil)
)
