// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow assembles the workflow execution service.
//
// New wires the configured components into an HTTP service: the node
// executors and their dependencies, the execution engine, the run log and
// its event hub, telemetry and the gin router. Run serves until its context
// ends and then drains background runs before closing the stores.
//
// # Usage
//
//	cfg, err := config.Load("flow.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := workflow.New(ctx, cfg, slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	err = svc.Run(ctx)
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianFlow/services/workflow/assets"
	"github.com/AleutianAI/AleutianFlow/services/workflow/config"
	"github.com/AleutianAI/AleutianFlow/services/workflow/credentials"
	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/handlers"
	"github.com/AleutianAI/AleutianFlow/services/workflow/inference"
	"github.com/AleutianAI/AleutianFlow/services/workflow/nodes"
	"github.com/AleutianAI/AleutianFlow/services/workflow/observability"
	"github.com/AleutianAI/AleutianFlow/services/workflow/process"
	"github.com/AleutianAI/AleutianFlow/services/workflow/routes"
	"github.com/AleutianAI/AleutianFlow/services/workflow/runlog"
)

// ServiceName identifies the service in traces, metrics and logs.
const ServiceName = "aleutian-flow"

const readHeaderTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the workflow execution service.
//
// # Thread Safety
//
// Run is called at most once. Router may be used concurrently with Run.
// Close releases stores and exporters and is safe to call more than once.
type Service interface {
	// Run serves HTTP until ctx ends or the listener fails. On return the
	// background runs have finished.
	Run(ctx context.Context) error

	// Serve is Run on a listener the caller owns.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured gin engine.
	Router() *gin.Engine

	// Engine returns the workflow executor.
	Engine() *engine.Executor

	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	cfg    config.Config
	logger *slog.Logger

	router   *gin.Engine
	executor *engine.Executor
	handler  *handlers.Handler

	// base is the parent context of background runs.
	base       context.Context
	cancelBase context.CancelFunc

	// closers run in reverse order on Close.
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// New builds the service from cfg. On failure every component opened so
// far is closed again.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Validated()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &service{cfg: cfg, logger: logger}
	s.base, s.cancelBase = context.WithCancel(context.Background())

	if err := s.init(ctx); err != nil {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("cleanup after failed start", slog.String("error", cerr.Error()))
		}
		return nil, err
	}
	return s, nil
}

func (s *service) init(ctx context.Context) error {
	cfg := s.cfg

	shutdown, err := observability.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	s.onClose(func() error { return shutdown(context.Background()) })

	reg := prometheus.NewRegistry()
	metrics := observability.NewWorkflowMetrics(reg)

	store, err := s.openAssets(ctx)
	if err != nil {
		return err
	}

	registry, err := s.buildRegistry(metrics, store)
	if err != nil {
		return err
	}

	runs, sink, err := s.openRunLog(ctx, metrics)
	if err != nil {
		return err
	}
	hub := runlog.NewHub(cfg.RunLog.SubscriberBuffer, s.logger)

	s.executor, err = engine.NewExecutor(registry, engine.Config{
		NodeTimeout: cfg.Engine.NodeTimeout,
		// The store records a run before the hub announces it, so a
		// subscriber that reads the store after subscribing misses nothing.
		Sink:   append(runlog.Multi{runs, hub}, sink...),
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	s.handler = handlers.New(handlers.Config{
		Engine:      s.executor,
		Runs:        runs,
		Hub:         hub,
		BaseContext: s.base,
		Logger:      s.logger,
	})

	gin.SetMode(cfg.Server.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(ServiceName))
	routes.SetupRoutes(s.router, s.handler, observability.MetricsHandler(reg))
	return nil
}

func (s *service) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// openAssets returns nil when no asset backend is configured, in which case
// generated media are returned inline.
func (s *service) openAssets(ctx context.Context) (assets.Store, error) {
	cfg := s.cfg.Assets
	switch cfg.Backend {
	case config.AssetsGCS:
		gcs, err := assets.NewGCSStore(ctx, cfg.GCS, s.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs asset store: %w", err)
		}
		s.onClose(gcs.Close)
		return gcs, nil
	case config.AssetsMinio:
		m, err := assets.NewMinioStore(cfg.Minio, s.logger)
		if err != nil {
			return nil, fmt.Errorf("minio asset store: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio asset store: %w", err)
		}
		return m, nil
	default:
		return nil, nil
	}
}

func (s *service) buildRegistry(metrics *observability.WorkflowMetrics, store assets.Store) (*nodes.Registry, error) {
	cfg := s.cfg

	downloader := fetch.New(fetch.Config{
		MaxBytes:   cfg.Download.MaxBytes,
		Timeout:    cfg.Download.Timeout,
		ChunkSize:  cfg.Download.ChunkSize,
		BufferSize: cfg.Download.BufferSize,
		Logger:     s.logger,
		Metrics:    metrics,
	})

	runner := process.NewExecRunner(s.logger, metrics)
	prober := &process.Prober{Runner: runner, Binary: cfg.Media.ProbeBinary, Timeout: cfg.Media.ProbeTimeout}
	extractor := &process.Extractor{Runner: runner, Binary: cfg.Media.ExtractBinary, Timeout: cfg.Media.ExtractTimeout}

	creds := credentials.NewEnvSource(cfg.Inference.SecretsDir, s.logger)
	s.onClose(func() error {
		credentials.Purge()
		return nil
	})
	client := inference.NewOpenAIClient(creds, cfg.OpenAIConfig(), s.logger)

	return nodes.NewRegistry(nodes.Executors{
		Passthrough: &nodes.PassthroughExecutor{},
		Crop:        nodes.NewCropExecutor(downloader, store, s.logger),
		Frame: nodes.NewFrameExecutor(nodes.FrameConfig{
			Downloader:     downloader,
			Prober:         prober,
			Extractor:      extractor,
			Store:          store,
			ScratchDir:     cfg.Engine.ScratchDir,
			MaxInlineBytes: cfg.Download.MaxBytes,
			Logger:         s.logger,
		}),
		Inference: nodes.NewInferenceExecutor(nodes.InferenceConfig{
			Text:        client,
			Images:      client,
			Store:       store,
			Temperature: cfg.Inference.Temperature,
			Logger:      s.logger,
		}),
	})
}

// openRunLog opens the run store and returns it with the extra sinks that
// follow it: metrics, and the time series sink when configured.
func (s *service) openRunLog(ctx context.Context, metrics *observability.WorkflowMetrics) (runlog.Store, runlog.Multi, error) {
	cfg := s.cfg.RunLog
	var store runlog.Store
	switch cfg.Backend {
	case config.RunLogBadger:
		bcfg := cfg.Badger
		bcfg.Logger = s.logger
		b, err := runlog.OpenBadgerStore(bcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("badger run log: %w", err)
		}
		s.onClose(b.Close)
		store = b
	case config.RunLogPostgres:
		p, err := runlog.OpenPostgresStore(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres run log: %w", err)
		}
		s.onClose(p.Close)
		store = p
	default:
		store = runlog.NewMemoryStore(cfg.MemoryRuns)
	}

	sinks := runlog.Multi{metrics}
	if cfg.Influx.URL != "" {
		influx, err := runlog.NewInfluxSink(ctx, cfg.Influx)
		if err != nil {
			return nil, nil, fmt.Errorf("influx sink: %w", err)
		}
		s.onClose(func() error {
			influx.Close()
			return nil
		})
		sinks = append(sinks, influx)
	}
	return store, sinks, nil
}

// Run listens on the configured port and serves until ctx ends.
func (s *service) Run(ctx context.Context) error {
	addr := ":" + strconv.Itoa(s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts the server down, cancels
// background runs and waits for them to record their outcome.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("workflow service listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		s.logger.Info("shutting down workflow service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	s.cancelBase()
	s.handler.Wait()
	return serveErr
}

func (s *service) Router() *gin.Engine      { return s.router }
func (s *service) Engine() *engine.Executor { return s.executor }

// Close cancels background runs and releases every opened component.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.cancelBase()
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
