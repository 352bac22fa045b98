// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flow starts the AleutianFlow workflow execution service.
//
// Configuration comes from the YAML file named by FLOW_CONFIG (optional)
// with FLOW_* environment overrides on top. The OpenAI key is read from
// OPENAI_API_KEY or from the secrets directory when a node first needs it.
//
// # Usage
//
//	# Build
//	go build -o flow ./cmd/flow
//
//	# Run
//	FLOW_CONFIG=flow.yaml ./flow
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/services/workflow"
	"github.com/AleutianAI/AleutianFlow/services/workflow/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("FLOW_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig(workflow.ServiceName))
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting workflow service",
		"port", cfg.Server.Port,
		"assets", cfg.Assets.Backend,
		"runlog", cfg.RunLog.Backend,
		"trace_exporter", cfg.Telemetry.TraceExporter,
	)

	if err := run(ctx, cfg, logger.Slog()); err != nil {
		slog.Error("Workflow service error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	svc, err := workflow.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close workflow service", "error", err)
		}
	}()
	return svc.Run(ctx)
}
