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
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (c InfluxConfig) Validate() error {
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return errors.New("influx url, org and bucket are required")
	}
	return nil
}

// pointWriter is the part of api.WriteAPIBlocking the sink uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes a point per finished node ("workflow_node") and per
// finished run ("workflow_run"). Starts and running transitions are not
// recorded.
type InfluxSink struct {
	writer pointWriter
	close  func()
}

// NewInfluxSink connects to InfluxDB and checks its health.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx unhealthy: %s", health.Status)
	}
	return &InfluxSink{
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		close:  client.Close,
	}, nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.close != nil {
		s.close()
	}
}

func (s *InfluxSink) OnRunStart(context.Context, engine.Run) error {
	return nil
}

func (s *InfluxSink) OnTransition(ctx context.Context, t engine.Transition) error {
	if t.To != engine.NodeSuccess && t.To != engine.NodeFailed {
		return nil
	}
	fields := map[string]interface{}{
		"duration_ms": float64(t.Duration) / float64(time.Millisecond),
	}
	if t.Output != nil {
		fields["output_kind"] = string(t.Output.Kind)
	}
	p := influxdb2.NewPoint(
		"workflow_node",
		map[string]string{
			"run_id":  t.RunID,
			"node_id": t.NodeID,
			"type":    string(t.Type),
			"status":  string(t.To),
		},
		fields,
		t.At,
	)
	return s.writer.WritePoint(ctx, p)
}

func (s *InfluxSink) OnRunComplete(ctx context.Context, c engine.Completion) error {
	p := influxdb2.NewPoint(
		"workflow_run",
		map[string]string{
			"run_id": c.RunID,
			"status": string(c.Status),
		},
		map[string]interface{}{
			"duration_ms": float64(c.Duration) / float64(time.Millisecond),
		},
		c.At,
	)
	return s.writer.WritePoint(ctx, p)
}

var _ engine.Sink = (*InfluxSink)(nil)
