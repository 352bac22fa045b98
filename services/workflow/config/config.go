// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the workflow service configuration.
//
// # Description
//
// Configuration comes from three layers, later layers winning:
//
//  1. DefaultConfig()
//  2. An optional YAML file
//  3. FLOW_* environment variables (see applyEnv)
//
// Load then raises timeouts and byte caps to their minimums and rejects
// unknown backends. Credentials are never read here; the OpenAI key is
// resolved per call by the credential source.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/services/workflow/assets"
	"github.com/AleutianAI/AleutianFlow/services/workflow/credentials"
	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/inference"
	"github.com/AleutianAI/AleutianFlow/services/workflow/observability"
	"github.com/AleutianAI/AleutianFlow/services/workflow/process"
	"github.com/AleutianAI/AleutianFlow/services/workflow/runlog"
)

// =============================================================================
// Minimums
// =============================================================================

const (
	// MinNodeTimeout is the shortest per-node timeout accepted.
	MinNodeTimeout = time.Second

	// MinDownloadTimeout is the shortest download timeout accepted.
	MinDownloadTimeout = time.Second

	// MinProcessTimeout is the shortest probe or extraction timeout accepted.
	MinProcessTimeout = time.Second

	// MinDownloadBytes is the smallest download cap accepted.
	MinDownloadBytes int64 = 1 << 20

	// MinChunkSize is the smallest download read size accepted.
	MinChunkSize = 4 << 10
)

// Asset and run log backends.
const (
	AssetsNone  = "none"
	AssetsGCS   = "gcs"
	AssetsMinio = "minio"

	RunLogMemory   = "memory"
	RunLogBadger   = "badger"
	RunLogPostgres = "postgres"
)

// =============================================================================
// Types
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig                   `yaml:"server"`
	Logging   LoggingConfig                  `yaml:"logging"`
	Engine    EngineConfig                   `yaml:"engine"`
	Download  DownloadConfig                 `yaml:"download"`
	Media     MediaConfig                    `yaml:"media"`
	Inference InferenceConfig                `yaml:"inference"`
	Assets    AssetsConfig                   `yaml:"assets"`
	RunLog    RunLogConfig                   `yaml:"runlog"`
	Telemetry observability.TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"` // debug, release or test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type EngineConfig struct {
	NodeTimeout time.Duration `yaml:"node_timeout"`

	// ScratchDir holds per-node working directories. Empty uses os.TempDir().
	ScratchDir string `yaml:"scratch_dir"`
}

type DownloadConfig struct {
	MaxBytes   int64         `yaml:"max_bytes"`
	Timeout    time.Duration `yaml:"timeout"`
	ChunkSize  int           `yaml:"chunk_size"`
	BufferSize int           `yaml:"buffer_size"`
}

type MediaConfig struct {
	ProbeBinary    string        `yaml:"probe_binary"`
	ExtractBinary  string        `yaml:"extract_binary"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
}

type InferenceConfig struct {
	APIKeyName        string        `yaml:"api_key_name"`
	BaseURL           string        `yaml:"base_url"`
	ChatModel         string        `yaml:"chat_model"`
	ImageModel        string        `yaml:"image_model"`
	ImageSize         string        `yaml:"image_size"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float32       `yaml:"temperature"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`

	// SecretsDir is searched for credentials missing from the environment.
	SecretsDir string `yaml:"secrets_dir"`
}

type AssetsConfig struct {
	Backend string             `yaml:"backend"`
	GCS     assets.GCSConfig   `yaml:"gcs"`
	Minio   assets.MinioConfig `yaml:"minio"`
}

type RunLogConfig struct {
	Backend    string                `yaml:"backend"`
	MemoryRuns int                   `yaml:"memory_runs"`
	Badger     runlog.BadgerConfig   `yaml:"badger"`
	Postgres   runlog.PostgresConfig `yaml:"postgres"`

	// Influx is optional; an empty URL disables the time series sink.
	Influx runlog.InfluxConfig `yaml:"influx"`

	// SubscriberBuffer is the event buffer of each websocket subscriber.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration that runs without any external
// service except the OpenAI API.
func DefaultConfig() Config {
	inf := inference.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:            8090,
			GinMode:         "release",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		Engine:  EngineConfig{NodeTimeout: engine.DefaultNodeTimeout},
		Download: DownloadConfig{
			MaxBytes:   fetch.DefaultMaxBytes,
			Timeout:    fetch.DefaultTimeout,
			ChunkSize:  fetch.DefaultChunkSize,
			BufferSize: fetch.DefaultBufferSize,
		},
		Media: MediaConfig{
			ProbeBinary:    "ffprobe",
			ExtractBinary:  "ffmpeg",
			ProbeTimeout:   process.DefaultProbeTimeout,
			ExtractTimeout: process.DefaultExtractTimeout,
		},
		Inference: InferenceConfig{
			APIKeyName:        inf.APIKeyName,
			ChatModel:         inf.ChatModel,
			ImageModel:        inf.ImageModel,
			ImageSize:         inf.ImageSize,
			MaxTokens:         inf.MaxTokens,
			RequestsPerSecond: inf.RequestsPerSecond,
			Burst:             inf.Burst,
			Timeout:           inf.Timeout,
			SecretsDir:        credentials.DefaultSecretsDir,
		},
		Assets: AssetsConfig{Backend: AssetsNone},
		RunLog: RunLogConfig{
			Backend:          RunLogMemory,
			MemoryRuns:       runlog.DefaultMemoryRuns,
			Badger:           runlog.DefaultBadgerConfig("./data/runlog"),
			Postgres:         runlog.DefaultPostgresConfig(""),
			SubscriberBuffer: runlog.DefaultSubscriberBuffer,
		},
		Telemetry: observability.DefaultTelemetryConfig(),
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg = cfg.Validated()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to
// defaults. An empty document leaves cfg unchanged.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from the environment.
//
//	FLOW_PORT, FLOW_GIN_MODE, FLOW_LOG_LEVEL, FLOW_LOG_DIR,
//	FLOW_NODE_TIMEOUT, FLOW_SCRATCH_DIR,
//	FLOW_DOWNLOAD_MAX_BYTES, FLOW_DOWNLOAD_TIMEOUT,
//	FLOW_PROBE_BINARY, FLOW_EXTRACT_BINARY,
//	FLOW_OPENAI_BASE_URL, FLOW_CHAT_MODEL, FLOW_IMAGE_MODEL,
//	FLOW_ASSETS_BACKEND, FLOW_GCS_BUCKET,
//	FLOW_MINIO_ENDPOINT, FLOW_MINIO_ACCESS_KEY, FLOW_MINIO_SECRET_KEY, FLOW_MINIO_BUCKET,
//	FLOW_RUNLOG_BACKEND, FLOW_BADGER_PATH, FLOW_POSTGRES_URL,
//	FLOW_INFLUX_URL, FLOW_INFLUX_TOKEN, FLOW_INFLUX_ORG, FLOW_INFLUX_BUCKET,
//	FLOW_TRACE_EXPORTER, FLOW_METRIC_EXPORTER, FLOW_OTLP_ENDPOINT
func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"FLOW_GIN_MODE":         &c.Server.GinMode,
		"FLOW_LOG_LEVEL":        &c.Logging.Level,
		"FLOW_LOG_DIR":          &c.Logging.Dir,
		"FLOW_SCRATCH_DIR":      &c.Engine.ScratchDir,
		"FLOW_PROBE_BINARY":     &c.Media.ProbeBinary,
		"FLOW_EXTRACT_BINARY":   &c.Media.ExtractBinary,
		"FLOW_OPENAI_BASE_URL":  &c.Inference.BaseURL,
		"FLOW_CHAT_MODEL":       &c.Inference.ChatModel,
		"FLOW_IMAGE_MODEL":      &c.Inference.ImageModel,
		"FLOW_ASSETS_BACKEND":   &c.Assets.Backend,
		"FLOW_GCS_BUCKET":       &c.Assets.GCS.Bucket,
		"FLOW_MINIO_ENDPOINT":   &c.Assets.Minio.Endpoint,
		"FLOW_MINIO_ACCESS_KEY": &c.Assets.Minio.AccessKey,
		"FLOW_MINIO_SECRET_KEY": &c.Assets.Minio.SecretKey,
		"FLOW_MINIO_BUCKET":     &c.Assets.Minio.Bucket,
		"FLOW_RUNLOG_BACKEND":   &c.RunLog.Backend,
		"FLOW_BADGER_PATH":      &c.RunLog.Badger.Path,
		"FLOW_POSTGRES_URL":     &c.RunLog.Postgres.URL,
		"FLOW_INFLUX_URL":       &c.RunLog.Influx.URL,
		"FLOW_INFLUX_TOKEN":     &c.RunLog.Influx.Token,
		"FLOW_INFLUX_ORG":       &c.RunLog.Influx.Org,
		"FLOW_INFLUX_BUCKET":    &c.RunLog.Influx.Bucket,
		"FLOW_TRACE_EXPORTER":   &c.Telemetry.TraceExporter,
		"FLOW_METRIC_EXPORTER":  &c.Telemetry.MetricExporter,
		"FLOW_OTLP_ENDPOINT":    &c.Telemetry.OTLPEndpoint,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FLOW_NODE_TIMEOUT":     &c.Engine.NodeTimeout,
		"FLOW_DOWNLOAD_TIMEOUT": &c.Download.Timeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return flowerr.Configurationf("config", "%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("FLOW_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return flowerr.Configurationf("config", "FLOW_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("FLOW_DOWNLOAD_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return flowerr.Configurationf("config", "FLOW_DOWNLOAD_MAX_BYTES: %w", err)
		}
		c.Download.MaxBytes = n
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

// Validated returns a copy with timeouts and byte caps raised to their
// minimums. The receiver is not modified.
func (c Config) Validated() Config {
	out := c
	out.Engine.NodeTimeout = max(c.Engine.NodeTimeout, MinNodeTimeout)
	out.Download.Timeout = max(c.Download.Timeout, MinDownloadTimeout)
	out.Download.MaxBytes = max(c.Download.MaxBytes, MinDownloadBytes)
	out.Download.ChunkSize = max(c.Download.ChunkSize, MinChunkSize)
	out.Download.BufferSize = max(c.Download.BufferSize, out.Download.ChunkSize)
	out.Media.ProbeTimeout = max(c.Media.ProbeTimeout, MinProcessTimeout)
	out.Media.ExtractTimeout = max(c.Media.ExtractTimeout, MinProcessTimeout)
	return out
}

// Validate reports settings that no minimum can repair.
func (c Config) Validate() error {
	const op = "config"
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return flowerr.Configurationf(op, "server.port %d out of range", c.Server.Port)
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		return flowerr.Configurationf(op, "server.gin_mode must be debug, release or test, got %q", c.Server.GinMode)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return flowerr.Configurationf(op, "logging.level: %w", err)
	}
	if strings.TrimSpace(c.Media.ProbeBinary) == "" || strings.TrimSpace(c.Media.ExtractBinary) == "" {
		return flowerr.Configurationf(op, "media.probe_binary and media.extract_binary are required")
	}
	if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
		return flowerr.Configurationf(op, "inference.temperature must be within 0..2")
	}

	switch c.Assets.Backend {
	case AssetsNone:
	case AssetsGCS:
		if strings.TrimSpace(c.Assets.GCS.Bucket) == "" {
			return flowerr.Configurationf(op, "assets.gcs.bucket is required")
		}
	case AssetsMinio:
		if err := c.Assets.Minio.Validate(); err != nil {
			return err
		}
	default:
		return flowerr.Configurationf(op, "unknown assets.backend %q", c.Assets.Backend)
	}

	switch c.RunLog.Backend {
	case RunLogMemory:
	case RunLogBadger:
		if !c.RunLog.Badger.InMemory && strings.TrimSpace(c.RunLog.Badger.Path) == "" {
			return flowerr.Configurationf(op, "runlog.badger.path is required")
		}
	case RunLogPostgres:
		if err := c.RunLog.Postgres.Validate(); err != nil {
			return flowerr.Configurationf(op, "runlog.postgres: %w", err)
		}
	default:
		return flowerr.Configurationf(op, "unknown runlog.backend %q", c.RunLog.Backend)
	}
	if c.RunLog.Influx.URL != "" {
		if err := c.RunLog.Influx.Validate(); err != nil {
			return flowerr.Configurationf(op, "runlog.influx: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Conversions
// =============================================================================

// LoggingConfig returns the pkg/logging configuration for service.
func (c Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}

// OpenAIConfig returns the inference client configuration.
func (c Config) OpenAIConfig() inference.Config {
	return inference.Config{
		APIKeyName:        c.Inference.APIKeyName,
		BaseURL:           c.Inference.BaseURL,
		ChatModel:         c.Inference.ChatModel,
		ImageModel:        c.Inference.ImageModel,
		ImageSize:         c.Inference.ImageSize,
		MaxTokens:         c.Inference.MaxTokens,
		RequestsPerSecond: c.Inference.RequestsPerSecond,
		Burst:             c.Inference.Burst,
		Timeout:           c.Inference.Timeout,
	}
}
