// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// MinioConfig configures a MinioStore for any S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`

	// PublicBaseURL prefixes object keys in returned URLs. Empty returns
	// presigned GET URLs valid for PresignTTL.
	PublicBaseURL string        `yaml:"public_base_url"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`
}

// Validate checks required fields.
func (c MinioConfig) Validate() error {
	const op = "minio store"
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return flowerr.Configurationf(op, "endpoint is required")
	case strings.Contains(c.Endpoint, "://"):
		return flowerr.Configurationf(op, "endpoint must not include scheme: %q", c.Endpoint)
	case strings.TrimSpace(c.AccessKey) == "", strings.TrimSpace(c.SecretKey) == "":
		return flowerr.Configurationf(op, "access key and secret key are required")
	case strings.TrimSpace(c.Bucket) == "":
		return flowerr.Configurationf(op, "bucket is required")
	}
	return nil
}

// MinioStore writes assets to an S3-compatible bucket.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	baseURL    string
	presignTTL time.Duration
	logger     *slog.Logger
}

// NewMinioStore creates a client for cfg. It does not touch the network;
// call EnsureBucket at start-up to create the bucket.
func NewMinioStore(cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioStore{
		client:     client,
		bucket:     cfg.Bucket,
		baseURL:    cfg.PublicBaseURL,
		presignTTL: ttl,
		logger:     logger,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return flowerr.ExternalService("minio ensure bucket", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return flowerr.ExternalService("minio ensure bucket", err)
	}
	return nil
}

// Store uploads data and returns a public or presigned URL.
func (s *MinioStore) Store(ctx context.Context, data []byte, hint Hint) (string, error) {
	const op = "minio upload"
	key := ObjectKey(hint)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: hint.ContentType})
	if err != nil {
		return "", flowerr.ExternalService(op, fmt.Errorf("put %s/%s: %w", s.bucket, key, err))
	}

	s.logger.Debug("stored asset",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(data)))

	if s.baseURL != "" {
		return joinURL(s.baseURL, key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, nil)
	if err != nil {
		return "", flowerr.ExternalService(op, fmt.Errorf("presign %s/%s: %w", s.bucket, key, err))
	}
	return u.String(), nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ Store = (*MinioStore)(nil)
