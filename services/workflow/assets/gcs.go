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
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// PublicBaseURL prefixes object keys in returned URLs. Empty uses
	// https://storage.googleapis.com/<bucket>.
	PublicBaseURL string `yaml:"public_base_url"`
}

// GCSStore writes assets to a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
	logger  *slog.Logger
}

// NewGCSStore creates a GCS client for cfg.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, flowerr.Configurationf("gcs store", "bucket is required")
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, flowerr.Configurationf("gcs store", "service account key not found at %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := cfg.PublicBaseURL
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, baseURL: base, logger: logger}, nil
}

// Store uploads data and returns its public URL.
func (s *GCSStore) Store(ctx context.Context, data []byte, hint Hint) (string, error) {
	key := ObjectKey(hint)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = hint.ContentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", flowerr.ExternalService("gcs upload", fmt.Errorf("copy to gs://%s/%s: %w", s.bucket, key, err))
	}
	if err := w.Close(); err != nil {
		return "", flowerr.ExternalService("gcs upload", fmt.Errorf("close writer for gs://%s/%s: %w", s.bucket, key, err))
	}

	s.logger.Debug("stored asset",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return joinURL(s.baseURL, key), nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ Store = (*GCSStore)(nil)
