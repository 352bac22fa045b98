// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credentials resolves API keys for collaborators that need them.
//
// Keys are looked up by name on every use, so a run that starts before a key
// is provisioned fails with a configuration error instead of caching the
// absence. Found keys are held in memguard enclaves rather than plain strings.
package credentials

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// DefaultSecretsDir is where container secrets are mounted.
const DefaultSecretsDir = "/run/secrets"

// ErrMissing is wrapped by Require when a key is absent.
var ErrMissing = errors.New("credential not set")

// Source looks up credentials by name.
type Source interface {
	Lookup(key string) (string, bool)
}

// Require returns the credential named key or a configuration error.
func Require(src Source, key string) (string, error) {
	if src != nil {
		if v, ok := src.Lookup(key); ok && v != "" {
			return v, nil
		}
	}
	return "", flowerr.New(flowerr.KindConfiguration, "credentials", &missingError{key: key})
}

type missingError struct{ key string }

func (e *missingError) Error() string { return e.key + ": " + ErrMissing.Error() }
func (e *missingError) Unwrap() error { return ErrMissing }

// EnvSource reads credentials from the environment, falling back to a file
// named after the lower-cased key in SecretsDir.
type EnvSource struct {
	secretsDir string
	logger     *slog.Logger

	mu     sync.Mutex
	sealed map[string]*memguard.Enclave
}

// NewEnvSource creates an EnvSource. An empty secretsDir disables the file
// fallback.
func NewEnvSource(secretsDir string, logger *slog.Logger) *EnvSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvSource{
		secretsDir: secretsDir,
		logger:     logger,
		sealed:     make(map[string]*memguard.Enclave),
	}
}

// Lookup returns the credential named key.
func (s *EnvSource) Lookup(key string) (string, bool) {
	raw := s.read(key)
	if raw == nil {
		s.forget(key)
		return "", false
	}

	s.mu.Lock()
	s.sealed[key] = memguard.NewEnclave(raw) // wipes raw
	enclave := s.sealed[key]
	s.mu.Unlock()

	buf, err := enclave.Open()
	if err != nil {
		s.logger.Error("failed to open credential enclave",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return "", false
	}
	defer buf.Destroy()
	// Copy out: buf.String() aliases memory that Destroy unmaps.
	return string(buf.Bytes()), true
}

// read returns the raw bytes for key, or nil when absent.
func (s *EnvSource) read(key string) []byte {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return []byte(v)
	}
	if s.secretsDir == "" {
		return nil
	}
	path := filepath.Join(s.secretsDir, strings.ToLower(key))
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	v := []byte(strings.TrimSpace(string(b)))
	memguard.WipeBytes(b)
	if len(v) == 0 {
		return nil
	}
	s.logger.Debug("read credential from secrets directory", slog.String("key", key))
	return v
}

func (s *EnvSource) forget(key string) {
	s.mu.Lock()
	delete(s.sealed, key)
	s.mu.Unlock()
}

// MapSource is a fixed set of credentials, for tests and embedded use.
type MapSource map[string]string

// Lookup returns m[key].
func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Purge wipes all enclave memory. Call it on shutdown.
func Purge() {
	memguard.Purge()
}

var (
	_ Source = (*EnvSource)(nil)
	_ Source = MapSource(nil)
)
