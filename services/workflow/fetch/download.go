// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetch retrieves remote media under a byte cap and a time cap.
//
// The Downloader streams a response body chunk by chunk. Each chunk is a
// suspension point where the running total is checked against the cap and
// the request is cancelled the moment it is exceeded. Writes go through a
// fixed-size buffer that is flushed to the destination whenever the next
// chunk would not fit, so a slow disk holds back further reads.
//
// # Thread Safety
//
// A Downloader is safe for concurrent use.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

const (
	// DefaultMaxBytes is the byte cap when Config.MaxBytes is zero.
	DefaultMaxBytes int64 = 100 << 20

	// DefaultTimeout bounds a whole download when Config.Timeout is zero.
	DefaultTimeout = 60 * time.Second

	// DefaultChunkSize is the size of a single body read.
	DefaultChunkSize = 32 << 10

	// DefaultBufferSize is the size of the write buffer.
	DefaultBufferSize = 256 << 10
)

// Download outcomes reported to Metrics.
const (
	OutcomeOK       = "ok"
	OutcomeTooLarge = "too_large"
	OutcomeTimeout  = "timeout"
	OutcomeHTTP     = "http_error"
	OutcomeFailed   = "failed"
)

// Metrics receives one observation per finished download.
type Metrics interface {
	ObserveDownload(outcome string, bytes int64)
}

// Config configures a Downloader.
type Config struct {
	// Client issues requests. Nil uses a client without its own timeout;
	// the Downloader applies Timeout through the request context.
	Client *http.Client

	// MaxBytes caps the body size.
	MaxBytes int64

	// Timeout caps the whole request including the body transfer.
	Timeout time.Duration

	// ChunkSize is the size of each body read.
	ChunkSize int

	// BufferSize is the size of the write buffer.
	BufferSize int

	// Logger for download events. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics Metrics
}

// Downloader performs bounded streaming downloads.
type Downloader struct {
	client     *http.Client
	maxBytes   int64
	timeout    time.Duration
	chunkSize  int
	bufferSize int
	logger     *slog.Logger
	metrics    Metrics
}

// New creates a Downloader, filling zero fields with defaults.
func New(cfg Config) *Downloader {
	d := &Downloader{
		client:     cfg.Client,
		maxBytes:   cfg.MaxBytes,
		timeout:    cfg.Timeout,
		chunkSize:  cfg.ChunkSize,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.maxBytes <= 0 {
		d.maxBytes = DefaultMaxBytes
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.chunkSize <= 0 {
		d.chunkSize = DefaultChunkSize
	}
	if d.bufferSize < d.chunkSize {
		d.bufferSize = max(DefaultBufferSize, d.chunkSize)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// MaxBytes returns the configured byte cap.
func (d *Downloader) MaxBytes() int64 {
	return d.maxBytes
}

// Download streams rawURL into destPath.
//
// Description:
//
//	The destination is created (truncating any existing file) and closed on
//	every path. If the transfer fails for any reason the file is removed,
//	so a partial download is never left where a caller could mistake it
//	for output.
//
// Inputs:
//
//	ctx - Parent context. Cancelling it aborts the transfer.
//	rawURL - An http or https URL.
//	destPath - File to write.
//
// Outputs:
//
//	int64 - Bytes written.
//	error - ExternalService for non-2xx, transport failures and timeouts;
//	        ResourceLimit when the cap is exceeded.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string) (written int64, err error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", destPath, cerr)
		}
		if err != nil {
			if rerr := os.Remove(destPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				d.logger.Warn("failed to remove partial download",
					slog.String("path", destPath),
					slog.String("error", rerr.Error()))
			}
			written = 0
		}
	}()

	written, _, err = d.stream(ctx, rawURL, f)
	return written, err
}

// FetchBytes downloads rawURL into memory under the same caps as Download.
// It also returns the response Content-Type.
func (d *Downloader) FetchBytes(ctx context.Context, rawURL string) ([]byte, string, error) {
	var buf bytes.Buffer
	_, contentType, err := d.stream(ctx, rawURL, &buf)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), contentType, nil
}

// Load resolves a media reference: a data URI is decoded in place and an
// http(s) URL is fetched. The decoded size of a data URI is held to the same
// cap as a download.
func (d *Downloader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	switch {
	case IsDataURI(ref):
		uri, err := ParseDataURILimit(ref, d.maxBytes)
		if err != nil {
			return nil, "", err
		}
		return uri.Data, uri.MIME, nil
	case IsHTTPURL(ref):
		return d.FetchBytes(ctx, ref)
	default:
		return nil, "", flowerr.Validationf("load", "unsupported media reference %q", truncate(ref, 48))
	}
}

// stream performs the request and copies the body into dst. Only the
// downloader's own deadline is reported as a timeout. When parent ends first
// its error is wrapped instead.
func (d *Downloader) stream(parent context.Context, rawURL string, dst io.Writer) (int64, string, error) {
	const op = "download"
	start := time.Now()
	host := hostOf(rawURL)

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", flowerr.Validationf(op, "invalid url: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if perr := parent.Err(); perr != nil {
			d.observe(OutcomeFailed, 0)
			return 0, "", flowerr.ExternalService(op, fmt.Errorf("GET %s: %w", host, perr))
		}
		if isTimeout(ctx, err) {
			d.observe(OutcomeTimeout, 0)
			return 0, "", flowerr.ExternalServicef(op, "GET %s: timed out after %s", host, d.timeout)
		}
		d.observe(OutcomeFailed, 0)
		return 0, "", flowerr.ExternalService(op, fmt.Errorf("GET %s: %w", host, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.observe(OutcomeHTTP, 0)
		return 0, "", flowerr.ExternalServicef(op, "GET %s: unexpected status %d", host, resp.StatusCode)
	}

	if resp.ContentLength > d.maxBytes {
		d.observe(OutcomeTooLarge, 0)
		d.logger.Warn("download rejected by declared length",
			slog.String("host", host),
			slog.Int64("content_length", resp.ContentLength),
			slog.Int64("max_bytes", d.maxBytes))
		return 0, "", flowerr.ResourceLimitf(op, "declared content length %d exceeds limit of %d bytes",
			resp.ContentLength, d.maxBytes)
	}

	n, err := d.copyBounded(ctx, cancel, resp.Body, dst)
	if err != nil {
		switch flowerr.KindOf(err) {
		case flowerr.KindResourceLimit:
			d.observe(OutcomeTooLarge, n)
		default:
			if perr := parent.Err(); perr != nil {
				d.observe(OutcomeFailed, n)
				return n, "", flowerr.ExternalService(op, fmt.Errorf("GET %s: %w", host, perr))
			}
			if isTimeout(ctx, err) {
				d.observe(OutcomeTimeout, n)
				return n, "", flowerr.ExternalServicef(op, "GET %s: timed out after %s", host, d.timeout)
			}
			d.observe(OutcomeFailed, n)
		}
		return n, "", err
	}

	d.observe(OutcomeOK, n)
	d.logger.Debug("download complete",
		slog.String("host", host),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)))
	return n, resp.Header.Get("Content-Type"), nil
}

// copyBounded reads body one chunk at a time. After every read the running
// total is checked against the cap. A chunk that does not fit the free space
// of the write buffer forces a flush before it is buffered.
func (d *Downloader) copyBounded(ctx context.Context, cancel context.CancelFunc, body io.Reader, dst io.Writer) (int64, error) {
	const op = "download"
	bw := bufio.NewWriterSize(dst, d.bufferSize)
	chunk := make([]byte, d.chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, flowerr.ExternalService(op, err)
		}

		n, rerr := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > d.maxBytes {
				cancel()
				return total, flowerr.ResourceLimitf(op, "body exceeded limit of %d bytes", d.maxBytes)
			}
			if n > bw.Available() {
				if err := bw.Flush(); err != nil {
					return total, fmt.Errorf("flush: %w", err)
				}
			}
			if _, err := bw.Write(chunk[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return total, flowerr.ExternalService(op, fmt.Errorf("read body: %w", rerr))
		}
	}

	if err := bw.Flush(); err != nil {
		return total, fmt.Errorf("flush: %w", err)
	}
	return total, nil
}

func (d *Downloader) observe(outcome string, n int64) {
	if d.metrics != nil {
		d.metrics.ObserveDownload(outcome, n)
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// hostOf returns the host for logging so that signed query strings stay out
// of the logs.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "<invalid>"
	}
	return u.Host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
