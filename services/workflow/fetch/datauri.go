// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// ErrNotDataURI is returned when a value does not start with "data:".
var ErrNotDataURI = errors.New("not a data URI")

// DataURI is a decoded "data:<mime>;base64,<payload>" value.
type DataURI struct {
	MIME string
	Data []byte
}

// IsDataURI reports whether s is an embedded data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// IsHTTPURL reports whether s is an http or https URL.
func IsHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// EncodeDataURI returns data as a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// ParseDataURI decodes a base64 data URI. Only base64 payloads are accepted
// because every producer in the workflow emits binary media.
func ParseDataURI(s string) (*DataURI, error) {
	return ParseDataURILimit(s, 0)
}

// ParseDataURILimit is ParseDataURI with a cap on the decoded size. The cap
// is checked against the encoded length before anything is decoded. A
// maxBytes of zero or less disables the check.
func ParseDataURILimit(s string, maxBytes int64) (*DataURI, error) {
	const op = "parse data URI"
	if !IsDataURI(s) {
		return nil, flowerr.New(flowerr.KindValidation, op, ErrNotDataURI)
	}

	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, flowerr.Validationf(op, "missing ',' separator")
	}

	params := strings.Split(header, ";")
	mime := strings.TrimSpace(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, flowerr.Validationf(op, "payload must be base64 encoded")
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	if maxBytes > 0 {
		if n := DecodedSize(payload); n > maxBytes {
			return nil, flowerr.ResourceLimitf(op, "embedded payload of %d bytes exceeds limit of %d", n, maxBytes)
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, flowerr.Validationf(op, "decode payload: %w", err)
		}
	}
	return &DataURI{MIME: mime, Data: data}, nil
}

// DecodedSize returns the number of bytes payload decodes to, without
// decoding it. Padding is not counted.
func DecodedSize(payload string) int64 {
	return int64(base64.RawStdEncoding.DecodedLen(len(strings.TrimRight(payload, "="))))
}

// Extension returns a file extension for the media type, including the dot.
func Extension(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ".bin"
	}
}
