// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"net/url"
	"path"
	"strings"
)

// OutputKind describes what a node output value carries.
type OutputKind string

const (
	OutputText    OutputKind = "text"
	OutputImage   OutputKind = "image"
	OutputVideo   OutputKind = "video"
	OutputUnknown OutputKind = "unknown"
)

var (
	imageExts = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true,
	}
	videoExts = map[string]bool{
		".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true, ".m4v": true,
	}
)

// OutputKindOf returns the kind of output a node of kind k produces.
func OutputKindOf(k Kind) OutputKind {
	switch k {
	case KindText:
		return OutputText
	case KindImageSource, KindCrop, KindExtractFrame:
		return OutputImage
	case KindVideoSource:
		return OutputVideo
	default:
		// Inference may answer with text or an image.
		return OutputUnknown
	}
}

// ClassifyOutput infers the kind of value from its shape: data URIs by their
// media type, URLs by their file extension, anything else is text. A URL
// whose extension says nothing is reported as unknown.
func ClassifyOutput(value string) OutputKind {
	switch {
	case strings.HasPrefix(value, "data:"):
		mime := strings.TrimPrefix(value, "data:")
		if i := strings.IndexAny(mime, ";,"); i >= 0 {
			mime = mime[:i]
		}
		switch {
		case strings.HasPrefix(mime, "image/"):
			return OutputImage
		case strings.HasPrefix(mime, "video/"):
			return OutputVideo
		case strings.HasPrefix(mime, "text/"):
			return OutputText
		}
		return OutputUnknown
	case strings.HasPrefix(value, "http://"), strings.HasPrefix(value, "https://"):
		u, err := url.Parse(value)
		if err != nil {
			return OutputUnknown
		}
		ext := strings.ToLower(path.Ext(u.Path))
		switch {
		case imageExts[ext]:
			return OutputImage
		case videoExts[ext]:
			return OutputVideo
		}
		return OutputUnknown
	default:
		return OutputText
	}
}
