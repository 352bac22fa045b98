// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assets stores media produced by nodes and returns a URL for it.
//
// A store is optional. Without one, node outputs are returned inline as
// data URIs; Deliver hides that choice from the executors.
package assets

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
)

// Hint describes an object being stored.
type Hint struct {
	RunID       string
	NodeID      string
	ContentType string
}

// Store persists bytes and returns a URL a browser can load.
type Store interface {
	Store(ctx context.Context, data []byte, hint Hint) (string, error)
}

// ObjectKey returns "runs/<run>/<node>-<uuid><ext>". Path separators in ids
// are replaced so that a node id can't escape its run prefix.
func ObjectKey(hint Hint) string {
	clean := func(s, fallback string) string {
		s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(s))
		if s == "" {
			return fallback
		}
		return s
	}
	name := clean(hint.NodeID, "node") + "-" + uuid.NewString() + fetch.Extension(hint.ContentType)
	return path.Join("runs", clean(hint.RunID, "adhoc"), name)
}

// Deliver stores data with store, or encodes it as a data URI when store is
// nil.
func Deliver(ctx context.Context, store Store, data []byte, hint Hint) (string, error) {
	if store == nil {
		return fetch.EncodeDataURI(hint.ContentType, data), nil
	}
	return store.Store(ctx, data, hint)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
