// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package media

import (
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// EndMargin keeps a seek this many seconds before the end of the clip, where
// decoders reliably still have a frame.
const EndMargin = 0.1

// Timestamp selects a frame either as a percentage of the clip or as an
// absolute offset in seconds.
type Timestamp struct {
	Percent bool
	Value   float64
}

// ParseTimestamp parses "NN%" (0..100) or a non-negative number of seconds.
// An empty string means the first frame.
func ParseTimestamp(s string) (Timestamp, error) {
	const op = "parse timestamp"
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}

	if num, ok := strings.CutSuffix(s, "%"); ok {
		p, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil || math.IsNaN(p) {
			return Timestamp{}, flowerr.Validationf(op, "invalid percentage %q", s)
		}
		if p < 0 || p > 100 {
			return Timestamp{}, flowerr.Validationf(op, "percentage %q must be between 0 and 100", s)
		}
		return Timestamp{Percent: true, Value: p}, nil
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return Timestamp{}, flowerr.Validationf(op, "invalid timestamp %q: want seconds or a percentage", s)
	}
	if secs < 0 {
		return Timestamp{}, flowerr.Validationf(op, "timestamp %q must not be negative", s)
	}
	return Timestamp{Value: secs}, nil
}

// Seek resolves the timestamp against a clip of the given duration in
// seconds. Percentages scale the duration and are used as is. An absolute
// seek that would land within EndMargin of the end, or beyond it, is pulled
// back to duration − EndMargin.
func (t Timestamp) Seek(duration float64) (float64, error) {
	if math.IsNaN(duration) || duration <= 0 {
		return 0, flowerr.Validationf("resolve timestamp", "clip duration %v is not positive", duration)
	}

	seek := t.Value
	if t.Percent {
		seek = t.Value / 100 * duration
	} else if limit := duration - EndMargin; seek > limit {
		seek = max(limit, 0)
	}
	// Keep the result free of float noise such as 9.899999999999999.
	return math.Round(seek*1000) / 1000, nil
}

// String formats the timestamp as it would be written in a node.
func (t Timestamp) String() string {
	v := strconv.FormatFloat(t.Value, 'f', -1, 64)
	if t.Percent {
		return v + "%"
	}
	return v
}
