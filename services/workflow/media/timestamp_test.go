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
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

func TestTimestamp_TenSecondClip(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"50%", 5.0},
		{"0%", 0},
		{"0", 0},
		{"", 0},
		{"2.5", 2.5},
		{"9.95", 9.9},
		{"42", 9.9},
		{"100%", 10.0},
		{"99.5%", 9.95},
		{" 25 % ", 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.in)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error = %v", tt.in, err)
			}
			got, err := ts.Seek(10.0)
			if err != nil {
				t.Fatalf("Seek() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Seek(10.0) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp_Rejects(t *testing.T) {
	for _, in := range []string{"110%", "-5%", "-1", "abc", "12s", "%", "NaN"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimestamp(in)
			if !errors.Is(err, flowerr.ErrValidation) {
				t.Errorf("ParseTimestamp(%q) error = %v, want validation", in, err)
			}
		})
	}
}

func TestTimestamp_VeryShortClip(t *testing.T) {
	ts, _ := ParseTimestamp("1")
	got, err := ts.Seek(0.05)
	if err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if got != 0 {
		t.Errorf("Seek(0.05) = %v, want 0", got)
	}

	ts, _ = ParseTimestamp("50%")
	if got, _ := ts.Seek(0.05); got != 0.025 {
		t.Errorf("Seek(0.05) = %v, want 0.025", got)
	}
}

func TestTimestamp_NonPositiveDuration(t *testing.T) {
	ts, _ := ParseTimestamp("1")
	if _, err := ts.Seek(0); !errors.Is(err, flowerr.ErrValidation) {
		t.Errorf("Seek(0) error = %v, want validation", err)
	}
}

func TestTimestamp_String(t *testing.T) {
	if got := (Timestamp{Percent: true, Value: 50}).String(); got != "50%" {
		t.Errorf("String() = %q", got)
	}
	if got := (Timestamp{Value: 9.95}).String(); got != "9.95" {
		t.Errorf("String() = %q", got)
	}
}
