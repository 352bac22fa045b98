// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flowerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesOwnKindOnly(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"validation", Validationf("crop", "x out of range"), ErrValidation},
		{"configuration", Configurationf("inference", "missing key"), ErrConfiguration},
		{"external", ExternalServicef("probe", "exit 1"), ErrExternalService},
		{"resource", ResourceLimitf("download", "too big"), ErrResourceLimit},
	}

	all := []error{ErrValidation, ErrConfiguration, ErrExternalService, ErrResourceLimit}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range all {
				got := errors.Is(tt.err, s)
				if got != (s == tt.want) {
					t.Errorf("errors.Is(%v, %v) = %v", tt.err, s, got)
				}
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := ResourceLimitf("download", "exceeded %d bytes", 10)
	wrapped := fmt.Errorf("node %q: %w", "crop-1", base)

	if got := KindOf(wrapped); got != KindResourceLimit {
		t.Errorf("KindOf() = %v, want %v", got, KindResourceLimit)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindUnknown)
	}
}

func TestError_Message(t *testing.T) {
	err := Validationf("extract-frame", "percentage %v out of range", 110)
	if got, want := err.Error(), "extract-frame: percentage 110 out of range"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	noOp := New(KindExternalService, "", errors.New("boom"))
	if got := noOp.Error(); got != "boom" {
		t.Errorf("Error() = %q, want %q", got, "boom")
	}
}

func TestKind_String(t *testing.T) {
	if KindExternalService.String() != "external_service" {
		t.Errorf("String() = %q", KindExternalService.String())
	}
	if Kind(42).String() != "unknown" {
		t.Errorf("String() = %q", Kind(42).String())
	}
}
