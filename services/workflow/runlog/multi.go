// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runlog

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianFlow/services/workflow/engine"
)

// Multi fans every call out to each sink in order. One failing sink does
// not stop the others; their errors are joined.
type Multi []engine.Sink

func (m Multi) OnRunStart(ctx context.Context, run engine.Run) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.OnRunStart(ctx, run))
	}
	return errors.Join(errs...)
}

func (m Multi) OnTransition(ctx context.Context, t engine.Transition) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.OnTransition(ctx, t))
	}
	return errors.Join(errs...)
}

func (m Multi) OnRunComplete(ctx context.Context, c engine.Completion) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.OnRunComplete(ctx, c))
	}
	return errors.Join(errs...)
}

var _ engine.Sink = Multi(nil)
