// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"strings"
)

// Intent is what the user asked an inference node for.
type Intent string

const (
	IntentImage Intent = "image"
	IntentText  Intent = "text"
)

const classifierPrompt = "You route requests. If the user asks to generate, draw, paint, render or " +
	"otherwise create an image or picture, reply with the single word IMAGE. " +
	"For anything else reply with the single word TEXT."

// Classifier decides between image generation and a text answer.
type Classifier struct {
	Completer TextCompleter

	// Model overrides the completer's default model.
	Model string
}

// Classify asks the model for a one-word verdict at temperature zero. Any
// reply containing IMAGE is an image request; everything else is text.
func (c *Classifier) Classify(ctx context.Context, prompt string) (Intent, error) {
	out, err := c.Completer.Complete(ctx, CompletionRequest{
		Model:       c.Model,
		System:      classifierPrompt,
		User:        prompt,
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return IntentText, err
	}
	if strings.Contains(strings.ToUpper(out), "IMAGE") {
		return IntentImage, nil
	}
	return IntentText, nil
}
