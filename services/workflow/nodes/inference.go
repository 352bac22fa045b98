// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/workflow/assets"
	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
	"github.com/AleutianAI/AleutianFlow/services/workflow/inference"
)

// DefaultTemperature is used for text answers.
const DefaultTemperature float32 = 0.7

// InferenceConfig configures an InferenceExecutor.
type InferenceConfig struct {
	Text       inference.TextCompleter
	Images     inference.ImageGenerator
	Classifier *inference.Classifier

	// Store is optional; without it generated images are data URIs.
	Store assets.Store

	Temperature float32
	Logger      *slog.Logger
}

// InferenceExecutor answers a prompt built from upstream text and images,
// either with text or by generating an image.
type InferenceExecutor struct {
	cfg InferenceConfig
}

// NewInferenceExecutor creates an InferenceExecutor. A nil Classifier uses
// cfg.Text for classification.
func NewInferenceExecutor(cfg InferenceConfig) *InferenceExecutor {
	if cfg.Classifier == nil {
		cfg.Classifier = &inference.Classifier{Completer: cfg.Text}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InferenceExecutor{cfg: cfg}
}

// Execute builds the prompt, classifies it and dispatches to image
// generation or text completion.
//
// A classification failure falls back to text, except when it is a
// configuration error: a missing credential would fail the completion too.
func (e *InferenceExecutor) Execute(ctx context.Context, req Request, d graph.InferenceData) (Output, error) {
	const op = "inference"
	prompt := BuildPrompt(req.Inputs)
	if prompt == "" {
		return Output{}, flowerr.Validationf(op, "missing input: node %s has no upstream text or image", req.NodeID)
	}

	intent, err := e.cfg.Classifier.Classify(ctx, prompt)
	if err != nil {
		if flowerr.KindOf(err) == flowerr.KindConfiguration {
			return Output{}, err
		}
		e.cfg.Logger.Warn("intent classification failed, answering with text",
			slog.String("node_id", req.NodeID),
			slog.String("error", err.Error()))
		intent = inference.IntentText
	}

	logger := e.cfg.Logger.With(slog.String("node_id", req.NodeID), slog.String("intent", string(intent)))

	if intent == inference.IntentImage {
		img, mime, err := e.cfg.Images.Generate(ctx, prompt)
		if err != nil {
			return Output{}, err
		}
		ref, err := assets.Deliver(ctx, e.cfg.Store, img, assets.Hint{RunID: req.RunID, NodeID: req.NodeID, ContentType: mime})
		if err != nil {
			return Output{}, err
		}
		logger.Debug("generated image", slog.Int("bytes", len(img)))
		return ImageOutput(ref), nil
	}

	text, err := e.cfg.Text.Complete(ctx, inference.CompletionRequest{
		Model:       d.Model,
		System:      d.SystemPrompt,
		User:        prompt,
		Temperature: e.cfg.Temperature,
		MaxTokens:   d.MaxTokens,
	})
	if err != nil {
		return Output{}, err
	}
	logger.Debug("completed text", slog.Int("chars", len(text)))
	return TextOutput(text), nil
}

// BuildPrompt joins upstream text with blank lines and appends each upstream
// image as a bracketed reference. Embedded images are summarised rather than
// pasted into the prompt.
func BuildPrompt(inputs []Input) string {
	var texts, images []string
	for _, in := range inputs {
		v := in.Output.Value
		switch in.EffectiveKind() {
		case graph.OutputText:
			if strings.TrimSpace(v) != "" {
				texts = append(texts, v)
			}
		case graph.OutputImage:
			images = append(images, "[Image: "+describeRef(v)+"]")
		}
	}
	prompt := strings.Join(texts, "\n\n")
	if len(images) > 0 {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += strings.Join(images, "\n")
	}
	return prompt
}

func describeRef(ref string) string {
	if !fetch.IsDataURI(ref) {
		return ref
	}
	uri, err := fetch.ParseDataURI(ref)
	if err != nil {
		return "embedded image"
	}
	return fmt.Sprintf("embedded %s, %d bytes", uri.MIME, len(uri.Data))
}
