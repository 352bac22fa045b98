// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference talks to hosted models: chat completion, image
// generation and the intent classifier that chooses between them.
package inference

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFlow/services/workflow/credentials"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	// Model overrides the configured chat model when set.
	Model string

	// System is an optional instruction sent before the user message.
	System string

	User        string
	Temperature float32
	MaxTokens   int
}

// TextCompleter produces text from a prompt.
type TextCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ImageGenerator produces an image from a prompt. It returns the encoded
// image and its MIME type.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, string, error)
}

// Config configures an OpenAIClient.
type Config struct {
	// APIKeyName is the credential looked up for each call.
	APIKeyName string

	// BaseURL overrides the API endpoint, e.g. for a compatible gateway.
	BaseURL string

	ChatModel  string
	ImageModel string
	ImageSize  string

	// MaxTokens applies when a request does not set its own.
	MaxTokens int

	// RequestsPerSecond and Burst bound the call rate across all nodes.
	// Zero RequestsPerSecond disables the limit.
	RequestsPerSecond float64
	Burst             int

	// Timeout bounds each API call.
	Timeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		APIKeyName:        "OPENAI_API_KEY",
		ChatModel:         openai.GPT4oMini,
		ImageModel:        openai.CreateImageModelDallE3,
		ImageSize:         openai.CreateImageSize1024x1024,
		MaxTokens:         1024,
		RequestsPerSecond: 5,
		Burst:             5,
		Timeout:           2 * time.Minute,
	}
}

// OpenAIClient implements TextCompleter and ImageGenerator with go-openai.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIClient struct {
	cfg     Config
	creds   credentials.Source
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[[sha256.Size]byte]*openai.Client
}

// NewOpenAIClient creates a client. The API key is not read here: it is
// resolved from creds on each call.
func NewOpenAIClient(creds credentials.Source, cfg Config, logger *slog.Logger) *OpenAIClient {
	def := DefaultConfig()
	if cfg.APIKeyName == "" {
		cfg.APIKeyName = def.APIKeyName
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = def.ImageModel
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = def.ImageSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}

	return &OpenAIClient{
		cfg:     cfg,
		creds:   creds,
		limiter: limiter,
		logger:  logger,
		clients: make(map[[sha256.Size]byte]*openai.Client),
	}
}

// client returns an API client for the current key.
func (c *OpenAIClient) client() (*openai.Client, error) {
	key, err := credentials.Require(c.creds, c.cfg.APIKeyName)
	if err != nil {
		return nil, err
	}
	id := sha256.Sum256([]byte(key))

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[id]; ok {
		return cl, nil
	}
	oc := openai.DefaultConfig(key)
	if c.cfg.BaseURL != "" {
		oc.BaseURL = c.cfg.BaseURL
	}
	cl := openai.NewClientWithConfig(oc)
	c.clients[id] = cl
	return cl, nil
}

// Complete runs a chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	const op = "chat completion"
	cl, err := c.client()
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", flowerr.ExternalService(op, err)
	}

	model := req.Model
	if model == "" {
		model = c.cfg.ChatModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	temperature := req.Temperature
	if temperature == 0 {
		// Zero is omitted from the request body and the API would apply
		// its default of 1.
		temperature = math.SmallestNonzeroFloat32
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := cl.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messages,
		Temperature:         temperature,
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		c.logger.Error("chat completion failed", slog.String("model", model), slog.String("error", err.Error()))
		return "", apiError(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", flowerr.ExternalServicef(op, "no choices returned")
	}

	c.logger.Debug("chat completion",
		slog.String("model", model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

// Generate creates one image and returns its bytes.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	const op = "image generation"
	cl, err := c.client()
	if err != nil {
		return nil, "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", flowerr.ExternalService(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := cl.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.cfg.ImageModel,
		N:              1,
		Size:           c.cfg.ImageSize,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		c.logger.Error("image generation failed", slog.String("model", c.cfg.ImageModel), slog.String("error", err.Error()))
		return nil, "", apiError(op, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, "", flowerr.ExternalServicef(op, "no image data returned")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, "", flowerr.ExternalService(op, fmt.Errorf("decode image: %w", err))
	}
	return img, http.DetectContentType(img), nil
}

// apiError maps a go-openai error to an external service error.
func apiError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return flowerr.ExternalServicef(op, "status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return flowerr.ExternalServicef(op, "status %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return flowerr.ExternalServicef(op, "timed out")
	}
	return flowerr.ExternalService(op, err)
}

var (
	_ TextCompleter  = (*OpenAIClient)(nil)
	_ ImageGenerator = (*OpenAIClient)(nil)
)
