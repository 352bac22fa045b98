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
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/credentials"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

// pngMagic is enough for http.DetectContentType.
var pngMagic = []byte("\x89PNG\r\n\x1a\n0000")

// fakeOpenAI serves the two endpoints the client uses.
type fakeOpenAI struct {
	reply  string
	status int
	calls  atomic.Int32

	mu        sync.Mutex
	lastChat  map[string]any
	lastImage map[string]any
	lastAuth  string
}

func (f *fakeOpenAI) chat() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChat
}

func (f *fakeOpenAI) image() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastImage
}

func (f *fakeOpenAI) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeOpenAI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.lastChat = body
		f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"total_tokens": 7},
		})
	})
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastImage = body
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(pngMagic)}},
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeOpenAI, creds credentials.Source) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewOpenAIClient(creds, Config{BaseURL: srv.URL + "/v1"}, nil)
}

func TestComplete(t *testing.T) {
	f := &fakeOpenAI{reply: "A cat sits on a mat."}
	c := newTestClient(t, f, credentials.MapSource{"OPENAI_API_KEY": "sk-test"})

	out, err := c.Complete(context.Background(), CompletionRequest{
		System:    "Be brief.",
		User:      "Describe a cat.",
		MaxTokens: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "A cat sits on a mat.", out)
	assert.Equal(t, "Bearer sk-test", f.auth())

	chat := f.chat()
	msgs := chat["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.EqualValues(t, 50, chat["max_completion_tokens"])

	temp, ok := chat["temperature"].(float64)
	require.True(t, ok, "temperature zero must still be sent")
	assert.InDelta(t, 0, temp, 1e-30)
}

func TestComplete_NoSystemMessageWhenEmpty(t *testing.T) {
	f := &fakeOpenAI{reply: "ok"}
	c := newTestClient(t, f, credentials.MapSource{"OPENAI_API_KEY": "sk-test"})

	_, err := c.Complete(context.Background(), CompletionRequest{User: "hi", System: "  "})
	require.NoError(t, err)
	assert.Len(t, f.chat()["messages"].([]any), 1)
}

func TestComplete_MissingCredentialFailsBeforeCall(t *testing.T) {
	f := &fakeOpenAI{reply: "unused"}
	c := newTestClient(t, f, credentials.MapSource{})

	_, err := c.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration), "error = %v", err)
	assert.Zero(t, f.calls.Load())
}

func TestComplete_ServerErrorIsExternal(t *testing.T) {
	f := &fakeOpenAI{status: http.StatusInternalServerError}
	c := newTestClient(t, f, credentials.MapSource{"OPENAI_API_KEY": "sk-test"})

	_, err := c.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrExternalService), "error = %v", err)
}

func TestGenerate(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, credentials.MapSource{"OPENAI_API_KEY": "sk-test"})

	img, mime, err := c.Generate(context.Background(), "a red fox")
	require.NoError(t, err)
	assert.Equal(t, pngMagic, img)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "a red fox", f.image()["prompt"])
	assert.Equal(t, "b64_json", f.image()["response_format"])
}

// --- Classifier ---

type stubCompleter struct {
	reply string
	err   error
	got   CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.got = req
	return s.reply, s.err
}

func TestClassifier(t *testing.T) {
	tests := []struct {
		reply string
		want  Intent
	}{
		{"IMAGE", IntentImage},
		{" image.", IntentImage},
		{"TEXT", IntentText},
		{"", IntentText},
	}
	for _, tt := range tests {
		stub := &stubCompleter{reply: tt.reply}
		got, err := (&Classifier{Completer: stub}).Classify(context.Background(), "draw a fox")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "reply %q", tt.reply)
		assert.Zero(t, stub.got.Temperature)
		assert.Equal(t, "draw a fox", stub.got.User)
	}
}

func TestClassifier_ErrorReportsText(t *testing.T) {
	stub := &stubCompleter{err: errors.New("boom")}
	got, err := (&Classifier{Completer: stub}).Classify(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, IntentText, got)
}
