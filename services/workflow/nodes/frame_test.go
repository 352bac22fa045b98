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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/fetch"
	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
	"github.com/AleutianAI/AleutianFlow/services/workflow/graph"
)

// fakeMedia stands in for the downloader, ffprobe and ffmpeg.
type fakeMedia struct {
	mu sync.Mutex

	duration    float64
	probeErr    error
	downloadErr error
	frame       []byte

	downloaded []string
	probed     []string
	seeks      []float64
}

func (f *fakeMedia) Download(_ context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	f.downloaded = append(f.downloaded, url)
	f.mu.Unlock()
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	return 4, os.WriteFile(dest, []byte("mp4!"), 0o600)
}

func (f *fakeMedia) Duration(_ context.Context, path string) (float64, error) {
	f.mu.Lock()
	f.probed = append(f.probed, path)
	f.mu.Unlock()
	return f.duration, f.probeErr
}

func (f *fakeMedia) ExtractFrame(_ context.Context, input string, seek float64, output string) error {
	f.mu.Lock()
	f.seeks = append(f.seeks, seek)
	f.mu.Unlock()
	if _, err := os.Stat(input); err != nil {
		return err
	}
	return os.WriteFile(output, f.frame, 0o600)
}

func newFrameExecutor(t *testing.T, m *fakeMedia) (*FrameExecutor, string) {
	t.Helper()
	scratch := t.TempDir()
	return NewFrameExecutor(FrameConfig{
		Downloader: m,
		Prober:     m,
		Extractor:  m,
		ScratchDir: scratch,
	}), scratch
}

func videoInput(ref string) Input {
	return Input{SourceID: "vid", SourceKind: graph.KindVideoSource, Output: VideoOutput(ref)}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-invocation scratch dir must be removed")
}

func TestFrameExecutor_NoInput(t *testing.T) {
	m := &fakeMedia{}
	f, _ := newFrameExecutor(t, m)
	_, err := f.Execute(context.Background(), Request{NodeID: "f1"}, graph.ExtractFrameData{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input connected to node f1")
}

func TestFrameExecutor_RejectsTimestampBeforeIO(t *testing.T) {
	m := &fakeMedia{duration: 10}
	f, _ := newFrameExecutor(t, m)
	_, err := f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput("https://example.com/clip.mp4")},
	}, graph.ExtractFrameData{Timestamp: "110%"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrValidation))
	assert.Empty(t, m.downloaded)
}

func TestFrameExecutor_RemoteVideo(t *testing.T) {
	m := &fakeMedia{duration: 10, frame: []byte("\xff\xd8\xffjpeg")}
	f, scratch := newFrameExecutor(t, m)

	out, err := f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput("https://example.com/clip.mp4")},
	}, graph.ExtractFrameData{Timestamp: "50%"})
	require.NoError(t, err)

	assert.Equal(t, graph.OutputImage, out.Kind)
	uri, err := fetch.ParseDataURI(out.Value)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", uri.MIME)
	assert.Equal(t, m.frame, uri.Data)
	assert.Equal(t, []string{"https://example.com/clip.mp4"}, m.downloaded)
	assert.Equal(t, []float64{5}, m.seeks)
	assertScratchEmpty(t, scratch)
}

func TestFrameExecutor_EmbeddedVideoClampsToEnd(t *testing.T) {
	m := &fakeMedia{duration: 10, frame: []byte("jpeg")}
	f, scratch := newFrameExecutor(t, m)

	_, err := f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput(fetch.EncodeDataURI("video/mp4", []byte("mp4!")))},
	}, graph.ExtractFrameData{Timestamp: "9.95"})
	require.NoError(t, err)

	assert.Empty(t, m.downloaded)
	require.Len(t, m.probed, 1)
	assert.Equal(t, ".mp4", filepath.Ext(m.probed[0]))
	assert.Equal(t, []float64{9.9}, m.seeks)
	assertScratchEmpty(t, scratch)
}

func TestFrameExecutor_CleansUpOnFailure(t *testing.T) {
	m := &fakeMedia{probeErr: flowerr.ExternalServicef("probe", "ffprobe exploded")}
	f, scratch := newFrameExecutor(t, m)

	_, err := f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput("https://example.com/clip.mp4")},
	}, graph.ExtractFrameData{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrExternalService))
	assertScratchEmpty(t, scratch)
}

func TestFrameExecutor_EmbeddedVideoTooLarge(t *testing.T) {
	m := &fakeMedia{duration: 10}
	f := NewFrameExecutor(FrameConfig{Downloader: m, Prober: m, Extractor: m, ScratchDir: t.TempDir(), MaxInlineBytes: 2})

	_, err := f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput(fetch.EncodeDataURI("video/mp4", []byte("mp4!")))},
	}, graph.ExtractFrameData{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrResourceLimit))
	assert.Empty(t, m.probed)

	// The cap applies before decoding, so an oversized payload that is not
	// even valid base64 still reports the limit.
	_, err = f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput("data:video/mp4;base64," + strings.Repeat("!", 64))},
	}, graph.ExtractFrameData{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrResourceLimit), "error = %v", err)
	assert.Empty(t, m.probed)
}

func TestFrameExecutor_FullPercentSeeksToEnd(t *testing.T) {
	m := &fakeMedia{duration: 10, frame: []byte("jpeg")}
	f, scratch := newFrameExecutor(t, m)

	_, err := f.Execute(context.Background(), Request{
		NodeID: "f1",
		Inputs: []Input{videoInput("https://example.com/clip.mp4")},
	}, graph.ExtractFrameData{Timestamp: "100%"})
	require.NoError(t, err)

	assert.Equal(t, []float64{10}, m.seeks)
	assertScratchEmpty(t, scratch)
}
