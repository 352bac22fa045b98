// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainJSON = `{
	"nodes": [
		{"id": "A", "type": "text", "data": {"text": "a cat"}},
		{"id": "B", "type": "text", "data": {"text": "a dog"}},
		{"id": "C", "type": "crop", "data": {"width": 50}}
	],
	"edges": [{"source": "A", "target": "C"}]
}`

// syncBuffer is a bytes.Buffer safe for a concurrent writer and reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_Valid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", chainJSON)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "OK: 3 nodes in 2 waves\n", out)
}

func TestValidate_CycleJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", `{
		"nodes": [{"id": "A", "type": "text"}, {"id": "B", "type": "text"}],
		"edges": [{"source": "A", "target": "B"}, {"source": "B", "target": "A"}]
	}`)

	out, err := execute(t, "validate", "--json", path)
	assert.ErrorIs(t, err, errSilent)

	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "cycle")
}

func TestValidate_Stdin(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(chainJSON))
	cmd.SetArgs([]string{"validate", "-"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "3 nodes")
}

func TestWaves(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", chainJSON)

	out, err := execute(t, "waves", path)
	require.NoError(t, err)
	assert.Equal(t, "0\tA,B\n1\tC\n", out)
}

func TestWaves_SingleNodeScope(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", chainJSON)

	out, err := execute(t, "waves", "--json", "--node", "C", path)
	require.NoError(t, err)

	var waves [][]string
	require.NoError(t, json.Unmarshal([]byte(out), &waves))
	assert.Equal(t, [][]string{{"A"}, {"C"}}, waves)
}

func TestWaves_ScopeFlagsExclusive(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", chainJSON)

	_, err := execute(t, "waves", "--node", "C", "--partial", "A", path)
	assert.Error(t, err)
}

func TestRun_TextNodes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", chainJSON)

	out, err := execute(t, "run", "--partial", "A,B", path)
	require.NoError(t, err)
	assert.Contains(t, out, "success\tA\ttext\ta cat\n")
	assert.Contains(t, out, "success\tB\ttext\ta dog\n")
	assert.NotContains(t, out, "\tC\t")
	assert.Contains(t, out, "OK: run completed")
}

func TestRun_FailedNodeExitsNonZero(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", `{
		"nodes": [
			{"id": "A", "type": "text", "data": {"text": "  "}},
			{"id": "B", "type": "inference"}
		],
		"edges": [{"source": "A", "target": "B"}]
	}`)

	out, err := execute(t, "run", path)
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, out, "failed\tA\ttext\t")
	assert.Contains(t, out, "skipped\tB\tinference")
	assert.Contains(t, out, "ERROR: run failed")
}

func TestRun_InvalidWorkflow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wf.json", `{"nodes":[{"id":"A","type":"upscale"}],"edges":[]}`)

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errSilent)
}

func TestWatch_RechecksOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wf.json", chainJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"watch", "--debounce", "20ms", path})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "wf.json: 3 nodes in 2 waves")
	}, 5*time.Second, 10*time.Millisecond)

	writeFile(t, dir, "wf.json", `{"nodes":[{"id":"X","type":"text","data":{"text":"x"}}],"edges":[]}`)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "wf.json: 1 nodes in 1 waves")
	}, 5*time.Second, 10*time.Millisecond)

	writeFile(t, dir, "wf.json", `{"nodes":[`)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "ERROR:")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
