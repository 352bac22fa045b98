// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/workflow/flowerr"
)

func TestEnvSource_Environment(t *testing.T) {
	t.Setenv("FLOW_TEST_API_KEY", "  sk-env  ")
	src := NewEnvSource("", nil)

	v, ok := src.Lookup("FLOW_TEST_API_KEY")
	require.True(t, ok)
	assert.Equal(t, "sk-env", v)
}

func TestEnvSource_SecretsFileFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flow_test_file_key"), []byte("sk-file\n"), 0o600))
	src := NewEnvSource(dir, nil)

	v, ok := src.Lookup("FLOW_TEST_FILE_KEY")
	require.True(t, ok)
	assert.Equal(t, "sk-file", v)
}

func TestEnvSource_ResolvedOnEveryLookup(t *testing.T) {
	src := NewEnvSource("", nil)

	_, ok := src.Lookup("FLOW_TEST_LATE_KEY")
	assert.False(t, ok)

	t.Setenv("FLOW_TEST_LATE_KEY", "sk-late")
	v, ok := src.Lookup("FLOW_TEST_LATE_KEY")
	require.True(t, ok)
	assert.Equal(t, "sk-late", v)
}

func TestRequire(t *testing.T) {
	v, err := Require(MapSource{"K": "v"}, "K")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = Require(MapSource{"K": ""}, "K")
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration))
	assert.True(t, errors.Is(err, ErrMissing))
	assert.Contains(t, err.Error(), "K")

	_, err = Require(nil, "K")
	assert.True(t, errors.Is(err, flowerr.ErrConfiguration))
}
