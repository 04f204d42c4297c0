// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPromptStore(t *testing.T) *PromptStore {
	t.Helper()
	return NewPromptStore(filepath.Join(t.TempDir(), "prompt.txt"), testLogger(t))
}

func TestPromptStore_DefaultWhenMissing(t *testing.T) {
	ps := newTestPromptStore(t)
	assert.Equal(t, DefaultPrompt, ps.Get())
}

func TestPromptStore_RoundTrip(t *testing.T) {
	ps := newTestPromptStore(t)

	require.NoError(t, ps.Save("List every deadline mentioned in the document."))
	assert.Equal(t, "List every deadline mentioned in the document.", ps.Get())
}

func TestPromptStore_FilePermissions(t *testing.T) {
	ps := newTestPromptStore(t)
	require.NoError(t, ps.Save("custom prompt"))

	info, err := os.Stat(ps.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPromptStore_BoundsLength(t *testing.T) {
	ps := newTestPromptStore(t)

	require.NoError(t, ps.Save(strings.Repeat("a", MaxPromptChars+500)))
	assert.LessOrEqual(t, len(ps.Get()), MaxPromptChars)
}

func TestPromptStore_SanitizesMarkup(t *testing.T) {
	ps := newTestPromptStore(t)

	require.NoError(t, ps.Save("Summarize <b>everything</b>"))
	got := ps.Get()
	assert.NotContains(t, got, "<b>")
	assert.Contains(t, got, "&lt;b&gt;")
}

func TestPromptStore_BlankFallsBack(t *testing.T) {
	ps := newTestPromptStore(t)

	require.NoError(t, ps.Save("   \n\t  "))
	assert.Equal(t, DefaultPrompt, ps.Get())
}

func TestPromptStore_OversizedFileRead(t *testing.T) {
	ps := newTestPromptStore(t)

	// Replace the file out of band with something past the read cap.
	huge := strings.Repeat("x", maxPromptFileRead+1000)
	require.NoError(t, os.WriteFile(ps.path, []byte(huge), 0o600))

	assert.LessOrEqual(t, len(ps.Get()), MaxPromptChars)
}
