// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kodiakml/docbrief/pkg/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.Config{Level: logging.LevelError, Writer: io.Discard})
}

func TestStateStore_FirstRunDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path, testLogger(t))

	state := store.Get()
	if state.ModelName != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, state.ModelName)
	}
	if state.SetupComplete || state.ModelDownloaded || state.EngineInstalled {
		t.Error("expected all flags false on first run")
	}
}

func TestStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path, testLogger(t))

	err := store.Update(func(s *State) {
		s.EngineInstalled = true
		s.ModelName = "mistral"
		s.ModelDownloaded = true
		s.SetupComplete = true
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Reload from disk.
	reloaded := NewStateStore(path, testLogger(t)).Get()
	if !reloaded.SetupComplete {
		t.Error("expected setup_complete to persist")
	}
	if reloaded.ModelName != "mistral" {
		t.Errorf("expected mistral, got %s", reloaded.ModelName)
	}
}

func TestStateStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path, testLogger(t))

	if err := store.Update(func(s *State) { s.EngineInstalled = true }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestStateStore_CorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	state := NewStateStore(path, testLogger(t)).Get()
	if state.ModelName != DefaultModel {
		t.Errorf("expected defaults after corrupt load, got model %s", state.ModelName)
	}
	if state.SetupComplete {
		t.Error("expected setup_complete false after corrupt load")
	}
}

func TestStateStore_OversizedFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	big := `{"model_name":"` + strings.Repeat("a", maxStateFileSize) + `"}`
	if err := os.WriteFile(path, []byte(big), 0o600); err != nil {
		t.Fatal(err)
	}

	state := NewStateStore(path, testLogger(t)).Get()
	if state.ModelName != DefaultModel {
		t.Errorf("expected defaults for oversized file, got %s", state.ModelName)
	}
}

func TestStateStore_InvalidModelNameReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	record := `{"model_name":"evil; rm -rf /","model_downloaded":true,"setup_complete":true}`
	if err := os.WriteFile(path, []byte(record), 0o600); err != nil {
		t.Fatal(err)
	}

	state := NewStateStore(path, testLogger(t)).Get()
	if state.ModelName != DefaultModel {
		t.Errorf("expected model reset to %s, got %s", DefaultModel, state.ModelName)
	}
	if state.ModelDownloaded {
		t.Error("expected model_downloaded cleared with the invalid name")
	}
	// Other fields survive.
	if !state.SetupComplete {
		t.Error("expected setup_complete preserved")
	}
}
