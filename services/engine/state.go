// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Persistent setup state for the engine orchestrator.

The orchestrator records what it has already accomplished (engine
installed, model downloaded, setup finished) so a restart can skip
completed stages and start serving immediately. The record is a small
JSON file with owner-only permissions.

Corrupt or tampered state must never break startup: any unreadable or
invalid file is replaced by safe defaults, which at worst means
re-running a setup stage that was already done.
*/
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// DefaultModel is the model selected when no valid choice is recorded.
const DefaultModel = "llama2"

// maxStateFileSize bounds how much of the state file is read. The record
// is a handful of fields; anything larger is not ours.
const maxStateFileSize = 64 * 1024

// State is the persisted setup record.
type State struct {
	// EngineInstalled is true once the engine binary has been verified
	// on PATH.
	EngineInstalled bool `json:"engine_installed"`

	// EnginePath is the resolved engine binary location, if known.
	EnginePath string `json:"engine_path,omitempty"`

	// ModelName is the active model for inference.
	ModelName string `json:"model_name"`

	// ModelDownloaded is true once ModelName has been verified present
	// in the engine.
	ModelDownloaded bool `json:"model_downloaded"`

	// SetupComplete is true once install, start, and model download have
	// all succeeded at least once.
	SetupComplete bool `json:"setup_complete"`
}

// defaultState returns the safe starting record.
func defaultState() State {
	return State{ModelName: DefaultModel}
}

// StateStore loads and saves the setup record.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Mutations go through Update,
// which serializes read-modify-write cycles.
type StateStore struct {
	mu     sync.Mutex
	path   string
	state  State
	logger *logging.Logger
}

// NewStateStore loads the record at path, falling back to defaults.
//
// # Description
//
// A missing file is the normal first-run case and is not an error. A
// present but unreadable, oversized, or invalid file is logged and
// replaced by defaults. A recorded model name that fails validation is
// reset to DefaultModel so a hand-edited file cannot smuggle an
// arbitrary string into engine commands.
//
// # Inputs
//
//   - path: state file location, created on first Save with 0600 perms
//   - logger: destination for load warnings
func NewStateStore(path string, logger *logging.Logger) *StateStore {
	s := &StateStore{path: path, state: defaultState(), logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read state file, using defaults", "path", path, "error", err)
		}
		return s
	}
	if len(data) > maxStateFileSize {
		logger.Warn("state file too large, using defaults", "path", path, "size", len(data))
		return s
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn("invalid state file, using defaults", "path", path, "error", err)
		return s
	}
	if !validation.ValidModelName(loaded.ModelName) {
		logger.Warn("invalid model name in state file, resetting",
			"model", loaded.ModelName, "default", DefaultModel)
		loaded.ModelName = DefaultModel
		loaded.ModelDownloaded = false
	}
	s.state = loaded
	return s
}

// Get returns a copy of the current record.
func (s *StateStore) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update applies fn to the record under the lock and persists the result.
func (s *StateStore) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	return s.saveLocked()
}

// saveLocked writes the record with owner-only permissions. Caller holds mu.
func (s *StateStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	// Write to a sibling temp file and rename so a crash mid-write
	// cannot leave a truncated record.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
