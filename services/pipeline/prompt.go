// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// DefaultPrompt is used until a user saves their own instruction.
const DefaultPrompt = "Analyze this PDF document and provide a summary."

// MaxPromptChars bounds the stored analysis instruction.
const MaxPromptChars = 10_000

// maxPromptFileRead bounds how much of the prompt file is read, in case
// the file was replaced by something huge out of band.
const maxPromptFileRead = 50_000

// PromptStore persists the analysis instruction between restarts.
//
// A missing, unreadable, or empty prompt file falls back to
// DefaultPrompt; the prompt is never allowed to be blank.
type PromptStore struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
}

// NewPromptStore creates a store persisting at path.
func NewPromptStore(path string, logger *logging.Logger) *PromptStore {
	return &PromptStore{path: path, logger: logger}
}

// Get returns the saved prompt, bounded and sanitized.
func (ps *PromptStore) Get() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	f, err := os.Open(ps.path)
	if err != nil {
		if !os.IsNotExist(err) {
			ps.logger.Error("failed to read prompt file", "path", ps.path, "error", err)
		}
		return DefaultPrompt
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxPromptFileRead))
	if err != nil {
		ps.logger.Error("failed to read prompt file", "path", ps.path, "error", err)
		return DefaultPrompt
	}

	prompt := validation.SanitizeText(string(raw), MaxPromptChars)
	if strings.TrimSpace(prompt) == "" {
		return DefaultPrompt
	}
	return prompt
}

// Save persists a new prompt with owner-only permissions.
func (ps *PromptStore) Save(text string) error {
	text = validation.SanitizeText(text, MaxPromptChars)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := os.WriteFile(ps.path, []byte(text), 0o600); err != nil {
		ps.logger.Error("failed to save prompt", "path", ps.path, "error", err)
		return fmt.Errorf("failed to save prompt: %w", err)
	}
	ps.logger.Info("prompt saved", "chars", len(text))
	return nil
}
