// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Document processing pipeline.

# Problem Statement

A document request crosses several trust boundaries in one pass: an
untrusted upload becomes stored bytes, stored bytes become extracted
text, the text joins a user-editable prompt, and the joined prompt goes
to the model whose raw output returns toward the client. Every crossing
needs its own bound, and the upload must never outlive the request no
matter where the pass fails.

# Solution

Processor runs the gates in order, each bound enforced before the next
stage sees the data:

	upload ──► store (50MB) ──► extract (100 pages / 500K chars)
	                                   │
	              prompt (10K) ────────┤
	                                   ▼
	                     inference (100K context, 300s)
	                                   │
	                                   ▼
	              artifact (1M chars, one-shot download)

The stored upload is deleted on every path out of Process, success or
failure.
*/
package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// Prompt assembly bounds.
const (
	// MaxContextChars bounds the extracted text joined into the prompt.
	MaxContextChars = 100_000

	// MaxResponseChars bounds the model output stored as an artifact.
	MaxResponseChars = 1_000_000
)

// Inferencer runs a model over an assembled prompt.
//
// Satisfied by the engine API client; narrowed here so the pipeline can
// be tested without an engine.
type Inferencer interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// ModelSelector reports the active model for inference.
type ModelSelector interface {
	ActiveModel() string
}

// Result is a completed document analysis.
type Result struct {
	// ArtifactID is the one-shot download handle.
	ArtifactID string `json:"output_file"`

	// OriginalName is the suggested client-side file name.
	OriginalName string `json:"original_name"`
}

// Processor runs documents through extraction and inference.
type Processor struct {
	store     *FileStore
	prompts   *PromptStore
	extractor TextExtractor
	llm       Inferencer
	models    ModelSelector
	logger    *logging.Logger
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(store *FileStore, prompts *PromptStore, extractor TextExtractor,
	llm Inferencer, models ModelSelector, logger *logging.Logger) *Processor {
	return &Processor{
		store:     store,
		prompts:   prompts,
		extractor: extractor,
		llm:       llm,
		models:    models,
		logger:    logger,
	}
}

// Process runs one document through the full pipeline.
//
// # Description
//
// Stores the upload, extracts its text, joins it with the saved prompt,
// runs inference, and stores the bounded response as a one-shot
// artifact. The stored upload is removed before returning on every
// path.
//
// # Inputs
//
//   - filename: client-supplied name, validated before any bytes land
//   - body: document bytes, read at most once up to the size ceiling
//
// # Outputs
//
//   - Result: artifact ID and suggested download name
//   - error: *PipelineError carrying the failing stage's kind
func (p *Processor) Process(ctx context.Context, filename string, body io.Reader) (Result, error) {
	uploadPath, err := p.store.SaveUpload(filename, body)
	if err != nil {
		return Result{}, err
	}
	defer p.store.Remove(uploadPath)

	p.logger.Info("processing document", "file", filepath.Base(filename))

	text, err := p.extractor.Extract(ctx, uploadPath)
	if err != nil {
		return Result{}, err
	}

	response, err := p.infer(ctx, text)
	if err != nil {
		return Result{}, err
	}

	artifactID, err := p.store.SaveArtifact(filename, response)
	if err != nil {
		return Result{}, err
	}

	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	p.logger.Info("document processed", "artifact", artifactID)
	return Result{
		ArtifactID:   artifactID,
		OriginalName: stem + "_output.txt",
	}, nil
}

// infer assembles the bounded prompt and runs the model.
func (p *Processor) infer(ctx context.Context, text string) (string, error) {
	prompt := validation.SanitizeText(p.prompts.Get(), MaxPromptChars)
	docContext := validation.SanitizeText(text, MaxContextChars)
	full := prompt + "\n\nDocument content:\n" + docContext

	model := p.models.ActiveModel()
	p.logger.Info("querying model", "model", model, "prompt_chars", len(full))

	response, err := p.llm.Generate(ctx, model, full)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", newPipelineError(KindInferenceTimeout, "model request timeout", err)
		}
		return "", newPipelineError(KindInference, "model request failed", err)
	}

	p.logger.Info("model responded", "chars", len(response))
	return validation.SanitizeText(response, MaxResponseChars), nil
}
