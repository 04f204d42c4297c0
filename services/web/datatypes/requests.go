// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response shapes of the
// DocBrief HTTP API.
package datatypes

// SetupRequest triggers engine setup for a model.
type SetupRequest struct {
	// ModelName selects the model to set up. Defaults to the service's
	// default model when empty.
	ModelName string `json:"model_name"`
}

// SetModelRequest switches the active model.
type SetModelRequest struct {
	ModelName string `json:"model_name" binding:"required"`
}

// SavePromptRequest replaces the stored analysis instruction.
type SavePromptRequest struct {
	Prompt *string `json:"prompt" binding:"required"`
}

// PromptResponse carries the stored analysis instruction.
type PromptResponse struct {
	Prompt string `json:"prompt"`
}

// ModelsResponse lists models available for selection.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// ProcessResponse reports a completed document analysis.
type ProcessResponse struct {
	Status       string `json:"status"`
	OutputFile   string `json:"output_file"`
	OriginalName string `json:"original_name"`
}

// AckResponse acknowledges an accepted asynchronous operation.
type AckResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries a client-safe failure description.
type ErrorResponse struct {
	Error string `json:"error"`
}
