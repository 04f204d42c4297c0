// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
HTTP client for the local inference engine's API.

# Problem Statement

The supervisor, model acquirer, and request pipeline all talk to the
engine's HTTP API, each with different timeout needs: a liveness probe
must answer in seconds, while a full document inference may legitimately
run for minutes. Scattering raw http calls across those components would
duplicate URL handling, response parsing, and error classification.

# Solution

A single Client wraps the engine API behind the EngineAPI interface:

	┌──────────────────────────────────────────────────────────┐
	│  Supervisor ──► Alive()        GET  /api/tags   (2s)     │
	│  Orchestrator ► ListModels()   GET  /api/tags   (5s)     │
	│  Acquirer ────► HasModel()     GET  /api/tags   (5s)     │
	│  Pipeline ────► Generate()     POST /api/generate (300s) │
	└──────────────────────────────────────────────────────────┘

Each method creates its own per-call timeout context, so a shared Client
can serve probes and long inferences at the same time.
*/
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// ClientErrorType categorizes engine API failures for programmatic handling.
type ClientErrorType int

const (
	// ClientErrorConnectionFailed indicates the engine is not reachable.
	ClientErrorConnectionFailed ClientErrorType = iota

	// ClientErrorTimeout indicates the call exceeded its deadline.
	ClientErrorTimeout

	// ClientErrorBadStatus indicates the engine returned a non-2xx status.
	ClientErrorBadStatus

	// ClientErrorInvalidResponse indicates the engine returned unparseable data.
	ClientErrorInvalidResponse
)

// String returns the error type as a string for logging.
func (t ClientErrorType) String() string {
	switch t {
	case ClientErrorConnectionFailed:
		return "CONNECTION_FAILED"
	case ClientErrorTimeout:
		return "TIMEOUT"
	case ClientErrorBadStatus:
		return "BAD_STATUS"
	case ClientErrorInvalidResponse:
		return "INVALID_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// ClientError provides structured error information for engine API calls.
type ClientError struct {
	// Type categorizes the error.
	Type ClientErrorType

	// Op is the API operation that failed (e.g., "list_models").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// classifyTransportError maps a transport failure to a ClientError.
func classifyTransportError(op string, err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ClientErrorTimeout, Op: op, Message: "request timed out", Err: err}
	}
	return &ClientError{Type: ClientErrorConnectionFailed, Op: op, Message: "engine not reachable", Err: err}
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// ModelInfo describes a model installed in the engine.
type ModelInfo struct {
	// Name is the model identifier (e.g., "llama2:latest").
	Name string `json:"name"`

	// Size is the model file size in bytes.
	Size int64 `json:"size"`

	// Digest is the model's content hash.
	Digest string `json:"digest"`

	// ModifiedAt is when the model was last modified.
	ModifiedAt time.Time `json:"modified_at"`
}

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// EngineAPI defines the contract for talking to the inference engine.
// This interface enables testing the supervisor, acquirer, orchestrator,
// and pipeline with mocks instead of a live engine.
//
// Implementations must be safe for concurrent use.
type EngineAPI interface {
	// Alive reports whether the engine API is responding. Never returns
	// an error: an unreachable engine is simply not alive.
	Alive(ctx context.Context) bool

	// ListModels returns all models currently installed in the engine.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// HasModel checks whether a model is installed. Matches loosely so
	// "llama2" matches an installed "llama2:latest".
	HasModel(ctx context.Context, modelName string) (bool, error)

	// Generate runs a non-streaming inference and returns the raw
	// response text.
	Generate(ctx context.Context, model, prompt string) (string, error)

	// BaseURL returns the engine server URL.
	BaseURL() string
}

// -----------------------------------------------------------------------------
// Struct Definition
// -----------------------------------------------------------------------------

// Client implements EngineAPI over the engine's HTTP interface.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	generateTimeout time.Duration
}

// NewClient creates an engine API client.
//
// # Description
//
// The returned client carries no overall timeout on its http.Client;
// every method applies its own per-call deadline, which lets one client
// serve both 2-second probes and 5-minute inference calls.
//
// # Inputs
//
//   - baseURL: engine server URL (e.g., "http://127.0.0.1:11434")
//
// # Examples
//
//	client := NewClient("http://127.0.0.1:11434")
//	if client.Alive(ctx) {
//	    models, _ := client.ListModels(ctx)
//	    ...
//	}
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		httpClient:      &http.Client{},
		generateTimeout: GenerateTimeout,
	}
}

// NewClientWithGenerateTimeout creates an engine API client with a
// custom inference deadline.
//
// A zero or negative timeout keeps the built-in GenerateTimeout; a
// positive one is clamped up to MinOperationTimeout so a hand-edited
// config cannot make inference calls fail instantly.
func NewClientWithGenerateTimeout(baseURL string, generateTimeout time.Duration) *Client {
	c := NewClient(baseURL)
	if generateTimeout > 0 {
		c.generateTimeout = EnforceMinTimeout(generateTimeout, MinOperationTimeout)
	}
	return c
}

// BaseURL returns the engine server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// -----------------------------------------------------------------------------
// Liveness
// -----------------------------------------------------------------------------

// Alive reports whether the engine API is responding.
func (c *Client) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, AliveProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// -----------------------------------------------------------------------------
// Model Listing
// -----------------------------------------------------------------------------

// tagsResponse is the response from /api/tags.
type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels returns all models currently installed in the engine.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	const op = "list_models"

	ctx, cancel := context.WithTimeout(ctx, ListModelsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ClientErrorInvalidResponse, Op: op, Message: "building request", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ClientErrorBadStatus,
			Op:      op,
			Message: fmt.Sprintf("engine returned status %d", resp.StatusCode),
		}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ClientError{Type: ClientErrorInvalidResponse, Op: op, Message: "decoding model list", Err: err}
	}
	return tags.Models, nil
}

// HasModel checks whether a model is installed.
//
// Matching is a substring check against installed names: a requested
// "llama2" matches an installed "llama2:latest" or "llama2:13b". This
// mirrors how model tags are resolved at pull time.
func (c *Client) HasModel(ctx context.Context, modelName string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if strings.Contains(m.Name, modelName) {
			return true, nil
		}
	}
	return false, nil
}

// -----------------------------------------------------------------------------
// Inference
// -----------------------------------------------------------------------------

// generateRequest is the payload for /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the non-streaming response from /api/generate.
type generateResponse struct {
	Response string `json:"response"`
}

// maxGenerateBody bounds how much of the inference response body is read.
// A misbehaving engine must not be able to exhaust memory.
const maxGenerateBody = 8 << 20

// Generate runs a non-streaming inference.
//
// # Inputs
//
//   - model: model name, already validated by the caller
//   - prompt: full prompt text including any document context
//
// # Outputs
//
//   - string: raw response text; the caller is responsible for
//     sanitizing and bounding it before returning it to users
//   - error: *ClientError classifying connection, timeout, status, and
//     decode failures
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	const op = "generate"

	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", &ClientError{Type: ClientErrorInvalidResponse, Op: op, Message: "encoding request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &ClientError{Type: ClientErrorInvalidResponse, Op: op, Message: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ClientError{
			Type:    ClientErrorBadStatus,
			Op:      op,
			Message: fmt.Sprintf("engine returned status %d", resp.StatusCode),
		}
	}

	var gen generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGenerateBody)).Decode(&gen); err != nil {
		return "", &ClientError{Type: ClientErrorInvalidResponse, Op: op, Message: "decoding response", Err: err}
	}
	return gen.Response, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockEngineAPI is a test double for EngineAPI using function fields.
type MockEngineAPI struct {
	AliveFunc      func(ctx context.Context) bool
	ListModelsFunc func(ctx context.Context) ([]ModelInfo, error)
	HasModelFunc   func(ctx context.Context, modelName string) (bool, error)
	GenerateFunc   func(ctx context.Context, model, prompt string) (string, error)
	BaseURLValue   string
}

func (m *MockEngineAPI) Alive(ctx context.Context) bool {
	if m.AliveFunc == nil {
		return false
	}
	return m.AliveFunc(ctx)
}

func (m *MockEngineAPI) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if m.ListModelsFunc == nil {
		return nil, nil
	}
	return m.ListModelsFunc(ctx)
}

func (m *MockEngineAPI) HasModel(ctx context.Context, modelName string) (bool, error) {
	if m.HasModelFunc == nil {
		return false, nil
	}
	return m.HasModelFunc(ctx, modelName)
}

func (m *MockEngineAPI) Generate(ctx context.Context, model, prompt string) (string, error) {
	if m.GenerateFunc == nil {
		return "", fmt.Errorf("MockEngineAPI.GenerateFunc not set")
	}
	return m.GenerateFunc(ctx, model, prompt)
}

func (m *MockEngineAPI) BaseURL() string {
	return m.BaseURLValue
}

// Compile-time interface compliance checks.
var (
	_ EngineAPI = (*Client)(nil)
	_ EngineAPI = (*MockEngineAPI)(nil)
)
