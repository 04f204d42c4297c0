// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/services/engine"
	"github.com/kodiakml/docbrief/services/pipeline"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Writer: io.Discard})
}

// createTestRouter creates a Gin router with the specified handler for testing.
func createTestRouter(method, path string, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	switch method {
	case "POST":
		router.POST(path, handler)
	case "GET":
		router.GET(path, handler)
	}
	return router
}

// performRequest executes a JSON HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// performRawRequest sends an arbitrary body, for malformed-JSON cases.
func performRawRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// performMultipart uploads content as a multipart form file.
func performMultipart(router *gin.Engine, path, field, filename string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, _ := mw.CreateFormFile(field, filename)
		fw.Write(content)
	}
	mw.Close()

	req, _ := http.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// ============================================================================
// Engine Fixture
// ============================================================================

// newTestOrchestrator wires an orchestrator over mocked process and API
// layers. The named models report as already pulled.
func newTestOrchestrator(t *testing.T, installed ...string) *engine.Orchestrator {
	t.Helper()
	logger := testLogger()

	models := make(map[string]bool, len(installed))
	for _, m := range installed {
		models[m] = true
	}

	api := &engine.MockEngineAPI{
		AliveFunc: func(context.Context) bool { return true },
		HasModelFunc: func(_ context.Context, name string) (bool, error) {
			return models[name], nil
		},
		ListModelsFunc: func(context.Context) ([]engine.ModelInfo, error) {
			out := make([]engine.ModelInfo, 0, len(models))
			for m := range models {
				out = append(out, engine.ModelInfo{Name: m})
			}
			return out, nil
		},
	}

	pm := &engine.MockProcessManager{
		RunFunc: func(_ context.Context, name string, _ ...string) ([]byte, error) {
			switch name {
			case "ollama":
				return []byte("ollama version 0.5.0"), nil
			case "which":
				return []byte("/usr/local/bin/ollama\n"), nil
			default:
				return nil, fmt.Errorf("exit status 1")
			}
		},
		StartDaemonFunc: func(string, []string, ...string) (engine.ProcessHandle, error) {
			return engine.NewMockProcessHandle(100), nil
		},
	}

	store := engine.NewStateStore(filepath.Join(t.TempDir(), "state.json"), logger)
	tracker := engine.NewTracker()
	installer := engine.NewInstaller(pm, logger)
	supervisor := engine.NewSupervisor(pm, api, logger)
	acquirer := engine.NewAcquirer(pm, api, tracker, logger)
	return engine.NewOrchestrator(store, installer, supervisor, acquirer, api, tracker, logger)
}

// ============================================================================
// Pipeline Fixture
// ============================================================================

type fixedModel string

func (m fixedModel) ActiveModel() string { return string(m) }

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Generate(_ context.Context, _, _ string) (string, error) {
	return s.response, s.err
}

// newTestProcessor builds a processor over temp dirs with the given
// extraction and inference behavior. The file store is returned so
// download tests can serve the artifacts it produced.
func newTestProcessor(t *testing.T, extractor pipeline.TextExtractor, llm pipeline.Inferencer) (*pipeline.Processor, *pipeline.FileStore) {
	t.Helper()
	logger := testLogger()
	dir := t.TempDir()

	store, err := pipeline.NewFileStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs"), logger)
	require.NoError(t, err)
	prompts := pipeline.NewPromptStore(filepath.Join(dir, "prompt.txt"), logger)
	proc := pipeline.NewProcessor(store, prompts, extractor, llm, fixedModel("llama2"), logger)
	return proc, store
}
