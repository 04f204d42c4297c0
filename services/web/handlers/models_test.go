// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodiakml/docbrief/services/web/datatypes"
)

func TestListModels_ReturnsInstalledModels(t *testing.T) {
	orch := newTestOrchestrator(t, "llama2", "mistral")
	router := createTestRouter("GET", "/list_models", ListModels(orch))

	w := performRequest(router, "GET", "/list_models", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON(t, w)
	models, ok := resp["models"].([]interface{})
	require.True(t, ok, "models should be a JSON array")
	assert.ElementsMatch(t, []interface{}{"llama2", "mistral"}, models)
}

func TestListModels_EmptyWhenNoneInstalled(t *testing.T) {
	orch := newTestOrchestrator(t)
	router := createTestRouter("GET", "/list_models", ListModels(orch))

	w := performRequest(router, "GET", "/list_models", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON(t, w)
	assert.Empty(t, resp["models"])
}

func TestSetModel_Success(t *testing.T) {
	orch := newTestOrchestrator(t, "mistral")
	router := createTestRouter("POST", "/set_model", SetModel(orch))

	w := performRequest(router, "POST", "/set_model", datatypes.SetModelRequest{ModelName: "mistral"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "mistral", orch.ActiveModel())
}

func TestSetModel_NotDownloaded(t *testing.T) {
	orch := newTestOrchestrator(t)
	router := createTestRouter("POST", "/set_model", SetModel(orch))

	w := performRequest(router, "POST", "/set_model", datatypes.SetModelRequest{ModelName: "mistral"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeJSON(t, w)
	assert.Contains(t, resp["error"], "not downloaded")
}

func TestSetModel_InvalidName(t *testing.T) {
	orch := newTestOrchestrator(t)
	router := createTestRouter("POST", "/set_model", SetModel(orch))

	w := performRequest(router, "POST", "/set_model", datatypes.SetModelRequest{ModelName: "gpt4"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetModel_MissingField(t *testing.T) {
	orch := newTestOrchestrator(t)
	router := createTestRouter("POST", "/set_model", SetModel(orch))

	w := performRawRequest(router, "POST", "/set_model", "{}")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeJSON(t, w)
	assert.Equal(t, "Invalid request", resp["error"])
}
