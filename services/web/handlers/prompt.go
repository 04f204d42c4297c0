// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiakml/docbrief/services/pipeline"
	"github.com/kodiakml/docbrief/services/web/datatypes"
)

// GetPrompt returns the analysis prompt applied to every document.
func GetPrompt(prompts *pipeline.PromptStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.PromptResponse{Prompt: prompts.Get()})
	}
}

// SavePrompt replaces the stored analysis prompt. An empty prompt is
// allowed and falls back to the default on the next read.
func SavePrompt(prompts *pipeline.PromptStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SavePromptRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request"})
			return
		}

		if err := prompts.Save(*req.Prompt); err != nil {
			slog.Error("failed to persist prompt", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Failed to save prompt"})
			return
		}

		slog.Info("prompt updated", "length", len(*req.Prompt))
		c.JSON(http.StatusOK, datatypes.AckResponse{Status: "success"})
	}
}
