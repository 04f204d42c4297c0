// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiakml/docbrief/services/engine"
	"github.com/kodiakml/docbrief/services/web/datatypes"
)

// ListModels returns the installed models that pass the allow-list.
//
// An unreachable engine yields an empty list, not an error; the UI
// treats "no models" and "engine down" the same way.
func ListModels(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.ModelsResponse{
			Models: orch.ListModels(c.Request.Context()),
		})
	}
}

// SetModel switches the active model for subsequent documents.
func SetModel(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SetModelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request"})
			return
		}

		if err := orch.SetModel(c.Request.Context(), req.ModelName); err != nil {
			slog.Warn("model switch rejected", "model", req.ModelName, "error", err)
			msg := "Invalid model name"
			var se *engine.SetupError
			if errors.As(err, &se) && se.Message != "" {
				msg = se.Message
			}
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msg})
			return
		}

		slog.Info("model changed", "model", req.ModelName)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
