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
	"github.com/kodiakml/docbrief/services/web/observability"
)

// AutoSetup triggers engine setup in the background.
//
// Returns 202 with {"status":"started"} when the setup was accepted;
// progress is then observable via the status endpoint. A setup already
// in flight yields 409. An empty model name falls back to defaultModel.
func AutoSetup(orch *engine.Orchestrator, defaultModel string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SetupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request"})
			return
		}
		if req.ModelName == "" {
			req.ModelName = defaultModel
		}

		slog.Info("auto-setup requested", "model", req.ModelName)

		if err := orch.StartAutoSetup(req.ModelName); err != nil {
			if errors.Is(err, engine.ErrSetupInProgress) {
				observability.ObserveSetup("rejected")
				c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: "Setup already in progress"})
				return
			}
			observability.ObserveSetup("error")
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid model name"})
			return
		}

		observability.ObserveSetup("started")
		c.JSON(http.StatusAccepted, datatypes.AckResponse{Status: "started"})
	}
}
