// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kodiakml/docbrief/services/pipeline"
	"github.com/kodiakml/docbrief/services/web/datatypes"
	"github.com/kodiakml/docbrief/services/web/observability"
)

// ProcessDocument accepts a multipart PDF upload, runs it through the
// analysis pipeline, and returns the artifact ID for a later download.
//
// # Inputs
//   - multipart form field "file": the PDF to analyze.
//
// # Outputs
//   - 200 with the artifact name on success.
//   - 4xx/5xx with a client-safe error string otherwise; the status
//     code reflects which pipeline stage failed.
func ProcessDocument(proc *pipeline.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "No file provided"})
			return
		}
		if header.Filename == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "No file selected"})
			return
		}

		file, err := header.Open()
		if err != nil {
			slog.Error("failed to open uploaded file", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid upload"})
			return
		}
		defer file.Close()

		start := time.Now()
		result, err := proc.Process(c.Request.Context(), header.Filename, file)
		observability.ObserveDuration("total", time.Since(start).Seconds())
		if err != nil {
			status := statusForPipelineError(err)
			slog.Error("document processing failed",
				"filename", header.Filename,
				"status", status,
				"error", err)
			label := "error"
			if kind, ok := pipeline.KindOf(err); ok {
				label = kind.String()
			}
			observability.ObserveDocument(label)
			c.JSON(status, datatypes.ErrorResponse{Error: clientMessage(err)})
			return
		}

		slog.Info("document processed",
			"filename", header.Filename,
			"artifact", result.ArtifactID,
			"duration", time.Since(start))
		observability.ObserveDocument("success")
		c.JSON(http.StatusOK, datatypes.ProcessResponse{
			Status:       "success",
			OutputFile:   result.ArtifactID,
			OriginalName: result.OriginalName,
		})
	}
}

// Download streams a generated artifact as an attachment. Artifacts are
// single-use: the file is deleted as soon as it has been read, so a
// second request for the same ID returns 404.
func Download(store *pipeline.FileStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		artifact := c.Param("artifact")

		data, err := store.Retrieve(artifact)
		if err != nil {
			status := statusForPipelineError(err)
			slog.Warn("artifact download rejected",
				"artifact", artifact,
				"status", status,
				"error", err)
			c.JSON(status, datatypes.ErrorResponse{Error: clientMessage(err)})
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact))
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	}
}
