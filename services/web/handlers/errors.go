// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the DocBrief HTTP API endpoints.
package handlers

import (
	"errors"
	"net/http"

	"github.com/kodiakml/docbrief/services/pipeline"
)

// statusForPipelineError maps a pipeline failure to an HTTP status.
//
// The mapping keeps client mistakes in the 4xx range and engine or
// storage trouble in 5xx, so callers and dashboards can tell them apart.
func statusForPipelineError(err error) int {
	kind, ok := pipeline.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case pipeline.KindValidation:
		return http.StatusBadRequest
	case pipeline.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case pipeline.KindExtractionFailed, pipeline.KindExtractionEmpty:
		return http.StatusUnprocessableEntity
	case pipeline.KindInference:
		return http.StatusBadGateway
	case pipeline.KindInferenceTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage returns the client-safe part of a pipeline failure.
// Underlying causes stay in the logs.
func clientMessage(err error) string {
	var pe *pipeline.PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "internal error"
}
