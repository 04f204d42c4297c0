// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiakml/docbrief/services/web/observability"
)

// RequestMetrics records every matched API request's endpoint and
// outcome after the handler chain finishes.
//
// The health and metrics endpoints are excluded so scrapers and probes
// do not drown out real traffic in the counters.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" || endpoint == "/health" || endpoint == "/metrics" {
			return
		}
		status := "success"
		switch {
		case c.Writer.Status() == http.StatusTooManyRequests:
			status = "rejected"
		case c.Writer.Status() >= http.StatusBadRequest:
			status = "error"
		}
		observability.ObserveRequest(endpoint, status)
	}
}
