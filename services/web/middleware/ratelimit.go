// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides Gin middleware for the DocBrief API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiakml/docbrief/pkg/ratelimit"
	"github.com/kodiakml/docbrief/services/web/datatypes"
	"github.com/kodiakml/docbrief/services/web/observability"
)

// RateLimit rejects clients that exceed the per-IP request budget.
//
// Applied to mutating endpoints only; status polls are unmetered so a
// UI refreshing setup progress cannot starve its own setup trigger.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			observability.ObserveRateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Error: "Rate limit exceeded. Try again later.",
			})
			return
		}
		c.Next()
	}
}
