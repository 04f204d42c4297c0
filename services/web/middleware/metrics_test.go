// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kodiakml/docbrief/services/web/observability"
)

// installTestMetrics swaps in a Metrics instance whose collectors are
// not registered anywhere, so tests never collide with the global
// Prometheus registry.
func installTestMetrics(t *testing.T) *observability.Metrics {
	t.Helper()

	m := &observability.Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
		}, []string{"endpoint", "status"}),
	}
	prev := observability.Default
	observability.Default = m
	t.Cleanup(func() { observability.Default = prev })
	return m
}

func newMeteredRouter(status int) *gin.Engine {
	router := gin.New()
	router.Use(RequestMetrics())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/ping", func(c *gin.Context) { c.Status(status) })
	return router
}

func hit(router *gin.Engine, path string) {
	req, _ := http.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
}

func TestRequestMetrics_CountsByOutcome(t *testing.T) {
	tests := []struct {
		name   string
		status int
		label  string
	}{
		{"2xx counts as success", http.StatusOK, "success"},
		{"4xx counts as error", http.StatusBadRequest, "error"},
		{"5xx counts as error", http.StatusInternalServerError, "error"},
		{"429 counts as rejected", http.StatusTooManyRequests, "rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := installTestMetrics(t)
			hit(newMeteredRouter(tt.status), "/ping")

			got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/ping", tt.label))
			assert.Equal(t, float64(1), got)
		})
	}
}

func TestRequestMetrics_SkipsHealthAndUnmatched(t *testing.T) {
	m := installTestMetrics(t)
	router := newMeteredRouter(http.StatusOK)

	hit(router, "/health")
	hit(router, "/no-such-route")

	assert.Equal(t, 0, testutil.CollectAndCount(m.RequestsTotal))
}