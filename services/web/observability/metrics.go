// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the DocBrief
// service.
//
// Metrics are exposed on /metrics. All metric operations are thread-safe
// via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "docbrief"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// RequestsTotal counts API requests.
	// Labels: endpoint, status (success, error, rejected)
	RequestsTotal *prometheus.CounterVec

	// DocumentsProcessedTotal counts pipeline runs by outcome.
	// Labels: status (success, or the failing stage's kind)
	DocumentsProcessedTotal *prometheus.CounterVec

	// ProcessingDurationSeconds measures pipeline stage latency.
	// Labels: stage (extract, inference, total)
	ProcessingDurationSeconds *prometheus.HistogramVec

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter

	// SetupRunsTotal counts setup sequences by outcome.
	// Labels: status (success, error, rejected)
	SetupRunsTotal *prometheus.CounterVec
}

// Default is the singleton metrics instance, set by Init.
var Default *Metrics

// Init creates and registers all collectors. Call once at startup.
func Init() *Metrics {
	Default = &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "API requests by endpoint and status.",
		}, []string{"endpoint", "status"}),

		DocumentsProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "documents_processed_total",
			Help:      "Document pipeline runs by outcome.",
		}, []string{"status"}),

		ProcessingDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "processing_duration_seconds",
			Help:      "Document pipeline stage latency.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),

		RateLimitedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),

		SetupRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "setup_runs_total",
			Help:      "Engine setup sequences by outcome.",
		}, []string{"status"}),
	}
	return Default
}

// ObserveRequest records one API request if metrics are initialized.
func ObserveRequest(endpoint, status string) {
	if Default != nil {
		Default.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	}
}

// ObserveDocument records one pipeline outcome if metrics are initialized.
func ObserveDocument(status string) {
	if Default != nil {
		Default.DocumentsProcessedTotal.WithLabelValues(status).Inc()
	}
}

// ObserveDuration records one stage latency if metrics are initialized.
func ObserveDuration(stage string, seconds float64) {
	if Default != nil {
		Default.ProcessingDurationSeconds.WithLabelValues(stage).Observe(seconds)
	}
}

// ObserveRateLimited records one rejected request if metrics are
// initialized.
func ObserveRateLimited() {
	if Default != nil {
		Default.RateLimitedTotal.Inc()
	}
}

// ObserveSetup records one setup run outcome if metrics are initialized.
func ObserveSetup(status string) {
	if Default != nil {
		Default.SetupRunsTotal.WithLabelValues(status).Inc()
	}
}
