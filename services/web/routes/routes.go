// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kodiakml/docbrief/pkg/ratelimit"
	"github.com/kodiakml/docbrief/services/engine"
	"github.com/kodiakml/docbrief/services/pipeline"
	"github.com/kodiakml/docbrief/services/web/handlers"
	"github.com/kodiakml/docbrief/services/web/middleware"
)

func SetupRoutes(router *gin.Engine, orch *engine.Orchestrator, proc *pipeline.Processor,
	store *pipeline.FileStore, prompts *pipeline.PromptStore, limiter *ratelimit.Limiter,
	defaultModel string) {

	router.Use(middleware.RequestMetrics())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Read-only routes are not rate limited; the UI polls setup status
	// once a second during installation.
	router.GET("/setup_status", handlers.SetupStatus(orch))
	router.GET("/list_models", handlers.ListModels(orch))
	router.GET("/get_prompt", handlers.GetPrompt(prompts))
	router.GET("/download/:artifact", handlers.Download(store))

	limited := router.Group("/", middleware.RateLimit(limiter))
	{
		limited.POST("/auto_setup", handlers.AutoSetup(orch, defaultModel))
		limited.POST("/set_model", handlers.SetModel(orch))
		limited.POST("/save_prompt", handlers.SavePrompt(prompts))
		limited.POST("/process", handlers.ProcessDocument(proc))
	}
}
