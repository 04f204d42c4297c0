// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kodiakml/docbrief/cmd/docbrief/config"
	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/ratelimit"
	"github.com/kodiakml/docbrief/services/engine"
	"github.com/kodiakml/docbrief/services/pipeline"
	"github.com/kodiakml/docbrief/services/web/observability"
	"github.com/kodiakml/docbrief/services/web/routes"
)

// shutdownTimeout bounds how long in-flight requests get to finish once
// a termination signal arrives.
const shutdownTimeout = 10 * time.Second

// runServe wires the full service and blocks until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Global
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "docbrief",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	observability.Init()

	pm := engine.NewDefaultProcessManager()
	api := engine.NewClientWithGenerateTimeout(cfg.Engine.BaseURL,
		time.Duration(cfg.Engine.GenerateTimeoutSecs)*time.Second)
	stateStore := engine.NewStateStore(filepath.Join(cfg.Storage.DataDir, "state.json"), logger)
	tracker := engine.NewTracker()
	orch := engine.NewOrchestrator(stateStore,
		engine.NewInstaller(pm, logger),
		engine.NewSupervisor(pm, api, logger),
		engine.NewAcquirer(pm, api, tracker, logger),
		api, tracker, logger)

	fileStore, err := pipeline.NewFileStore(
		filepath.Join(cfg.Storage.DataDir, "uploads"),
		filepath.Join(cfg.Storage.DataDir, "outputs"),
		logger)
	if err != nil {
		log.Fatalf("Error preparing storage directories: %v", err)
	}
	prompts := pipeline.NewPromptStore(filepath.Join(cfg.Storage.DataDir, "prompt.txt"), logger)
	proc := pipeline.NewProcessor(fileStore, prompts, pipeline.NewPDFExtractor(logger), api, orch, logger)

	window := time.Duration(cfg.Server.RateWindowSecs) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	limiter := ratelimit.New(cfg.Server.RateLimit, window)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, orch, proc, fileStore, prompts, limiter, cfg.Engine.DefaultModel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention := time.Duration(cfg.Storage.RetentionSecs) * time.Second
	if retention <= 0 {
		retention = pipeline.RetentionWindow
	}

	// Clear out anything left over from a previous run before serving.
	fileStore.Sweep(retention)

	// Bring the engine back up if a previous run completed setup.
	if err := orch.EnsureRunning(ctx); err != nil {
		logger.Warn("engine not restarted at boot", "error", err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving", "addr", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		fileStore.RunSweeper(gctx, pipeline.SweepInterval, retention)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		orch.Shutdown()
		fileStore.Sweep(0)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Service exited with error: %v", err)
	}
	logger.Info("shutdown complete")
}
