// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Setup orchestration.

# Problem Statement

Reaching a ready system takes several dependent stages: verify or
install the engine binary, start and health-check the daemon, and
download the selected model. Each stage can fail independently, takes
anywhere from seconds to half an hour, and must report progress to a
status endpoint while the original HTTP request has long since returned.

# Solution

Orchestrator sequences the stages and owns the one-setup-at-a-time
rule:

	StartAutoSetup ──► TryLock ──rejected──► ErrSetupInProgress
	                      │
	                   goroutine: check ─► install? ─► start ─► pull? ─► complete
	                      │                                         │
	                   Tracker ◄──── progress/failure updates ──────┘

Completed stages are recorded in the StateStore so a restart skips them,
and a fully set-up system starts its engine eagerly at boot.
*/
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// Status is the externally visible system state.
type Status struct {
	// EngineInstalled is true when the engine binary has been verified.
	EngineInstalled bool `json:"engine_installed"`

	// EngineRunning reflects a live probe of the engine API.
	EngineRunning bool `json:"engine_running"`

	// ModelDownloaded is true when the active model is present.
	ModelDownloaded bool `json:"model_downloaded"`

	// ModelName is the active model.
	ModelName string `json:"model_name"`

	// SetupComplete is true once a full setup has succeeded.
	SetupComplete bool `json:"setup_complete"`

	// Ready means the system can serve document requests right now.
	Ready bool `json:"ready"`

	// Progress is the current setup progress snapshot.
	Progress SetupProgress `json:"progress"`
}

// Orchestrator sequences engine setup and answers status queries.
//
// # Thread Safety
//
// All methods are safe for concurrent use. At most one setup sequence
// runs at a time; concurrent triggers are rejected, not queued.
type Orchestrator struct {
	store      *StateStore
	installer  *Installer
	supervisor *Supervisor
	acquirer   *Acquirer
	api        EngineAPI
	tracker    *Tracker
	logger     *logging.Logger

	// setupMu guards the setup sequence. TryLock gives rejection
	// semantics instead of queueing.
	setupMu sync.Mutex
}

// NewOrchestrator wires the setup components together.
func NewOrchestrator(store *StateStore, installer *Installer, supervisor *Supervisor,
	acquirer *Acquirer, api EngineAPI, tracker *Tracker, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		installer:  installer,
		supervisor: supervisor,
		acquirer:   acquirer,
		api:        api,
		tracker:    tracker,
		logger:     logger,
	}
}

// Status reports the current system state, including a live engine probe.
func (o *Orchestrator) Status(ctx context.Context) Status {
	state := o.store.Get()
	running := o.api.Alive(ctx)
	return Status{
		EngineInstalled: state.EngineInstalled,
		EngineRunning:   running,
		ModelDownloaded: state.ModelDownloaded,
		ModelName:       state.ModelName,
		SetupComplete:   state.SetupComplete,
		Ready:           state.EngineInstalled && running && state.ModelDownloaded,
		Progress:        o.tracker.Snapshot(),
	}
}

// StartAutoSetup launches the setup sequence in the background.
//
// # Description
//
// Validates the model name, claims the setup lock, and returns
// immediately; the stages run in a goroutine and report through the
// progress tracker. A second trigger while a setup is in flight is
// rejected with ErrSetupInProgress rather than queued, since two
// interleaved setups would race over the same engine process and
// state file.
//
// # Outputs
//
//   - error: *SetupError with KindValidation for a bad model name, or
//     ErrSetupInProgress when a setup is already running
func (o *Orchestrator) StartAutoSetup(modelName string) error {
	if !validation.ValidModelName(modelName) {
		return newSetupError(KindValidation, StageIdle, "invalid model name", modelName, nil)
	}
	if !o.setupMu.TryLock() {
		return ErrSetupInProgress
	}

	go func() {
		defer o.setupMu.Unlock()
		// Setup outlives the triggering request.
		if err := o.runSetup(context.Background(), modelName); err != nil {
			o.tracker.Fail(err.Error())
			o.logger.Error("auto-setup failed", "model", modelName, "error", err)
		}
	}()
	return nil
}

// AutoSetup runs the full setup sequence synchronously.
//
// Same stages and locking as StartAutoSetup; used where the caller
// wants to block on the result.
func (o *Orchestrator) AutoSetup(ctx context.Context, modelName string) error {
	if !validation.ValidModelName(modelName) {
		return newSetupError(KindValidation, StageIdle, "invalid model name", modelName, nil)
	}
	if !o.setupMu.TryLock() {
		return ErrSetupInProgress
	}
	defer o.setupMu.Unlock()

	if err := o.runSetup(ctx, modelName); err != nil {
		o.tracker.Fail(err.Error())
		o.logger.Error("auto-setup failed", "model", modelName, "error", err)
		return err
	}
	return nil
}

// runSetup executes the stages. Caller holds setupMu.
func (o *Orchestrator) runSetup(ctx context.Context, modelName string) error {
	modelName = validation.NormalizeModelName(modelName)
	o.logger.Info("starting auto-setup", "model", modelName)
	o.tracker.Reset()
	o.tracker.Set(StageChecking, "Checking engine installation...", 10)

	// Stage 1: engine binary.
	if version, ok := o.installer.CheckInstalled(ctx); ok {
		o.tracker.Set(StageChecking, "Engine detected: "+version, 20)
	} else {
		o.tracker.Set(StageInstalling, "Installing engine...", 25)
		if err := o.installer.Install(ctx); err != nil {
			return err
		}
		o.tracker.Set(StageInstalled, "Engine installed successfully", 50)
	}
	if err := o.store.Update(func(s *State) {
		s.EngineInstalled = true
		s.EnginePath = o.installer.EnginePath(ctx)
	}); err != nil {
		return newSetupError(KindConfig, StageInstalled, "persisting state failed", "", err)
	}

	// Stage 2: engine service.
	o.tracker.Set(StageStarting, "Starting engine service...", 60)
	if err := o.supervisor.Start(ctx); err != nil {
		return err
	}
	o.tracker.Set(StageStarted, "Engine service running", 70)

	// Stage 3: model.
	if o.acquirer.Present(ctx, modelName) {
		o.tracker.Set(StageChecking, fmt.Sprintf("Model %s already downloaded", modelName), 90)
	} else {
		if err := o.acquirer.Pull(ctx, modelName); err != nil {
			return err
		}
		o.tracker.Set(StageComplete, fmt.Sprintf("Model %s ready", modelName), 95)
	}
	if err := o.store.Update(func(s *State) {
		s.ModelName = modelName
		s.ModelDownloaded = true
		s.SetupComplete = true
	}); err != nil {
		return newSetupError(KindConfig, StageComplete, "persisting state failed", "", err)
	}

	o.tracker.Set(StageComplete, "Setup complete - system ready", 100)
	o.logger.Info("auto-setup completed", "model", modelName)
	return nil
}

// EnsureRunning starts the engine eagerly when setup already completed.
//
// Called at boot so a previously set-up system serves requests without
// waiting for a setup trigger. A system that never finished setup is
// left alone.
func (o *Orchestrator) EnsureRunning(ctx context.Context) error {
	if !o.store.Get().SetupComplete {
		o.logger.Info("setup not complete, engine start deferred")
		return nil
	}
	return o.supervisor.Start(ctx)
}

// SetModel switches the active model.
//
// The model must pass the allow-list and already be present in the
// engine; switching to a model that is not downloaded would silently
// break every subsequent document request.
func (o *Orchestrator) SetModel(ctx context.Context, modelName string) error {
	if !validation.ValidModelName(modelName) {
		return newSetupError(KindValidation, StageIdle, "invalid model name", modelName, nil)
	}
	modelName = validation.NormalizeModelName(modelName)

	if !o.acquirer.Present(ctx, modelName) {
		return newSetupError(KindValidation, StageIdle,
			"model not downloaded", modelName, nil)
	}
	if err := o.store.Update(func(s *State) {
		s.ModelName = modelName
		s.ModelDownloaded = true
	}); err != nil {
		return newSetupError(KindConfig, StageIdle, "persisting state failed", "", err)
	}
	o.logger.Info("active model changed", "model", modelName)
	return nil
}

// ListModels returns installed models that pass the allow-list.
//
// Unknown models a user pulled by hand are filtered out; offering them
// in the UI would let a selection bypass the allow-list.
func (o *Orchestrator) ListModels(ctx context.Context) []string {
	models, err := o.api.ListModels(ctx)
	if err != nil {
		o.logger.Error("failed to list models", "error", err)
		return []string{}
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		if validation.ValidModelName(m.Name) {
			names = append(names, m.Name)
		}
	}
	return names
}

// ActiveModel returns the currently selected model name.
func (o *Orchestrator) ActiveModel() string {
	return o.store.Get().ModelName
}

// Shutdown stops the supervised engine process.
func (o *Orchestrator) Shutdown() {
	o.supervisor.Stop()
}
