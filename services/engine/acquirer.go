// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Model acquisition.

Model downloads run as a streaming `pull` subprocess whose output lines
carry download progress. The acquirer relays that progress to the setup
tracker at a throttled cadence, enforces a wall-clock ceiling on the
whole download, and verifies the model is actually present in the engine
afterwards. A pull that "succeeds" without the model appearing in the
engine's list is treated as a failure.
*/
package engine

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// progressUpdateInterval throttles how often pull output lines are
// relayed to the tracker. The pull emits many lines per second; the
// status endpoint only needs a human-readable heartbeat.
const progressUpdateInterval = 2 * time.Second

// Acquirer downloads models into the engine.
type Acquirer struct {
	pm      ProcessManager
	api     EngineAPI
	tracker *Tracker
	logger  *logging.Logger

	// pullTimeout is the wall-clock ceiling for one download.
	pullTimeout time.Duration

	// updateInterval throttles tracker updates, overridable in tests.
	updateInterval time.Duration

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewAcquirer creates an Acquirer reporting progress to tracker.
func NewAcquirer(pm ProcessManager, api EngineAPI, tracker *Tracker, logger *logging.Logger) *Acquirer {
	return &Acquirer{
		pm:             pm,
		api:            api,
		tracker:        tracker,
		logger:         logger,
		pullTimeout:    ModelPullTimeout,
		updateInterval: progressUpdateInterval,
		now:            time.Now,
	}
}

// Present checks whether the model is already installed in the engine.
func (a *Acquirer) Present(ctx context.Context, modelName string) bool {
	if !validation.ValidModelName(modelName) {
		return false
	}
	has, err := a.api.HasModel(ctx, validation.NormalizeModelName(modelName))
	if err != nil {
		a.logger.Debug("model presence check failed", "model", modelName, "error", err)
		return false
	}
	return has
}

// Pull downloads a model, relaying progress to the tracker.
//
// # Description
//
// Runs the engine's pull command as a streaming subprocess. Output lines
// mentioning download activity become throttled tracker updates. The
// whole download is bounded by a wall-clock ceiling; crossing it kills
// the subprocess. After a clean exit the model's presence is verified
// against the engine API.
//
// # Inputs
//
//   - ctx: cancelling it kills the download
//   - modelName: validated against the model allow-list before any
//     subprocess is started
//
// # Outputs
//
//   - error: *SetupError with KindValidation, KindDownloadTimeout, or
//     KindDownloadFailed
func (a *Acquirer) Pull(ctx context.Context, modelName string) error {
	if !validation.ValidModelName(modelName) {
		return newSetupError(KindValidation, StageDownloading,
			"invalid model name", modelName, nil)
	}
	modelName = validation.NormalizeModelName(modelName)

	a.tracker.Set(StageDownloading, fmt.Sprintf("Downloading model %s...", modelName), 80)
	a.logger.Info("starting model download", "model", modelName)

	pullCtx, cancel := context.WithTimeout(ctx, a.pullTimeout)
	defer cancel()

	proc, err := a.pm.StartStreaming(pullCtx, engineBinary, "pull", modelName)
	if err != nil {
		return newSetupError(KindDownloadFailed, StageDownloading,
			"failed to start model download", "", err)
	}

	start := a.now()
	if err := a.relayProgress(proc, start); err != nil {
		proc.Kill()
		return err
	}

	exitCode, waitErr := proc.Wait()
	if pullCtx.Err() == context.DeadlineExceeded {
		return newSetupError(KindDownloadTimeout, StageDownloading,
			fmt.Sprintf("download timeout (%s exceeded)", a.pullTimeout), "", pullCtx.Err())
	}
	if waitErr != nil {
		return newSetupError(KindDownloadFailed, StageDownloading,
			"model download failed", "", waitErr)
	}
	if exitCode != 0 {
		setupErr := newSetupError(KindDownloadFailed, StageDownloading,
			fmt.Sprintf("download failed with exit code %d", exitCode), "", nil)
		setupErr.ExitCode = exitCode
		return setupErr
	}

	// A clean pull that still leaves the model missing means the engine
	// silently rejected it.
	if !a.Present(ctx, modelName) {
		return newSetupError(KindDownloadFailed, StageDownloading,
			"download completed but model not present in engine", modelName, nil)
	}

	a.logger.Info("model downloaded", "model", modelName, "elapsed", a.now().Sub(start))
	return nil
}

// relayProgress reads pull output and forwards download lines to the
// tracker at the throttled cadence. Also enforces the wall-clock ceiling
// between lines, since a stalled-but-chatty pull would otherwise evade
// the context deadline only at the next blocking read.
func (a *Acquirer) relayProgress(proc StreamingProcess, start time.Time) error {
	lastUpdate := start
	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for scanner.Scan() {
		nowT := a.now()
		if nowT.Sub(start) > a.pullTimeout {
			return newSetupError(KindDownloadTimeout, StageDownloading,
				fmt.Sprintf("download timeout (%s exceeded)", a.pullTimeout), "", nil)
		}
		line := scanner.Text()
		if nowT.Sub(lastUpdate) > a.updateInterval && isProgressLine(line) {
			a.tracker.Set(StageDownloading, strings.TrimSpace(line), 85)
			a.logger.Debug("download progress", "line", strings.TrimSpace(line))
			lastUpdate = nowT
		}
	}
	// Scanner errors here mean the pipe broke, which Wait will surface
	// as an exit failure; nothing useful to add.
	return nil
}

// isProgressLine reports whether a pull output line describes download
// activity worth surfacing.
func isProgressLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "pulling") || strings.Contains(lower, "downloading")
}
