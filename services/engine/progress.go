// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"sync"

	"github.com/kodiakml/docbrief/pkg/validation"
)

// Stage names a phase of the setup sequence. Stages are part of the status
// API surface; values are stable strings, not internal indexes.
type Stage string

const (
	// StageIdle is the state at process start, before any setup runs.
	StageIdle Stage = "idle"

	// StageChecking covers pre-flight probes (engine detected, model
	// already present).
	StageChecking Stage = "checking"

	// StageInstalling covers installer download and execution.
	StageInstalling Stage = "installing"

	// StageInstalled is reported after a successful install re-probe.
	StageInstalled Stage = "installed"

	// StageStarting covers process launch and health polling.
	StageStarting Stage = "starting"

	// StageStarted is reported once the health endpoint answers.
	StageStarted Stage = "started"

	// StageDownloading covers a streaming model pull.
	StageDownloading Stage = "downloading"

	// StageComplete is the terminal success stage.
	StageComplete Stage = "complete"
)

const (
	// maxProgressStage bounds the stage string in a snapshot.
	maxProgressStage = 50

	// maxProgressMessage bounds progress and error messages. Pull
	// subprocess output flows through here, so the bound is what keeps
	// untrusted output from inflating status responses.
	maxProgressMessage = 200
)

// SetupProgress is a point-in-time view of the setup sequence.
//
// Exactly one current instance exists per process; it is overwritten
// atomically on each transition, never persisted, and resets to idle at
// process start.
type SetupProgress struct {
	// Stage is the current (or last active) setup stage.
	Stage Stage `json:"stage"`

	// Message is a short, sanitized description of current activity.
	Message string `json:"message"`

	// Progress is a percentage in [0, 100].
	Progress int `json:"progress"`

	// Error is a bounded failure description, empty while healthy. When
	// set, Stage and Progress still reflect where the failure occurred.
	Error string `json:"error,omitempty"`
}

// Tracker holds the current SetupProgress under a single-writer-at-a-time,
// many-reader discipline.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Snapshot never observes a
// partially-written record: writes replace the whole record under the
// write lock, reads copy it under the read lock.
type Tracker struct {
	mu  sync.RWMutex
	cur SetupProgress
}

// NewTracker returns a Tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{cur: SetupProgress{Stage: StageIdle}}
}

// Set records a stage transition.
//
// # Description
//
// Replaces the current record with the given stage, message, and progress.
// Progress is clamped to [0, 100]; stage and message are sanitized and
// length-bounded. Any prior error is cleared: entering a new stage means
// the sequence is moving again.
func (t *Tracker) Set(stage Stage, message string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	next := SetupProgress{
		Stage:    Stage(validation.SanitizeText(string(stage), maxProgressStage)),
		Message:  validation.SanitizeText(message, maxProgressMessage),
		Progress: progress,
	}

	t.mu.Lock()
	t.cur = next
	t.mu.Unlock()
}

// Fail records a failure without discarding stage or progress, so a caller
// polling status can see where the sequence stopped.
func (t *Tracker) Fail(message string) {
	bounded := validation.SanitizeText(message, maxProgressMessage)

	t.mu.Lock()
	t.cur.Error = bounded
	t.mu.Unlock()
}

// Reset returns the tracker to the idle state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.cur = SetupProgress{Stage: StageIdle}
	t.mu.Unlock()
}

// Snapshot returns a consistent copy of the current record.
func (t *Tracker) Snapshot() SetupProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}
