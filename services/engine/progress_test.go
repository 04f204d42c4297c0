// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"strings"
	"sync"
	"testing"
)

func TestTracker_InitialState(t *testing.T) {
	snap := NewTracker().Snapshot()
	if snap.Stage != StageIdle {
		t.Errorf("expected idle, got %s", snap.Stage)
	}
	if snap.Progress != 0 || snap.Error != "" {
		t.Errorf("unexpected initial snapshot: %+v", snap)
	}
}

func TestTracker_SetClampsProgress(t *testing.T) {
	tracker := NewTracker()

	tracker.Set(StageInstalling, "going", 150)
	if got := tracker.Snapshot().Progress; got != 100 {
		t.Errorf("expected clamp to 100, got %d", got)
	}

	tracker.Set(StageInstalling, "going", -5)
	if got := tracker.Snapshot().Progress; got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
}

func TestTracker_SetBoundsMessage(t *testing.T) {
	tracker := NewTracker()
	tracker.Set(StageDownloading, strings.Repeat("x", 1000), 50)

	if got := len(tracker.Snapshot().Message); got > maxProgressMessage {
		t.Errorf("message length %d exceeds bound %d", got, maxProgressMessage)
	}
}

func TestTracker_SetSanitizesMessage(t *testing.T) {
	tracker := NewTracker()
	tracker.Set(StageDownloading, "<script>alert(1)</script>", 50)

	msg := tracker.Snapshot().Message
	if strings.Contains(msg, "<script>") {
		t.Errorf("expected angle brackets escaped, got %q", msg)
	}
}

func TestTracker_FailPreservesStage(t *testing.T) {
	tracker := NewTracker()
	tracker.Set(StageDownloading, "Downloading model llama2...", 80)
	tracker.Fail("download timeout")

	snap := tracker.Snapshot()
	if snap.Error != "download timeout" {
		t.Errorf("expected error set, got %q", snap.Error)
	}
	if snap.Stage != StageDownloading || snap.Progress != 80 {
		t.Errorf("expected stage/progress preserved, got %s/%d", snap.Stage, snap.Progress)
	}
}

func TestTracker_SetClearsError(t *testing.T) {
	tracker := NewTracker()
	tracker.Fail("boom")
	tracker.Set(StageChecking, "retrying", 10)

	if got := tracker.Snapshot().Error; got != "" {
		t.Errorf("expected error cleared on new progress, got %q", got)
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker()
	tracker.Set(StageComplete, "done", 100)
	tracker.Fail("late failure")
	tracker.Reset()

	snap := tracker.Snapshot()
	if snap.Stage != StageIdle || snap.Progress != 0 || snap.Error != "" {
		t.Errorf("expected fresh snapshot after reset, got %+v", snap)
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tracker := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			tracker.Set(StageDownloading, "progress", n%101)
		}(i)
		go func() {
			defer wg.Done()
			_ = tracker.Snapshot()
		}()
	}
	wg.Wait()
}
