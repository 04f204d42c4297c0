// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Engine process supervision.

# Problem Statement

The inference engine runs as a separate daemon that this service owns:
it must be started on a known local address, its health confirmed before
any request is routed to it, and it must be shut down cleanly with the
service. Stray engine processes from earlier runs hold the port and make
a fresh start fail in confusing ways.

# Solution

Supervisor owns the engine daemon lifecycle:

	Stopped ──Start()──► Starting ──probe ok──► Running
	   ▲                    │                      │
	   │               probe window           process dies
	   │                 exhausted                 │
	   └──── Stop() ◄──── Crashed ◄────────────────┘

Start kills stray engine processes, launches a fresh daemon bound to
loopback only, and polls the API until it answers or the startup window
closes. Stop terminates gracefully and escalates to kill after a grace
period.
*/
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kodiakml/docbrief/pkg/logging"
)

// ServiceState describes the supervised engine process.
type ServiceState int

const (
	// ServiceStopped means no engine process is owned by this supervisor.
	ServiceStopped ServiceState = iota

	// ServiceStarting means the daemon is launched but not yet answering.
	ServiceStarting

	// ServiceRunning means the engine answered a liveness probe after start.
	ServiceRunning

	// ServiceCrashed means the owned process exited without a Stop call,
	// or is up but never answered within the startup window. Either way
	// the supervisor keeps the handle so Stop can clean up.
	ServiceCrashed
)

// String returns the state name for logging and status reporting.
func (s ServiceState) String() string {
	switch s {
	case ServiceStopped:
		return "stopped"
	case ServiceStarting:
		return "starting"
	case ServiceRunning:
		return "running"
	case ServiceCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// DefaultEngineAddr binds the engine to loopback only. Exposing the
// engine beyond localhost is never acceptable for this service.
const DefaultEngineAddr = "127.0.0.1:11434"

// maxCrashStderr bounds how much captured stderr is surfaced in crash
// errors.
const maxCrashStderr = 500

// Supervisor owns the engine daemon process.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Start is idempotent: a call
// while the engine is already running returns immediately.
type Supervisor struct {
	pm     ProcessManager
	api    EngineAPI
	logger *logging.Logger

	// addr is the loopback address the engine is told to bind.
	addr string

	// Poll cadence, overridable in tests.
	startTimeout time.Duration
	pollInterval time.Duration
	killSettle   time.Duration

	mu     sync.Mutex
	state  ServiceState
	handle ProcessHandle
}

// NewSupervisor creates a Supervisor for the engine daemon.
func NewSupervisor(pm ProcessManager, api EngineAPI, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		pm:           pm,
		api:          api,
		logger:       logger,
		addr:         DefaultEngineAddr,
		startTimeout: ServiceStartTimeout,
		pollInterval: ServiceStartPollInterval,
		killSettle:   StrayKillSettle,
		state:        ServiceStopped,
	}
}

// State returns the current supervision state.
func (s *Supervisor) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.state
}

// refreshLocked folds process liveness into the state. Caller holds mu.
func (s *Supervisor) refreshLocked() {
	if s.state == ServiceRunning && s.handle != nil && !s.handle.Alive() {
		s.logger.Error("engine process died", "pid", s.handle.Pid(),
			"stderr", truncate(s.handle.Stderr(), maxCrashStderr))
		s.state = ServiceCrashed
	}
}

// Start launches the engine daemon and waits for it to answer.
//
// # Description
//
// If the supervised process is already running this is a no-op. A prior
// crashed or stopped state starts fresh: stray engine processes are
// killed first so the port is free, then the daemon is launched bound to
// loopback and polled until it responds or the startup window closes.
//
// # Outputs
//
//   - error: *SetupError with KindServiceStart when the engine dies
//     during startup or never answers within the window
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.refreshLocked()
	if s.state == ServiceRunning || s.state == ServiceStarting {
		s.mu.Unlock()
		s.logger.Info("engine already running")
		return nil
	}
	s.state = ServiceStarting
	s.mu.Unlock()

	s.killStrays(ctx)

	env := append(os.Environ(), "OLLAMA_HOST="+s.addr)
	handle, err := s.pm.StartDaemon(engineBinary, env, "serve")
	if err != nil {
		s.setState(ServiceStopped, nil)
		return newSetupError(KindServiceStart, StageStarting,
			"failed to launch engine process", "", err)
	}
	s.logger.Info("engine process started", "pid", handle.Pid())

	if err := s.awaitReady(ctx, handle); err != nil {
		if handle.Alive() {
			// The daemon is up but never answered. Keep the handle so
			// Stop can still terminate it.
			s.setState(ServiceCrashed, handle)
		} else {
			s.setState(ServiceStopped, nil)
		}
		return err
	}

	s.setState(ServiceRunning, handle)
	s.logger.Info("engine service ready", "addr", s.addr)
	return nil
}

// Stop shuts the engine down, escalating from terminate to kill.
//
// Safe to call in any state; stopping an already stopped supervisor is a
// no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	handle := s.handle
	s.state = ServiceStopped
	s.handle = nil
	s.mu.Unlock()

	if handle == nil || !handle.Alive() {
		return
	}

	s.logger.Info("stopping engine service", "pid", handle.Pid())
	if err := handle.Terminate(); err != nil {
		s.logger.Warn("terminate failed, killing", "pid", handle.Pid(), "error", err)
		handle.Kill()
		return
	}
	if !handle.WaitExit(ShutdownGrace) {
		s.logger.Warn("engine did not exit in grace period, killing", "pid", handle.Pid())
		handle.Kill()
	}
}

// killStrays removes engine processes left over from earlier runs.
func (s *Supervisor) killStrays(ctx context.Context) {
	killCtx, cancel := context.WithTimeout(ctx, ShutdownGrace)
	defer cancel()

	// pkill exits nonzero when nothing matched; that is the common case
	// and not an error worth surfacing.
	if _, err := s.pm.Run(killCtx, "pkill", "-9", engineBinary); err == nil {
		s.logger.Info("killed stray engine processes")
	}
	time.Sleep(s.killSettle)
}

// awaitReady polls the engine API until it answers or the window closes.
func (s *Supervisor) awaitReady(ctx context.Context, handle ProcessHandle) error {
	deadline := time.Now().Add(s.startTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return newSetupError(KindServiceStart, StageStarting,
				"startup cancelled", "", ctx.Err())
		}
		if s.api.Alive(ctx) {
			return nil
		}
		if !handle.Alive() {
			stderr := truncate(handle.Stderr(), maxCrashStderr)
			return newSetupError(KindServiceStart, StageStarting,
				"engine service failed to start", stderr, nil)
		}
		time.Sleep(s.pollInterval)
	}

	if !handle.Alive() {
		stderr := truncate(handle.Stderr(), maxCrashStderr)
		return newSetupError(KindServiceStart, StageStarting,
			"engine service failed to start", stderr, nil)
	}
	return newSetupError(KindServiceStart, StageStarting,
		fmt.Sprintf("engine did not respond within %s", s.startTimeout), "", nil)
}

func (s *Supervisor) setState(state ServiceState, handle ProcessHandle) {
	s.mu.Lock()
	s.state = state
	s.handle = handle
	s.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
