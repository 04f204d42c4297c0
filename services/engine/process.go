// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Process management abstraction for the engine orchestrator.

All exec.Command calls in the orchestrator go through the ProcessManager
interface. Direct calls to exec.Command are not testable because they
execute real processes; behind an interface we can mock execution, capture
and verify invocations, and simulate crash/timeout scenarios without real
subprocesses.

Three execution shapes are needed here:

  - Run / RunWithEnv: short synchronous probes and helpers
    ("ollama --version", "pkill", the install script)
  - StartDaemon: the long-lived engine service process, detached from the
    caller, with liveness checks and bounded stderr capture
  - StartStreaming: a model pull whose merged output is consumed
    incrementally for progress reporting
*/
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// -----------------------------------------------------------------------------
// Interface Definitions
// -----------------------------------------------------------------------------

// ProcessManager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// Run, RunWithEnv, and StartStreaming respect context cancellation by
// killing the underlying process. StartDaemon deliberately does not: the
// daemon must outlive the call that started it and is stopped through its
// ProcessHandle instead.
type ProcessManager interface {
	// Run executes a command synchronously and returns its stdout.
	// Stderr is folded into the returned error on failure.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithEnv is Run with a fully explicit environment. The child
	// receives exactly env, nothing inherited. Used for the installer,
	// which runs with only PATH propagated.
	RunWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

	// StartDaemon launches a detached background process with the given
	// environment and returns a handle for liveness checks and shutdown.
	// The process survives the caller; its stderr is captured up to a
	// fixed bound for crash diagnostics.
	StartDaemon(name string, env []string, args ...string) (ProcessHandle, error)

	// StartStreaming launches a process whose merged stdout/stderr is
	// read incrementally by the caller. Cancelling ctx kills the process.
	StartStreaming(ctx context.Context, name string, args ...string) (StreamingProcess, error)
}

// ProcessHandle is the single owner's view of a daemon process.
//
// Exactly one component (the ServiceSupervisor) holds a handle at a time;
// that ownership is what prevents two callers from independently believing
// they control the same process.
type ProcessHandle interface {
	// Pid returns the OS process id.
	Pid() int

	// Alive reports whether the process is still running.
	Alive() bool

	// Stderr returns the captured stderr output, bounded to a fixed
	// number of bytes from the start of the stream.
	Stderr() string

	// Terminate sends a graceful termination signal (SIGTERM).
	Terminate() error

	// Kill forcefully ends the process (SIGKILL).
	Kill() error

	// WaitExit blocks until the process exits or the timeout elapses,
	// reporting whether it exited in time.
	WaitExit(timeout time.Duration) bool
}

// StreamingProcess is a subprocess whose output is consumed as it runs.
type StreamingProcess interface {
	// Output returns the merged stdout/stderr stream. It reaches EOF
	// when the process exits.
	Output() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	// Call after draining Output.
	Wait() (int, error)

	// Kill forcefully ends the process.
	Kill() error
}

// -----------------------------------------------------------------------------
// Bounded stderr capture
// -----------------------------------------------------------------------------

// maxStderrCapture bounds how much daemon stderr is retained. Crash
// diagnostics only need the head of the stream; an engine that logs
// heavily must not grow memory without bound.
const maxStderrCapture = 4096

// boundedBuffer keeps the first capacity bytes written and drops the rest.
type boundedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	cap int
}

func newBoundedBuffer(capacity int) *boundedBuffer {
	return &boundedBuffer{cap: capacity}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.cap - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Report full consumption so the child never blocks on a full pipe.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProcessManager implements ProcessManager using os/exec.
//
// This is the production implementation. Use MockProcessManager in tests.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates a ProcessManager that executes real
// processes.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously and returns its stdout.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return pm.run(ctx, nil, name, args...)
}

// RunWithEnv executes a command with a fully explicit environment.
func (pm *DefaultProcessManager) RunWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	if env == nil {
		env = []string{}
	}
	return pm.run(ctx, env, name, args...)
}

func (pm *DefaultProcessManager) run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// StartDaemon launches a detached background process.
func (pm *DefaultProcessManager) StartDaemon(name string, env []string, args ...string) (ProcessHandle, error) {
	cmd := exec.Command(name, args...)
	if env != nil {
		cmd.Env = env
	}

	// New session so the daemon is not killed with the parent's
	// controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stderr := newBoundedBuffer(maxStderrCapture)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	h := &osProcessHandle{
		cmd:    cmd,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// StartStreaming launches a process with merged, incrementally readable
// output.
func (pm *DefaultProcessManager) StartStreaming(ctx context.Context, name string, args ...string) (StreamingProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	sp := &osStreamingProcess{cmd: cmd, out: pr, done: make(chan struct{})}
	go func() {
		sp.waitErr = cmd.Wait()
		pw.Close()
		close(sp.done)
	}()
	return sp, nil
}

// osProcessHandle wraps a started daemon process.
type osProcessHandle struct {
	cmd    *exec.Cmd
	stderr *boundedBuffer
	done   chan struct{}
}

func (h *osProcessHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *osProcessHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *osProcessHandle) Stderr() string {
	return h.stderr.String()
}

func (h *osProcessHandle) Terminate() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *osProcessHandle) Kill() error {
	return h.cmd.Process.Kill()
}

func (h *osProcessHandle) WaitExit(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// osStreamingProcess wraps a streaming subprocess.
type osStreamingProcess struct {
	cmd     *exec.Cmd
	out     *io.PipeReader
	done    chan struct{}
	waitErr error
}

func (p *osStreamingProcess) Output() io.Reader {
	return p.out
}

func (p *osStreamingProcess) Wait() (int, error) {
	<-p.done
	if p.waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, p.waitErr
}

func (p *osStreamingProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// -----------------------------------------------------------------------------
// Mock Implementations for Testing
// -----------------------------------------------------------------------------

// MockProcessManager is a test double for ProcessManager.
//
// Configure the mock by setting function fields before use. A nil function
// field panics when its method is called, which surfaces unconfigured
// mocks immediately in tests.
//
// # Examples
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "ollama" && args[0] == "--version" {
//	            return []byte("ollama version 0.5.1"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked.
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithEnvFunc is called when RunWithEnv is invoked.
	RunWithEnvFunc func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

	// StartDaemonFunc is called when StartDaemon is invoked.
	StartDaemonFunc func(name string, env []string, args ...string) (ProcessHandle, error)

	// StartStreamingFunc is called when StartStreaming is invoked.
	StartStreamingFunc func(ctx context.Context, name string, args ...string) (StreamingProcess, error)

	// Calls records all method invocations for verification.
	Calls []ProcessCall

	mu sync.Mutex
}

// ProcessCall records a single method invocation.
type ProcessCall struct {
	Method string
	Name   string
	Args   []string
	Env    []string
}

func (m *MockProcessManager) record(call ProcessCall) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
}

// Run delegates to RunFunc and records the call.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(ProcessCall{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithEnv delegates to RunWithEnvFunc and records the call.
func (m *MockProcessManager) RunWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	m.record(ProcessCall{Method: "RunWithEnv", Name: name, Args: args, Env: env})
	if m.RunWithEnvFunc == nil {
		panic("MockProcessManager.RunWithEnvFunc not set")
	}
	return m.RunWithEnvFunc(ctx, env, name, args...)
}

// StartDaemon delegates to StartDaemonFunc and records the call.
func (m *MockProcessManager) StartDaemon(name string, env []string, args ...string) (ProcessHandle, error) {
	m.record(ProcessCall{Method: "StartDaemon", Name: name, Args: args, Env: env})
	if m.StartDaemonFunc == nil {
		panic("MockProcessManager.StartDaemonFunc not set")
	}
	return m.StartDaemonFunc(name, env, args...)
}

// StartStreaming delegates to StartStreamingFunc and records the call.
func (m *MockProcessManager) StartStreaming(ctx context.Context, name string, args ...string) (StreamingProcess, error) {
	m.record(ProcessCall{Method: "StartStreaming", Name: name, Args: args})
	if m.StartStreamingFunc == nil {
		panic("MockProcessManager.StartStreamingFunc not set")
	}
	return m.StartStreamingFunc(ctx, name, args...)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []ProcessCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProcessCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// CallsTo returns recorded calls whose executable name matches.
func (m *MockProcessManager) CallsTo(name string) []ProcessCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ProcessCall
	for _, c := range m.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// MockProcessHandle is a configurable ProcessHandle for tests.
type MockProcessHandle struct {
	PidValue    int
	StderrValue string

	mu         sync.Mutex
	alive      bool
	Terminated bool
	Killed     bool

	// ExitOnTerminate makes Terminate flip the process to dead, modeling
	// a well-behaved daemon.
	ExitOnTerminate bool
}

// NewMockProcessHandle returns a handle representing a live process.
func NewMockProcessHandle(pid int) *MockProcessHandle {
	return &MockProcessHandle{PidValue: pid, alive: true, ExitOnTerminate: true}
}

func (h *MockProcessHandle) Pid() int { return h.PidValue }

func (h *MockProcessHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// MarkDead simulates the process exiting on its own.
func (h *MockProcessHandle) MarkDead() {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
}

func (h *MockProcessHandle) Stderr() string { return h.StderrValue }

func (h *MockProcessHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Terminated = true
	if h.ExitOnTerminate {
		h.alive = false
	}
	return nil
}

func (h *MockProcessHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Killed = true
	h.alive = false
	return nil
}

func (h *MockProcessHandle) WaitExit(timeout time.Duration) bool {
	return !h.Alive()
}

// MockStreamingProcess replays canned output as a StreamingProcess.
type MockStreamingProcess struct {
	// Lines is the canned merged output, joined with newlines.
	Lines []string

	// ExitCode is returned from Wait.
	ExitCode int

	// WaitErr is returned from Wait in place of an exit code.
	WaitErr error

	mu     sync.Mutex
	Killed bool
	reader io.Reader
}

func (p *MockStreamingProcess) Output() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		p.reader = strings.NewReader(strings.Join(p.Lines, "\n") + "\n")
	}
	return p.reader
}

func (p *MockStreamingProcess) Wait() (int, error) {
	if p.WaitErr != nil {
		return -1, p.WaitErr
	}
	return p.ExitCode, nil
}

func (p *MockStreamingProcess) Kill() error {
	p.mu.Lock()
	p.Killed = true
	p.mu.Unlock()
	return nil
}

// Compile-time interface compliance checks.
var (
	_ ProcessManager   = (*DefaultProcessManager)(nil)
	_ ProcessManager   = (*MockProcessManager)(nil)
	_ ProcessHandle    = (*osProcessHandle)(nil)
	_ ProcessHandle    = (*MockProcessHandle)(nil)
	_ StreamingProcess = (*osStreamingProcess)(nil)
	_ StreamingProcess = (*MockStreamingProcess)(nil)
)
