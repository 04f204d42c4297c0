// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// installScript is a plausible install script body above the minimum size.
var installScript = []byte("#!/bin/sh\n# engine installer\n" + strings.Repeat("echo step\n", 20))

// newTestInstaller wires an Installer to a script server and mock process
// manager, with the settle delay removed.
func newTestInstaller(t *testing.T, scriptBody []byte, pm *MockProcessManager) (*Installer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(scriptBody)
	}))
	t.Cleanup(srv.Close)

	in := NewInstaller(pm, testLogger(t))
	in.scriptURL = srv.URL
	in.tempDir = t.TempDir()
	in.settle = 0
	return in, srv
}

func TestCheckInstalled(t *testing.T) {
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == engineBinary && len(args) == 1 && args[0] == "--version" {
				return []byte("ollama version 0.5.1\n"), nil
			}
			return nil, fmt.Errorf("unexpected command %s %v", name, args)
		},
	}
	in := NewInstaller(pm, testLogger(t))

	version, ok := in.CheckInstalled(context.Background())
	if !ok {
		t.Fatal("expected CheckInstalled true")
	}
	if version != "ollama version 0.5.1" {
		t.Errorf("unexpected version: %q", version)
	}
}

func TestCheckInstalled_Missing(t *testing.T) {
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("executable file not found in $PATH")
		},
	}
	in := NewInstaller(pm, testLogger(t))

	if _, ok := in.CheckInstalled(context.Background()); ok {
		t.Error("expected CheckInstalled false when binary missing")
	}
}

func TestInstall_Success(t *testing.T) {
	var ranScript string
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			// The post-install verify probe.
			return []byte("ollama version 0.5.1"), nil
		},
		RunWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			if name != "sh" || len(args) != 1 {
				t.Errorf("unexpected installer invocation: %s %v", name, args)
			}
			ranScript = args[0]
			if len(env) != 1 || !strings.HasPrefix(env[0], "PATH=") {
				t.Errorf("expected PATH-only environment, got %v", env)
			}
			return []byte("installed"), nil
		},
	}
	in, _ := newTestInstaller(t, installScript, pm)

	if err := in.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	// Script file must be gone after a successful install.
	if _, err := os.Stat(ranScript); !os.IsNotExist(err) {
		t.Errorf("expected script file removed, stat err: %v", err)
	}
}

func TestInstall_ScriptTooSmall(t *testing.T) {
	pm := &MockProcessManager{}
	in, _ := newTestInstaller(t, []byte("tiny"), pm)

	err := in.Install(context.Background())
	if err == nil {
		t.Fatal("expected error for undersized script")
	}
	if kind, ok := KindOf(err); !ok || kind != KindInstall {
		t.Errorf("expected KindInstall, got %v", err)
	}
	if len(pm.GetCalls()) != 0 {
		t.Error("undersized script must never be executed")
	}
}

func TestInstall_ScriptTooLarge(t *testing.T) {
	pm := &MockProcessManager{}
	big := []byte(strings.Repeat("a", maxInstallScriptSize+1))
	in, _ := newTestInstaller(t, big, pm)

	err := in.Install(context.Background())
	if err == nil {
		t.Fatal("expected error for oversized script")
	}
	if len(pm.GetCalls()) != 0 {
		t.Error("oversized script must never be executed")
	}
}

func TestInstall_DownloadError(t *testing.T) {
	pm := &MockProcessManager{}
	in := NewInstaller(pm, testLogger(t))
	in.tempDir = t.TempDir()
	in.settle = 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	in.scriptURL = srv.URL

	err := in.Install(context.Background())
	if err == nil {
		t.Fatal("expected error for 404 download")
	}
	if kind, ok := KindOf(err); !ok || kind != KindInstall {
		t.Errorf("expected KindInstall, got %v", err)
	}
}

func TestInstall_ScriptFails_FileStillRemoved(t *testing.T) {
	pm := &MockProcessManager{
		RunWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("exit status 1: no supported GPU found")
		},
	}
	in, _ := newTestInstaller(t, installScript, pm)

	err := in.Install(context.Background())
	if err == nil {
		t.Fatal("expected error when installer script fails")
	}

	// Temp dir must hold no leftover script.
	entries, _ := os.ReadDir(in.tempDir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sh") {
			t.Errorf("expected script removed after failure, found %s", e.Name())
		}
	}
}

func TestInstall_VerifyProbeFails(t *testing.T) {
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("executable file not found in $PATH")
		},
		RunWithEnvFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			return []byte("installed"), nil
		},
	}
	in, _ := newTestInstaller(t, installScript, pm)

	err := in.Install(context.Background())
	if err == nil {
		t.Fatal("expected error when binary missing after install")
	}
	if !strings.Contains(err.Error(), "not found on PATH") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnginePath(t *testing.T) {
	// Create a real file so the regular-file check passes.
	dir := t.TempDir()
	binPath := filepath.Join(dir, engineBinary)
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == "which" {
				return []byte(binPath + "\n"), nil
			}
			return nil, fmt.Errorf("unexpected command %s", name)
		},
	}
	in := NewInstaller(pm, testLogger(t))

	if got := in.EnginePath(context.Background()); got != binPath {
		t.Errorf("EnginePath = %q, want %q", got, binPath)
	}
}

func TestEnginePath_NotFound(t *testing.T) {
	pm := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("exit status 1")
		},
	}
	in := NewInstaller(pm, testLogger(t))

	if got := in.EnginePath(context.Background()); got != "" {
		t.Errorf("expected empty path, got %q", got)
	}
}
