// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Engine installation.

# Problem Statement

First-run users do not have the inference engine installed. Asking them
to run a vendor install script by hand defeats the point of one-click
setup, but running a downloaded script automatically demands care: the
download must be bounded, the script must run with a stripped
environment, and the temp file must never linger.

# Solution

Installer fetches the vendor install script over HTTPS with a hard
size ceiling, sanity-checks the size (an error page is tiny, a tampered
payload is huge), writes it owner-executable, runs it through the
ProcessManager with only PATH in the environment, removes it
unconditionally, and then re-probes the binary to confirm the install
actually took.
*/
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kodiakml/docbrief/pkg/logging"
)

// Install script bounds. The vendor script is a few tens of kilobytes;
// anything outside this range is either an error page or not the script
// we expect.
const (
	maxInstallScriptSize = 1_000_000
	minInstallScriptSize = 100
)

// DefaultInstallScriptURL is where the engine's install script lives.
const DefaultInstallScriptURL = "https://ollama.com/install.sh"

// engineBinary is the engine executable name probed on PATH.
const engineBinary = "ollama"

// Installer downloads and runs the engine install script.
type Installer struct {
	pm        ProcessManager
	logger    *logging.Logger
	scriptURL string
	tempDir   string

	// httpClient fetches the install script. Overridable for tests.
	httpClient *http.Client

	// settle is the pause between installer completion and the verify
	// probe; a fresh install can take a moment to land on PATH.
	settle time.Duration
}

// NewInstaller creates an Installer using the given process manager.
func NewInstaller(pm ProcessManager, logger *logging.Logger) *Installer {
	return &Installer{
		pm:         pm,
		logger:     logger,
		scriptURL:  DefaultInstallScriptURL,
		tempDir:    os.TempDir(),
		httpClient: &http.Client{Timeout: InstallFetchTimeout},
		settle:     2 * time.Second,
	}
}

// CheckInstalled probes for the engine binary by running it.
//
// Returns the version output and true when the binary responds.
func (in *Installer) CheckInstalled(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, ListModelsTimeout)
	defer cancel()

	out, err := in.pm.Run(ctx, engineBinary, "--version")
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// EnginePath resolves the engine binary location via `which`.
//
// Returns an empty string when the binary is not on PATH or the resolved
// path does not point at a regular file.
func (in *Installer) EnginePath(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, ListModelsTimeout)
	defer cancel()

	out, err := in.pm.Run(ctx, "which", engineBinary)
	if err != nil {
		return ""
	}
	path := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}

// Install downloads and runs the engine install script.
//
// # Description
//
// Fetches the script with a hard size ceiling, validates the size,
// writes it to the temp dir with 0700 permissions, executes it with an
// environment containing only PATH, and verifies the binary responds
// afterwards. The script file is removed whether or not the install
// succeeds.
//
// # Outputs
//
//   - error: *SetupError with KindInstall on any failure, including a
//     successful script run that still leaves the binary missing
func (in *Installer) Install(ctx context.Context) error {
	scriptPath := filepath.Join(in.tempDir, "engine_install.sh")

	in.logger.Info("downloading engine install script", "url", in.scriptURL)
	if err := in.fetchScript(ctx, scriptPath); err != nil {
		os.Remove(scriptPath)
		return err
	}
	defer os.Remove(scriptPath)

	in.logger.Info("running engine installer", "script", scriptPath)
	if err := in.runScript(ctx, scriptPath); err != nil {
		return err
	}

	time.Sleep(in.settle)
	version, ok := in.CheckInstalled(ctx)
	if !ok {
		return newSetupError(KindInstall, StageInstalling,
			"installer finished but engine binary not found on PATH", "", nil)
	}
	in.logger.Info("engine installed", "version", version)
	return nil
}

// fetchScript downloads the install script to dst with size bounds.
func (in *Installer) fetchScript(ctx context.Context, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, InstallFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.scriptURL, nil)
	if err != nil {
		return newSetupError(KindInstall, StageInstalling, "building download request", "", err)
	}
	resp, err := in.httpClient.Do(req)
	if err != nil {
		return newSetupError(KindInstall, StageInstalling,
			"downloading install script failed, check network connection", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newSetupError(KindInstall, StageInstalling,
			"install script download failed",
			fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o700)
	if err != nil {
		return newSetupError(KindInstall, StageInstalling, "creating script file", "", err)
	}

	// Read one byte past the ceiling so an oversized body is detectable.
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxInstallScriptSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return newSetupError(KindInstall, StageInstalling, "writing script file", "", err)
	}
	if n > maxInstallScriptSize || n < minInstallScriptSize {
		return newSetupError(KindInstall, StageInstalling,
			"install script size suspicious",
			fmt.Sprintf("%d bytes", n), nil)
	}
	return nil
}

// runScript executes the install script with a PATH-only environment.
func (in *Installer) runScript(ctx context.Context, scriptPath string) error {
	ctx, cancel := context.WithTimeout(ctx, InstallRunTimeout)
	defer cancel()

	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	env := []string{"PATH=" + path}

	out, err := in.pm.RunWithEnv(ctx, env, "sh", scriptPath)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return newSetupError(KindInstall, StageInstalling,
				"installation timeout, check network connection", "", err)
		}
		return newSetupError(KindInstall, StageInstalling,
			"install script failed", err.Error(), err)
	}
	if len(out) > 0 {
		in.logger.Debug("installer output", "head", string(out[:min(len(out), 200)]))
	}
	return nil
}
