// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
On-disk storage for uploads and result artifacts.

Uploads and results live in two owner-only directories. Every stored
file gets an unguessable name, so one client cannot enumerate another's
artifacts. Results are one-shot: a successful download deletes the
artifact, and a background sweeper removes anything older than the
retention window in case a client never comes back for its result.
*/
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kodiakml/docbrief/pkg/logging"
	"github.com/kodiakml/docbrief/pkg/validation"
)

// RetentionWindow is how long stored files survive before the sweeper
// removes them.
const RetentionWindow = time.Hour

// SweepInterval is how often the sweeper runs.
const SweepInterval = 10 * time.Minute

// FileStore owns the upload and output directories.
//
// # Thread Safety
//
// Safe for concurrent use; each operation works on its own file and the
// one-shot download relies on os.Remove being atomic per path.
type FileStore struct {
	uploadDir string
	outputDir string
	logger    *logging.Logger
}

// NewFileStore creates the storage directories with owner-only access.
func NewFileStore(uploadDir, outputDir string, logger *logging.Logger) (*FileStore, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}
	return &FileStore{uploadDir: uploadDir, outputDir: outputDir, logger: logger}, nil
}

// SaveUpload stores an uploaded document under an unguessable name.
//
// # Description
//
// The client-supplied filename must already have passed validation; it
// is reduced to its base name and prefixed with a random token. The
// body is copied with a hard size ceiling: exceeding it removes the
// partial file and fails the upload.
//
// # Outputs
//
//   - string: absolute path of the stored file
//   - error: *PipelineError with KindValidation, KindTooLarge, or
//     KindStorage
func (fs *FileStore) SaveUpload(filename string, body io.Reader) (string, error) {
	if !validation.ValidFilename(filename) {
		return "", newPipelineError(KindValidation, "invalid filename", nil)
	}
	name := uniqueName(filepath.Base(filename))
	path := filepath.Join(fs.uploadDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", newPipelineError(KindStorage, "failed to store upload", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", newPipelineError(KindStorage, "failed to store upload", err)
	}
	if n > MaxUploadBytes {
		os.Remove(path)
		return "", newPipelineError(KindTooLarge,
			fmt.Sprintf("file too large (max %dMB)", MaxUploadBytes/(1024*1024)), nil)
	}

	fs.logger.Info("upload stored", "file", name, "bytes", n)
	return path, nil
}

// Remove deletes a stored file, tolerating its absence.
func (fs *FileStore) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fs.logger.Warn("failed to remove file", "path", path, "error", err)
	}
}

// SaveArtifact stores a processing result and returns its download ID.
//
// The ID is the artifact's base name: random token plus the original
// document's stem with an _output.txt suffix.
func (fs *FileStore) SaveArtifact(originalName, content string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	id := uniqueName(stem + "_output.txt")
	path := filepath.Join(fs.outputDir, id)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", newPipelineError(KindStorage, "failed to store result", err)
	}
	fs.logger.Info("artifact stored", "artifact", id, "bytes", len(content))
	return id, nil
}

// Retrieve returns an artifact's content and deletes it.
//
// # Description
//
// Downloads are one-shot: the artifact is removed as part of a
// successful retrieval, so a leaked download link goes stale the moment
// it is used. The ID must be a bare file name; anything resolving
// outside the output directory is rejected.
//
// # Outputs
//
//   - []byte: artifact content
//   - error: *PipelineError with KindValidation, KindNotFound, or
//     KindStorage
func (fs *FileStore) Retrieve(artifactID string) ([]byte, error) {
	if artifactID == "" || artifactID != filepath.Base(artifactID) ||
		strings.Contains(artifactID, "..") {
		return nil, newPipelineError(KindValidation, "invalid artifact id", nil)
	}

	path := filepath.Join(fs.outputDir, artifactID)

	// Confine the resolved path to the output directory.
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, newPipelineError(KindValidation, "invalid artifact id", err)
	}
	absDir, err := filepath.Abs(fs.outputDir)
	if err != nil {
		return nil, newPipelineError(KindStorage, "storage unavailable", err)
	}
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		fs.logger.Warn("path traversal attempt", "artifact", artifactID)
		return nil, newPipelineError(KindValidation, "access denied", nil)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newPipelineError(KindNotFound, "file not found", nil)
		}
		return nil, newPipelineError(KindStorage, "failed to read result", err)
	}

	fs.Remove(absPath)
	fs.logger.Info("artifact downloaded", "artifact", artifactID, "bytes", len(content))
	return content, nil
}

// Sweep removes stored files older than maxAge and reports the count.
func (fs *FileStore) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	for _, dir := range []string{fs.uploadDir, fs.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			fs.logger.Error("sweep failed to read directory", "dir", dir, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				fs.Remove(filepath.Join(dir, entry.Name()))
				cleaned++
			}
		}
	}
	if cleaned > 0 {
		fs.logger.Info("swept expired files", "count", cleaned)
	}
	return cleaned
}

// RunSweeper sweeps on a fixed interval until ctx is cancelled. A zero
// or negative maxAge falls back to RetentionWindow.
func (fs *FileStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = RetentionWindow
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fs.Sweep(maxAge)
		}
	}
}

// uniqueName prefixes a file name with an unguessable token.
func uniqueName(base string) string {
	return uuid.NewString() + "_" + base
}
