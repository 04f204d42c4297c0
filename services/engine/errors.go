// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"

	"github.com/kodiakml/docbrief/pkg/validation"
)

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// SetupErrorKind categorizes setup-sequence failures for programmatic
// handling. Callers branch on Kind, never on message text.
type SetupErrorKind int

const (
	// KindValidation indicates rejected input (bad model identifier).
	// Always a local, immediate rejection; never retried.
	KindValidation SetupErrorKind = iota

	// KindInstall indicates the engine installer failed (fetch, size
	// bounds, execution, or post-install probe).
	KindInstall

	// KindServiceStart indicates the engine process failed to become
	// healthy (crashed or timed out during startup polling).
	KindServiceStart

	// KindDownloadTimeout indicates a model pull exceeded its wall-clock
	// budget and the subprocess was killed.
	KindDownloadTimeout

	// KindDownloadFailed indicates a model pull exited non-zero.
	KindDownloadFailed

	// KindConfig indicates persisted configuration could not be written.
	// Corrupt reads are recovered with defaults and never surface as this.
	KindConfig
)

// String returns the kind as a stable identifier for logging.
func (k SetupErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindInstall:
		return "INSTALL_FAILED"
	case KindServiceStart:
		return "SERVICE_START_FAILED"
	case KindDownloadTimeout:
		return "DOWNLOAD_TIMEOUT"
	case KindDownloadFailed:
		return "DOWNLOAD_FAILED"
	case KindConfig:
		return "CONFIG_ERROR"
	default:
		return "UNKNOWN"
	}
}

// maxErrorDetail bounds the Detail field so subprocess output cannot leak
// unbounded internal state through an error value.
const maxErrorDetail = 500

// SetupError provides structured information about a setup-sequence
// failure in the shape handlers and logs can use directly.
//
// Message and Detail are sanitized and length-bounded at construction;
// they are safe to surface to a caller.
type SetupError struct {
	// Kind categorizes the error for programmatic handling.
	Kind SetupErrorKind

	// Stage is the setup stage that was active when the failure occurred.
	Stage Stage

	// Message is a short human-readable description.
	Message string

	// Detail carries bounded technical context (subprocess stderr slice,
	// HTTP status, byte counts).
	Detail string

	// ExitCode is the subprocess exit code for KindDownloadFailed; zero
	// otherwise.
	ExitCode int

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Unwrap returns the wrapped cause for errors.Is/As chains.
func (e *SetupError) Unwrap() error {
	return e.Err
}

// newSetupError builds a SetupError with sanitized, bounded fields.
func newSetupError(kind SetupErrorKind, stage Stage, message, detail string, cause error) *SetupError {
	return &SetupError{
		Kind:    kind,
		Stage:   stage,
		Message: validation.SanitizeText(message, maxProgressMessage),
		Detail:  validation.SanitizeText(detail, maxErrorDetail),
		Err:     cause,
	}
}

// KindOf extracts the SetupErrorKind from err, returning ok=false when err
// is not a SetupError.
func KindOf(err error) (SetupErrorKind, bool) {
	var se *SetupError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// ErrSetupInProgress is returned when a setup trigger arrives while a
// previous sequence is still running. The caller should poll status
// instead of retrying.
var ErrSetupInProgress = errors.New("setup already in progress")
