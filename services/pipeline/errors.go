// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes document processing failures so transport
// handlers can map them to status codes without string matching.
type ErrorKind int

const (
	// KindValidation means the request itself was malformed.
	KindValidation ErrorKind = iota

	// KindTooLarge means the document exceeds the upload ceiling.
	KindTooLarge

	// KindExtractionFailed means the document could not be parsed.
	KindExtractionFailed

	// KindExtractionEmpty means the document yielded no text.
	KindExtractionEmpty

	// KindInference means the model call failed.
	KindInference

	// KindInferenceTimeout means the model call exceeded its deadline.
	KindInferenceTimeout

	// KindStorage means reading or writing an artifact failed.
	KindStorage

	// KindNotFound means the requested artifact does not exist.
	KindNotFound
)

// String returns the kind name for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindTooLarge:
		return "TOO_LARGE"
	case KindExtractionFailed:
		return "EXTRACTION_FAILED"
	case KindExtractionEmpty:
		return "EXTRACTION_EMPTY"
	case KindInference:
		return "INFERENCE_FAILED"
	case KindInferenceTimeout:
		return "INFERENCE_TIMEOUT"
	case KindStorage:
		return "STORAGE_FAILED"
	case KindNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// maxErrorMessage bounds failure text surfaced to clients. Underlying
// errors can carry file paths and library internals that do not belong
// in a response.
const maxErrorMessage = 200

// PipelineError is a classified document processing failure.
type PipelineError struct {
	// Kind categorizes the failure.
	Kind ErrorKind

	// Message is safe to return to clients.
	Message string

	// Err is the underlying cause, kept for logs only.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// newPipelineError builds a PipelineError with a bounded message.
func newPipelineError(kind ErrorKind, message string, cause error) *PipelineError {
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}
	return &PipelineError{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
