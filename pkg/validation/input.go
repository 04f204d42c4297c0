// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file paths, subprocess arguments, or inference prompts. Using these
// validators prevents injection attacks (command injection through model
// names, path traversal through filenames) and keeps free text bounded
// before it crosses a process boundary.
//
// All functions are pure: no state, no side effects, safe for concurrent use.
package validation

import (
	"strings"
)

// MaxFilenameLength is the longest filename accepted for upload.
const MaxFilenameLength = 255

// MaxModelNameLength is the longest model identifier accepted.
const MaxModelNameLength = 50

// allowedExtensions is the fixed set of document extensions the pipeline
// accepts. Lookup is case-insensitive.
var allowedExtensions = map[string]bool{
	"pdf": true,
}

// allowedModels is the fixed allow-list of model identifiers. A candidate is
// accepted only if it equals an entry exactly or extends one with a colon
// suffix ("llama2:13b"). This is a strict allow-list, not a blocklist:
// model names are passed to a subprocess, and anything outside this set is
// rejected outright.
var allowedModels = map[string]bool{
	"llama2": true, "llama2:7b": true, "llama2:13b": true, "llama2:70b": true,
	"llama3": true, "llama3:8b": true, "llama3.2": true, "llama3.2:1b": true, "llama3.2:3b": true,
	"mistral": true, "mistral:7b": true,
	"phi": true, "phi:2.7b": true, "phi3": true,
	"codellama": true, "codellama:7b": true,
	"gemma": true, "gemma:2b": true, "gemma:7b": true,
}

// ValidFilename reports whether name is safe to use as an upload filename.
//
// # Description
//
// Rejects anything that could escape the upload directory or smuggle an
// unexpected file type into the pipeline:
//
//   - empty names
//   - names containing a path separator ("/" or "\") or a ".." sequence
//   - names longer than MaxFilenameLength
//   - names whose extension is not in the allowed set (case-insensitive)
//
// # Examples
//
//	ValidFilename("report.pdf")        // true
//	ValidFilename("Report.PDF")        // true
//	ValidFilename("../etc/passwd")     // false
//	ValidFilename("report.pdf.exe")    // false
//
// # Limitations
//
//   - Does not normalize Unicode; visually confusable names pass if the
//     byte-level checks pass.
func ValidFilename(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	if len(name) > MaxFilenameLength {
		return false
	}
	dot := strings.LastIndex(name, ".")
	if dot < 0 || dot == len(name)-1 {
		return false
	}
	ext := strings.ToLower(name[dot+1:])
	return allowedExtensions[ext]
}

// ValidModelName reports whether name is an allow-listed model identifier.
//
// # Description
//
// Normalizes case and surrounding whitespace, then accepts only exact
// matches of allow-list entries or colon-suffixed variants of them
// ("llama2:70b" extends "llama2"). Everything else is rejected, including
// names longer than MaxModelNameLength.
//
// Model names are interpolated into subprocess argument lists; the strict
// allow-list is what makes that safe.
//
// # Examples
//
//	ValidModelName("llama2")       // true
//	ValidModelName("LLAMA2")       // true (case-insensitive)
//	ValidModelName("llama2:13b")   // true
//	ValidModelName("llama2; rm")   // false
func ValidModelName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(name) > MaxModelNameLength {
		return false
	}
	if allowedModels[name] {
		return true
	}
	for allowed := range allowedModels {
		if strings.HasPrefix(name, allowed+":") {
			return true
		}
	}
	return false
}

// NormalizeModelName lowercases and trims a model identifier so comparisons
// against catalog entries and the allow-list agree with ValidModelName.
func NormalizeModelName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SanitizeText bounds and cleans free text before it is stored, logged, or
// sent to the inference engine.
//
// # Description
//
// Applies, in order:
//
//  1. truncation to maxLength runes (non-positive maxLength yields "")
//  2. removal of NUL bytes
//  3. escaping of angle brackets ("<" -> "&lt;", ">" -> "&gt;")
//
// SanitizeText never fails; it always returns a best-effort string. Note
// that escaping happens after truncation, so the result may be slightly
// longer than maxLength bytes when brackets are present. Callers that need
// a hard byte bound should truncate again after escaping.
//
// # Examples
//
//	SanitizeText("<script>", 100)      // "&lt;script&gt;"
//	SanitizeText("abcdef", 3)          // "abc"
func SanitizeText(text string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) > maxLength {
		text = string(runes[:maxLength])
	}
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
