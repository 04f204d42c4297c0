// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
)

type DocBriefConfig struct {
	// Server controls the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Engine controls the local inference engine.
	Engine EngineConfig `yaml:"engine"`

	// Storage controls where uploads, artifacts, and state live.
	Storage StorageConfig `yaml:"storage"`

	// Logging controls log output.
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"` // e.g. 127.0.0.1:8080

	// RateLimit is the per-client request ceiling within RateWindowSecs.
	RateLimit      int `yaml:"rate_limit"`
	RateWindowSecs int `yaml:"rate_window_secs"`
}

type EngineConfig struct {
	// BaseURL is the engine's HTTP API address.
	BaseURL string `yaml:"base_url"`

	// DefaultModel is pulled during auto-setup when no model is named.
	DefaultModel string `yaml:"default_model"`

	// GenerateTimeoutSecs bounds a single inference call. Zero keeps the
	// built-in default.
	GenerateTimeoutSecs int `yaml:"generate_timeout_secs"`
}

type StorageConfig struct {
	// DataDir holds uploads, artifacts, the prompt, and engine state.
	DataDir string `yaml:"data_dir"`

	// RetentionSecs is how long uploads and outputs survive before the
	// background sweeper removes them. Zero keeps the built-in default.
	RetentionSecs int `yaml:"retention_secs"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // empty disables the file sink
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() DocBriefConfig {
	return DocBriefConfig{
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			RateLimit:      10,
			RateWindowSecs: 60,
		},
		Engine: EngineConfig{
			BaseURL:             "http://127.0.0.1:11434",
			DefaultModel:        "llama2",
			GenerateTimeoutSecs: 300,
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			RetentionSecs: 3600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docbrief/data"
	}
	return filepath.Join(home, ".docbrief", "data")
}
