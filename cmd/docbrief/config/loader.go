// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the DocBrief configuration file.
//
// # Problem Statement
//
// The service needs a single place for operator-tunable settings that
// survives restarts, works on first run without any manual step, and
// never refuses to start over a damaged file.
//
// # Solution
//
// A YAML file at ~/.docbrief/docbrief.yaml, created with defaults on
// first run. A file that cannot be parsed is replaced with defaults
// rather than aborting startup; the engine can always come up and the
// operator can re-edit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global DocBriefConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return loadFrom(filepath.Join(home, ".docbrief", "docbrief.yaml"))
}

// loadFrom reads path into Global, creating or repairing it as needed.
func loadFrom(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", path)
		if err := writeDefault(path); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// A corrupt config is recoverable: reset to defaults instead of
		// refusing to start.
		fmt.Printf("Config at %s is invalid (%v), resetting to defaults\n", path, err)
		if err := writeDefault(path); err != nil {
			return err
		}
		cfg = DefaultConfig()
	}

	Global = cfg
	return nil
}

func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	// The config never holds secrets today, but the directory can grow
	// them; keep it private from the start.
	return os.WriteFile(path, data, 0600)
}
