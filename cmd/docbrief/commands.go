// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	listenAddr string // CLI override for server.listen
	dataDir    string // CLI override for storage.data_dir
	logLevel   string // CLI override for logging.level
	serverURL  string // target for the status command

	rootCmd = &cobra.Command{
		Use:   "docbrief",
		Short: "A local-first PDF analysis service backed by a private LLM",
		Long: `DocBrief runs a fully local document analysis stack: it installs
and supervises the inference engine, pulls the chosen model, and serves
an HTTP API for PDF upload, summarization, and result download.

No document or query ever leaves your machine.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the DocBrief HTTP service",
		Run:   runServe, // Defined in serve.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Query the setup status of a running DocBrief service",
		Run:   runStatus, // Defined in status.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the DocBrief version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("docbrief", Version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	statusCmd.Flags().StringVar(&serverURL, "url", "http://127.0.0.1:8080", "Base URL of the running service")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
