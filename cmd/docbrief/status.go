// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kodiakml/docbrief/services/engine"
)

// runStatus queries a running service and prints its setup state.
func runStatus(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/setup_status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "DocBrief is not reachable at %s: %v\n", serverURL, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read status response: %v\n", err)
		os.Exit(1)
	}

	var status engine.Status
	if err := json.Unmarshal(body, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Unexpected status response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Engine installed:  %v\n", status.EngineInstalled)
	fmt.Printf("Engine running:    %v\n", status.EngineRunning)
	fmt.Printf("Model:             %s (downloaded: %v)\n", status.ModelName, status.ModelDownloaded)
	fmt.Printf("Setup complete:    %v\n", status.SetupComplete)
	fmt.Printf("Ready:             %v\n", status.Ready)
	if status.Progress.Stage != "" && !status.Ready {
		fmt.Printf("Progress:          [%d%%] %s %s\n",
			status.Progress.Progress, status.Progress.Stage, status.Progress.Message)
	}
	if status.Progress.Error != "" {
		fmt.Printf("Last error:        %s\n", status.Progress.Error)
	}
}
