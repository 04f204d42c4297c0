// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "time"

// Timeout constants for engine operations.
//
// Every blocking operation in this package carries one of these named
// timeouts so a misconfigured or hung engine can never stall the service
// indefinitely.
const (
	// AliveProbeTimeout is the budget for a single liveness probe of the
	// engine API. Probes are cheap and frequent; keep this tight.
	AliveProbeTimeout = 2 * time.Second

	// ListModelsTimeout bounds the /api/tags model listing call.
	ListModelsTimeout = 5 * time.Second

	// GenerateTimeout bounds a full non-streaming inference call. Large
	// documents on slow hardware genuinely take minutes.
	GenerateTimeout = 300 * time.Second

	// InstallFetchTimeout bounds downloading the installer script.
	InstallFetchTimeout = 60 * time.Second

	// InstallRunTimeout bounds executing the installer script.
	InstallRunTimeout = 600 * time.Second

	// ServiceStartTimeout is the total window the supervisor waits for a
	// freshly started engine to answer its first liveness probe.
	ServiceStartTimeout = 30 * time.Second

	// ServiceStartPollInterval is the delay between startup liveness probes.
	ServiceStartPollInterval = 1 * time.Second

	// StrayKillSettle is how long to wait after killing stray engine
	// processes before starting a fresh one, so the port is released.
	StrayKillSettle = 2 * time.Second

	// ShutdownGrace is how long a terminated engine gets to exit before
	// it is force-killed.
	ShutdownGrace = 5 * time.Second

	// ModelPullTimeout is the wall-clock ceiling on a model download.
	ModelPullTimeout = 1800 * time.Second

	// MinOperationTimeout is the absolute floor for any configurable
	// timeout in this package.
	MinOperationTimeout = 1 * time.Second
)

// EnforceMinTimeout returns at least the minimum timeout.
//
// A zero, negative, or below-minimum requested value comes back as the
// minimum, so configuration mistakes cannot produce infinite hangs.
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}
