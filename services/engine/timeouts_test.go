// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"testing"
	"time"
)

func TestEnforceMinTimeout(t *testing.T) {
	minimum := 1 * time.Second
	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero becomes minimum", 0, minimum},
		{"negative becomes minimum", -5 * time.Second, minimum},
		{"below minimum becomes minimum", 200 * time.Millisecond, minimum},
		{"at minimum kept", 1 * time.Second, 1 * time.Second},
		{"above minimum kept", 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnforceMinTimeout(tt.requested, minimum); got != tt.want {
				t.Errorf("EnforceMinTimeout(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}
