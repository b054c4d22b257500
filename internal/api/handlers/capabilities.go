// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"github.com/autobrr/dlfiles/internal/backend"
)

// BackendCapabilitiesResponse describes which actions the backend supports.
type BackendCapabilitiesResponse struct {
	Backend                string `json:"backend"`
	SupportsFileSelection  bool   `json:"supportsFileSelection"`
	SupportsTrackerEditing bool   `json:"supportsTrackerEditing"`
	SupportsForceAnnounce  bool   `json:"supportsForceAnnounce"`
	WebAPIVersion          string `json:"webAPIVersion,omitempty"`
}

type filePriorityGate interface {
	SupportsFilePriority() bool
}

type trackerEditingGate interface {
	SupportsTrackerEditing() bool
}

type versioned interface {
	WebAPIVersion() string
}

// NewBackendCapabilitiesResponse inspects svc for optional interfaces and
// version gates.
func NewBackendCapabilitiesResponse(svc backend.Service) BackendCapabilitiesResponse {
	capabilities := BackendCapabilitiesResponse{
		Backend:               svc.Name(),
		SupportsFileSelection: true,
	}

	if _, ok := svc.(backend.TrackerManager); ok {
		capabilities.SupportsTrackerEditing = true
		capabilities.SupportsForceAnnounce = true
	}
	if gate, ok := svc.(filePriorityGate); ok {
		capabilities.SupportsFileSelection = gate.SupportsFilePriority()
	}
	if gate, ok := svc.(trackerEditingGate); ok {
		capabilities.SupportsTrackerEditing = gate.SupportsTrackerEditing()
	}
	if v, ok := svc.(versioned); ok {
		capabilities.WebAPIVersion = v.WebAPIVersion()
	}

	return capabilities
}
