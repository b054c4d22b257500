// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backend defines the contract between dlfiles and the download
// engines it can drive.
package backend

import (
	"context"

	"github.com/autobrr/dlfiles/internal/filetree"
)

// Status is the coarse state of a download job.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusMetadata    Status = "metadata"
	StatusDownloading Status = "downloading"
	StatusSeeding     Status = "seeding"
	StatusStopped     Status = "stopped"
	StatusChecking    Status = "checking"
	StatusQueued      Status = "queued"
	StatusError       Status = "error"
)

// ActivelyProgressing reports whether the file list of a job in this state
// changes on its own and must be polled.
func (s Status) ActivelyProgressing() bool {
	switch s {
	case StatusDownloading, StatusMetadata:
		return true
	default:
		return false
	}
}

// Job is a download as reported by a backend.
type Job struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Status   Status  `json:"status"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Files    int     `json:"files"`
}

// Service is a download engine that can list the files of a job and change
// which of them are downloaded.
type Service interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Jobs(ctx context.Context) ([]Job, error)
	Job(ctx context.Context, jobID string) (Job, error)
	// Files returns the flat file list of a job. Position in the slice is
	// the file index the backend understands. An empty list means the
	// metadata is not available yet.
	Files(ctx context.Context, jobID string) ([]filetree.Descriptor, error)
	// SetSelection replaces the included set of a job. Indices not listed
	// are excluded.
	SetSelection(ctx context.Context, jobID string, indices []int) error
}

// TrackerManager is implemented by backends that expose tracker operations.
type TrackerManager interface {
	AddTracker(ctx context.Context, jobID, trackerURL string) error
	ForceAnnounce(ctx context.Context, jobID, trackerURL string) error
	RemoveTracker(ctx context.Context, jobID, trackerURL string) error
}

// Pinger is implemented by backends that can verify connectivity up front.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsPseudoTracker reports whether url names a peer source that is not a real
// tracker and cannot be announced to or removed.
func IsPseudoTracker(url string) bool {
	switch url {
	case "[DHT]", "[PeX]", "[LSD]":
		return true
	default:
		return false
	}
}
