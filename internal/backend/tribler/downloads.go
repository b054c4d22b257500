// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tribler

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
)

// Tribler download status codes.
const (
	statusAllocatingDiskspace = 0
	statusWaitingForHashcheck = 1
	statusHashchecking        = 2
	statusDownloading         = 3
	statusSeeding             = 4
	statusStopped             = 5
	statusStoppedOnError      = 6
	statusMetadata            = 7
	statusLoading             = 8
	statusExitNodes           = 9
)

func mapStatus(code int) backend.Status {
	switch code {
	case statusDownloading:
		return backend.StatusDownloading
	case statusMetadata:
		return backend.StatusMetadata
	case statusSeeding:
		return backend.StatusSeeding
	case statusStopped:
		return backend.StatusStopped
	case statusStoppedOnError:
		return backend.StatusError
	case statusAllocatingDiskspace, statusWaitingForHashcheck, statusHashchecking:
		return backend.StatusChecking
	case statusLoading, statusExitNodes:
		return backend.StatusQueued
	default:
		return backend.StatusUnknown
	}
}

type download struct {
	Name       string  `json:"name"`
	Infohash   string  `json:"infohash"`
	StatusCode int     `json:"status_code"`
	Size       int64   `json:"size"`
	Progress   float64 `json:"progress"`
	NumFiles   int     `json:"num_files"`
}

type downloadsResponse struct {
	Downloads []download `json:"downloads"`
}

type file struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Included bool    `json:"included"`
	Progress float64 `json:"progress"`
}

type filesResponse struct {
	Infohash string `json:"infohash"`
	Files    []file `json:"files"`
}

func (d download) job() backend.Job {
	return backend.Job{
		ID:       strings.ToLower(d.Infohash),
		Name:     d.Name,
		Status:   mapStatus(d.StatusCode),
		Size:     d.Size,
		Progress: d.Progress,
		Files:    d.NumFiles,
	}
}

func (c *Client) Jobs(ctx context.Context) ([]backend.Job, error) {
	var out downloadsResponse
	if err := c.do(ctx, http.MethodGet, "/downloads", nil, nil, &out); err != nil {
		return nil, errors.Wrap(err, "list downloads")
	}

	jobs := make([]backend.Job, 0, len(out.Downloads))
	for _, d := range out.Downloads {
		jobs = append(jobs, d.job())
	}
	return jobs, nil
}

func (c *Client) Job(ctx context.Context, jobID string) (backend.Job, error) {
	query := url.Values{"infohash": {strings.ToLower(jobID)}}

	var out downloadsResponse
	if err := c.do(ctx, http.MethodGet, "/downloads", query, nil, &out); err != nil {
		return backend.Job{}, errors.Wrap(err, "get download")
	}
	for _, d := range out.Downloads {
		if strings.EqualFold(d.Infohash, jobID) {
			return d.job(), nil
		}
	}
	return backend.Job{}, errors.Wrapf(backend.ErrJobNotFound, "%s", jobID)
}

// Files returns the descriptors ordered by the file index Tribler reports.
func (c *Client) Files(ctx context.Context, jobID string) ([]filetree.Descriptor, error) {
	var out filesResponse
	if err := c.do(ctx, http.MethodGet, escape(jobID)+"/files", nil, nil, &out); err != nil {
		return nil, errors.Wrap(err, "get download files")
	}

	files := out.Files
	sort.SliceStable(files, func(i, j int) bool { return files[i].Index < files[j].Index })

	descs := make([]filetree.Descriptor, len(files))
	for i, f := range files {
		if f.Index != i {
			return nil, errors.Errorf("tribler file list has a gap at index %d", i)
		}
		descs[i] = filetree.Descriptor{
			Path:     f.Name,
			Size:     f.Size,
			Progress: f.Progress,
			Included: f.Included,
		}
	}
	return descs, nil
}

type selectionRequest struct {
	SelectedFiles []int `json:"selected_files"`
}

func (c *Client) SetSelection(ctx context.Context, jobID string, indices []int) error {
	if indices == nil {
		indices = []int{}
	}
	if err := c.do(ctx, http.MethodPatch, escape(jobID), nil, selectionRequest{SelectedFiles: indices}, nil); err != nil {
		return errors.Wrap(err, "set download files")
	}
	return nil
}

type trackerRequest struct {
	URL string `json:"url"`
}

func (c *Client) ForceAnnounce(ctx context.Context, jobID, trackerURL string) error {
	if err := c.do(ctx, http.MethodPut, escape(jobID)+"/tracker_force_announce", nil, trackerRequest{URL: trackerURL}, nil); err != nil {
		return errors.Wrap(err, "force announce")
	}
	return nil
}

func (c *Client) AddTracker(ctx context.Context, jobID, trackerURL string) error {
	if err := c.do(ctx, http.MethodPut, escape(jobID)+"/trackers", nil, trackerRequest{URL: trackerURL}, nil); err != nil {
		return errors.Wrap(err, "add tracker")
	}
	return nil
}

func (c *Client) RemoveTracker(ctx context.Context, jobID, trackerURL string) error {
	if err := c.do(ctx, http.MethodDelete, escape(jobID)+"/trackers", nil, trackerRequest{URL: trackerURL}, nil); err != nil {
		return errors.Wrap(err, "remove tracker")
	}
	return nil
}
