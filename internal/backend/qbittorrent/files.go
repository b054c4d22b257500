// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
)

const (
	priorityExcluded = 0
	priorityNormal   = 1
)

func mapState(state qbt.TorrentState) backend.Status {
	switch state {
	case qbt.TorrentStateDownloading, qbt.TorrentStateForcedDl:
		return backend.StatusDownloading
	case qbt.TorrentStateMetaDl:
		return backend.StatusMetadata
	case qbt.TorrentStateUploading, qbt.TorrentStateForcedUp, qbt.TorrentStateStalledUp, qbt.TorrentStateQueuedUp:
		return backend.StatusSeeding
	case qbt.TorrentStatePausedDl, qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedDl, qbt.TorrentStateStoppedUp:
		return backend.StatusStopped
	case qbt.TorrentStateCheckingDl, qbt.TorrentStateCheckingUp, qbt.TorrentStateCheckingResumeData,
		qbt.TorrentStateAllocating, qbt.TorrentStateMoving:
		return backend.StatusChecking
	case qbt.TorrentStateQueuedDl, qbt.TorrentStateStalledDl:
		return backend.StatusQueued
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return backend.StatusError
	default:
		return backend.StatusUnknown
	}
}

func toJob(t qbt.Torrent) backend.Job {
	return backend.Job{
		ID:       canonicalizeHash(t.Hash),
		Name:     t.Name,
		Status:   mapState(t.State),
		Size:     t.Size,
		Progress: float64(t.Progress),
	}
}

func (c *Client) Jobs(ctx context.Context) ([]backend.Job, error) {
	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, wrapError(err, "list torrents")
	}

	jobs := make([]backend.Job, 0, len(torrents))
	for _, t := range torrents {
		c.torrents.Set(canonicalizeHash(t.Hash), t, ttlcache.DefaultTTL)
		jobs = append(jobs, toJob(t))
	}
	return jobs, nil
}

func (c *Client) torrent(ctx context.Context, hash string) (qbt.Torrent, error) {
	hash = canonicalizeHash(hash)
	if t, found := c.torrents.Get(hash); found {
		return t, nil
	}

	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return qbt.Torrent{}, wrapError(err, "get torrent")
	}
	for _, t := range torrents {
		if canonicalizeHash(t.Hash) == hash {
			c.torrents.Set(hash, t, ttlcache.DefaultTTL)
			return t, nil
		}
	}
	return qbt.Torrent{}, errors.Wrapf(backend.ErrJobNotFound, "%s", hash)
}

func (c *Client) Job(ctx context.Context, jobID string) (backend.Job, error) {
	t, err := c.torrent(ctx, jobID)
	if err != nil {
		return backend.Job{}, err
	}
	return toJob(t), nil
}

func (c *Client) files(ctx context.Context, hash string) (qbt.TorrentFiles, error) {
	files, err := c.api.GetFilesInformationCtx(ctx, canonicalizeHash(hash))
	if err != nil {
		return nil, wrapError(err, "fetch torrent files")
	}
	if files == nil {
		return nil, nil
	}

	out := make(qbt.TorrentFiles, len(*files))
	copy(out, *files)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Files maps the file list of a torrent to descriptors. A file with priority
// 0 is excluded; any other priority counts as included.
func (c *Client) Files(ctx context.Context, jobID string) ([]filetree.Descriptor, error) {
	files, err := c.files(ctx, jobID)
	if err != nil {
		return nil, err
	}

	descs := make([]filetree.Descriptor, len(files))
	for i, f := range files {
		if f.Index != i {
			return nil, errors.Errorf("qBittorrent file list has a gap at index %d", i)
		}
		descs[i] = filetree.Descriptor{
			Path:     f.Name,
			Size:     f.Size,
			Progress: float64(f.Progress),
			Included: f.Priority != priorityExcluded,
		}
	}
	return descs, nil
}

// SetSelection sets priority 0 on files outside indices and priority 1 on
// files in indices that are currently excluded. Files that stay included keep
// their priority.
func (c *Client) SetSelection(ctx context.Context, jobID string, indices []int) error {
	if !c.SupportsFilePriority() {
		return &backend.ApplicationError{Message: "qBittorrent instance does not support file priority changes (requires WebAPI 2.2.0+)"}
	}

	hash := canonicalizeHash(jobID)
	files, err := c.files(ctx, hash)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return backend.ErrNotReady
	}

	wanted := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(files) {
			return errors.Wrapf(backend.ErrInvalidFileIndex, "%d", idx)
		}
		wanted[idx] = struct{}{}
	}

	var exclude, include []int
	for _, f := range files {
		_, keep := wanted[f.Index]
		switch {
		case !keep && f.Priority != priorityExcluded:
			exclude = append(exclude, f.Index)
		case keep && f.Priority == priorityExcluded:
			include = append(include, f.Index)
		}
	}

	if err := c.setFilePriority(ctx, hash, exclude, priorityExcluded); err != nil {
		return err
	}
	if err := c.setFilePriority(ctx, hash, include, priorityNormal); err != nil {
		return err
	}

	log.Debug().
		Str("hash", hash).
		Int("excluded", len(exclude)).
		Int("included", len(include)).
		Msg("Updated qBittorrent file priorities")
	return nil
}

func (c *Client) setFilePriority(ctx context.Context, hash string, indices []int, priority int) error {
	if len(indices) == 0 {
		return nil
	}

	ids := make([]string, len(indices))
	for i, idx := range indices {
		ids[i] = strconv.Itoa(idx)
	}
	idString := strings.Join(ids, "|")

	if err := c.api.SetFilePriorityCtx(ctx, hash, idString, priority); err != nil {
		switch {
		case errors.Is(err, qbt.ErrInvalidPriority):
			return &backend.ApplicationError{Message: fmt.Sprintf("invalid file priority or file indices: %v", err)}
		default:
			return wrapError(err, "set file priority")
		}
	}
	return nil
}

func (c *Client) requireTrackerEditing() error {
	if !c.SupportsTrackerEditing() {
		return &backend.ApplicationError{Message: "qBittorrent instance does not support tracker editing (requires WebAPI 2.2.0+)"}
	}
	return nil
}

func (c *Client) AddTracker(ctx context.Context, jobID, trackerURL string) error {
	if err := c.requireTrackerEditing(); err != nil {
		return err
	}
	return wrapError(c.api.AddTrackersCtx(ctx, canonicalizeHash(jobID), trackerURL), "add tracker")
}

func (c *Client) RemoveTracker(ctx context.Context, jobID, trackerURL string) error {
	if err := c.requireTrackerEditing(); err != nil {
		return err
	}
	return wrapError(c.api.RemoveTrackersCtx(ctx, canonicalizeHash(jobID), trackerURL), "remove tracker")
}

// ForceAnnounce reannounces the torrent. qBittorrent announces to every
// tracker of the torrent; trackerURL is only logged.
func (c *Client) ForceAnnounce(ctx context.Context, jobID, trackerURL string) error {
	hash := canonicalizeHash(jobID)
	if err := c.api.ReAnnounceTorrentsCtx(ctx, []string{hash}); err != nil {
		return wrapError(err, "reannounce")
	}
	log.Debug().Str("hash", hash).Str("tracker", trackerURL).Msg("Requested qBittorrent reannounce")
	return nil
}
