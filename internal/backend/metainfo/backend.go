// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metainfo serves jobs from a directory of .torrent files. The file
// selection of each torrent is kept in the database, and progress is read
// from an optional download directory.
package metainfo

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
	"github.com/autobrr/dlfiles/internal/models"
)

const backendName = "metainfo"

// SelectionStore persists included-file sets.
type SelectionStore interface {
	Get(ctx context.Context, backend, jobID string) (*models.FileSelection, bool, error)
	Save(ctx context.Context, backend, jobID string, indices []int) (*models.FileSelection, error)
	Delete(ctx context.Context, backend, jobID string) error
	JobIDs(ctx context.Context, backend string) ([]string, error)
}

type Config struct {
	// TorrentDir is scanned for *.torrent files.
	TorrentDir string
	// DataDir, when set, is where payload files are looked up to compute
	// progress.
	DataDir string
}

type torrentFile struct {
	length int64
	path   string
	// padding marks a BEP 47 alignment file. It is never written to disk
	// and stays part of every stored selection.
	padding bool
}

func isPaddingPath(p []string) bool {
	return len(p) == 2 && p[0] == ".pad"
}

type entry struct {
	modTime  time.Time
	infoHash string
	name     string
	files    []torrentFile
}

// Backend implements backend.Service over local metainfo files.
type Backend struct {
	cfg   Config
	store SelectionStore
	log   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry // keyed by .torrent path
}

var (
	_ backend.Service = (*Backend)(nil)
	_ backend.Pinger  = (*Backend)(nil)
)

func New(cfg Config, store SelectionStore) (*Backend, error) {
	if cfg.TorrentDir == "" {
		return nil, errors.New("metainfo backend requires a torrent directory")
	}
	if store == nil {
		return nil, errors.New("metainfo backend requires a selection store")
	}
	return &Backend{
		cfg:     cfg,
		store:   store,
		log:     log.With().Str("module", "metainfo").Logger(),
		entries: make(map[string]*entry),
	}, nil
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Ping(context.Context) error {
	info, err := os.Stat(b.cfg.TorrentDir)
	if err != nil {
		return backend.Unreachable(err)
	}
	if !info.IsDir() {
		return backend.Unreachable(errors.Errorf("%s is not a directory", b.cfg.TorrentDir))
	}
	return nil
}

// scan parses every .torrent file in the directory, reusing entries whose
// modification time has not changed.
func (b *Backend) scan() ([]*entry, error) {
	dirEntries, err := os.ReadDir(b.cfg.TorrentDir)
	if err != nil {
		return nil, backend.Unreachable(errors.Wrap(err, "read torrent directory"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(dirEntries))
	out := make([]*entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".torrent") {
			continue
		}
		full := filepath.Join(b.cfg.TorrentDir, de.Name())
		seen[full] = struct{}{}

		fi, err := de.Info()
		if err != nil {
			b.log.Warn().Err(err).Str("file", full).Msg("Failed to stat torrent file")
			continue
		}

		if cached, ok := b.entries[full]; ok && cached.modTime.Equal(fi.ModTime()) {
			out = append(out, cached)
			continue
		}

		e, err := parseTorrent(full)
		if err != nil {
			b.log.Warn().Err(err).Str("file", full).Msg("Skipping unreadable torrent file")
			continue
		}
		e.modTime = fi.ModTime()
		b.entries[full] = e
		out = append(out, e)
	}

	for p := range b.entries {
		if _, ok := seen[p]; !ok {
			delete(b.entries, p)
		}
	}
	return out, nil
}

func parseTorrent(file string) (*entry, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mi, err := metainfo.Load(f)
	if err != nil {
		return nil, errors.Wrap(err, "load metainfo")
	}

	var info metainfo.Info
	if err := bencode.Unmarshal(mi.InfoBytes, &info); err != nil {
		return nil, errors.Wrap(err, "unmarshal torrent info")
	}

	e := &entry{
		infoHash: mi.HashInfoBytes().HexString(),
		name:     info.Name,
	}

	if len(info.Files) == 0 {
		e.files = []torrentFile{{length: info.Length, path: info.Name}}
		return e, nil
	}

	e.files = make([]torrentFile, len(info.Files))
	for i, fi := range info.Files {
		e.files[i] = torrentFile{
			length:  fi.Length,
			path:    path.Join(append([]string{info.Name}, fi.Path...)...),
			padding: isPaddingPath(fi.Path),
		}
	}
	return e, nil
}

func (b *Backend) find(jobID string) (*entry, error) {
	entries, err := b.scan()
	if err != nil {
		return nil, err
	}
	id := strings.ToLower(strings.TrimSpace(jobID))
	for _, e := range entries {
		if e.infoHash == id {
			return e, nil
		}
	}
	return nil, errors.Wrapf(backend.ErrJobNotFound, "%s", jobID)
}

// progress returns the on-disk completion of each file. Without a data
// directory every file reports 0.
func (b *Backend) progress(e *entry) []float64 {
	out := make([]float64, len(e.files))
	if b.cfg.DataDir == "" {
		return out
	}
	for i, f := range e.files {
		if f.length <= 0 || f.padding {
			out[i] = 1
			continue
		}
		fi, err := os.Stat(filepath.Join(b.cfg.DataDir, filepath.FromSlash(f.path)))
		if err != nil {
			continue
		}
		out[i] = min(1, float64(fi.Size())/float64(f.length))
	}
	return out
}

func (b *Backend) selection(ctx context.Context, e *entry) (map[int]struct{}, bool, error) {
	sel, found, err := b.store.Get(ctx, backendName, e.infoHash)
	if err != nil || !found {
		return nil, false, err
	}
	set := make(map[int]struct{}, len(sel.Indices))
	for _, idx := range sel.Indices {
		set[idx] = struct{}{}
	}
	return set, true, nil
}

func (b *Backend) toJob(ctx context.Context, e *entry) (backend.Job, error) {
	descs, err := b.descriptors(ctx, e)
	if err != nil {
		return backend.Job{}, err
	}

	job := backend.Job{
		ID:     e.infoHash,
		Name:   e.name,
		Status: backend.StatusStopped,
		Files:  len(descs),
	}

	var wanted, done float64
	complete := true
	for _, d := range descs {
		job.Size += d.Size
		if !d.Included {
			continue
		}
		wanted += float64(d.Size)
		done += float64(d.Size) * d.Progress
		if d.Progress < 1 {
			complete = false
		}
	}
	if wanted > 0 {
		job.Progress = done / wanted
	}
	if b.cfg.DataDir != "" && complete {
		job.Status = backend.StatusSeeding
	}
	return job, nil
}

func (b *Backend) Jobs(ctx context.Context) ([]backend.Job, error) {
	entries, err := b.scan()
	if err != nil {
		return nil, err
	}

	jobs := make([]backend.Job, 0, len(entries))
	for _, e := range entries {
		job, err := b.toJob(ctx, e)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (b *Backend) Job(ctx context.Context, jobID string) (backend.Job, error) {
	e, err := b.find(jobID)
	if err != nil {
		return backend.Job{}, err
	}
	return b.toJob(ctx, e)
}

func (b *Backend) descriptors(ctx context.Context, e *entry) ([]filetree.Descriptor, error) {
	selected, stored, err := b.selection(ctx, e)
	if err != nil {
		return nil, err
	}
	progress := b.progress(e)

	descs := make([]filetree.Descriptor, len(e.files))
	for i, f := range e.files {
		included := true
		if stored && !f.padding {
			_, included = selected[i]
		}
		descs[i] = filetree.Descriptor{
			Path:     f.path,
			Size:     f.length,
			Progress: progress[i],
			Included: included,
		}
	}
	return descs, nil
}

// Files lists the torrent's files. Jobs with no stored selection have every
// file included.
func (b *Backend) Files(ctx context.Context, jobID string) ([]filetree.Descriptor, error) {
	e, err := b.find(jobID)
	if err != nil {
		return nil, err
	}
	return b.descriptors(ctx, e)
}

func (b *Backend) SetSelection(ctx context.Context, jobID string, indices []int) error {
	e, err := b.find(jobID)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(e.files) {
			return errors.Wrapf(backend.ErrInvalidFileIndex, "%d", idx)
		}
	}
	indices = withPadding(e, indices)

	if _, err := b.store.Save(ctx, backendName, e.infoHash, indices); err != nil {
		return errors.Wrap(err, "save selection")
	}

	b.log.Debug().Str("job", e.infoHash).Ints("indices", indices).Msg("Stored file selection")
	return nil
}

// withPadding adds the padding files of e to indices.
func withPadding(e *entry, indices []int) []int {
	out := slices.Clone(indices)
	for i, f := range e.files {
		if f.padding {
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Prune deletes the stored selections of torrents that are no longer in the
// torrent directory and returns how many were removed.
func (b *Backend) Prune(ctx context.Context) (int, error) {
	entries, err := b.scan()
	if err != nil {
		return 0, err
	}
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		present[e.infoHash] = struct{}{}
	}

	stored, err := b.store.JobIDs(ctx, backendName)
	if err != nil {
		return 0, errors.Wrap(err, "list selections")
	}

	removed := 0
	for _, jobID := range stored {
		if _, ok := present[jobID]; ok {
			continue
		}
		if err := b.store.Delete(ctx, backendName, jobID); err != nil {
			return removed, errors.Wrapf(err, "delete selection %s", jobID)
		}
		removed++
	}
	if removed > 0 {
		b.log.Info().Int("removed", removed).Msg("Pruned selections of removed torrents")
	}
	return removed, nil
}
