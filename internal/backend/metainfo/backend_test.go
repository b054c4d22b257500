// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metainfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/database"
	"github.com/autobrr/dlfiles/internal/models"
)

// writeTorrent builds a torrent over files created under dataDir/name and
// writes it to torrentDir. It returns the infohash.
func writeTorrent(t *testing.T, torrentDir, dataDir, name string, files map[string]string) string {
	t.Helper()

	for rel, content := range files {
		p := filepath.Join(dataDir, name, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	info := metainfo.Info{Name: name, PieceLength: 16 * 1024}
	require.NoError(t, info.BuildFromFilePath(filepath.Join(dataDir, name)))
	info.Name = name

	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker.example.com:8080/announce"}},
		InfoBytes:    infoBytes,
	}

	f, err := os.Create(filepath.Join(torrentDir, name+".torrent"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, mi.Write(f))

	return mi.HashInfoBytes().HexString()
}

func newTestBackend(t *testing.T, dataDir string) (*Backend, string) {
	t.Helper()

	db, err := database.New(database.InMemory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	torrentDir := t.TempDir()
	b, err := New(Config{TorrentDir: torrentDir, DataDir: dataDir}, models.NewSelectionStore(db))
	require.NoError(t, err)
	return b, torrentDir
}

func TestBackend_FilesAndSelection(t *testing.T) {
	dataDir := t.TempDir()
	b, torrentDir := newTestBackend(t, dataDir)
	ctx := context.Background()

	hash := writeTorrent(t, torrentDir, dataDir, "Show", map[string]string{
		"a/b.txt": "bbbb",
		"a/c.txt": "cccccccc",
		"d.txt":   "dd",
	})

	descs, err := b.Files(ctx, hash)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	paths := make([]string, len(descs))
	for i, d := range descs {
		paths[i] = d.Path
		assert.True(t, d.Included, "default selection includes %s", d.Path)
		assert.InDelta(t, 1.0, d.Progress, 1e-9)
	}
	assert.ElementsMatch(t, []string{"Show/a/b.txt", "Show/a/c.txt", "Show/d.txt"}, paths)

	require.NoError(t, b.SetSelection(ctx, hash, []int{1}))
	descs, err = b.Files(ctx, hash)
	require.NoError(t, err)
	assert.False(t, descs[0].Included)
	assert.True(t, descs[1].Included)
	assert.False(t, descs[2].Included)

	assert.ErrorIs(t, b.SetSelection(ctx, hash, []int{3}), backend.ErrInvalidFileIndex)

	require.NoError(t, b.SetSelection(ctx, hash, []int{}))
	descs, err = b.Files(ctx, hash)
	require.NoError(t, err)
	for _, d := range descs {
		assert.False(t, d.Included)
	}
}

func TestBackend_JobsAndProgress(t *testing.T) {
	dataDir := t.TempDir()
	b, torrentDir := newTestBackend(t, dataDir)
	ctx := context.Background()

	hash := writeTorrent(t, torrentDir, dataDir, "Movie", map[string]string{
		"movie.mkv": "0123456789",
		"extra.nfo": "nfo",
	})

	job, err := b.Job(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "Movie", job.Name)
	assert.Equal(t, 2, job.Files)
	assert.Equal(t, int64(13), job.Size)
	assert.Equal(t, backend.StatusSeeding, job.Status)

	// Truncate one payload file to half its size.
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "Movie", "movie.mkv"), []byte("01234"), 0o644))
	job, err = b.Job(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusStopped, job.Status)
	assert.InDelta(t, 8.0/13.0, job.Progress, 1e-9)

	jobs, err := b.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, hash, jobs[0].ID)

	_, err = b.Job(ctx, "ffff")
	assert.ErrorIs(t, err, backend.ErrJobNotFound)
}

func TestBackend_PaddingFilesStaySelected(t *testing.T) {
	b, torrentDir := newTestBackend(t, t.TempDir())
	ctx := context.Background()

	info := metainfo.Info{
		Name:        "dl",
		PieceLength: 16 * 1024,
		Files: []metainfo.FileInfo{
			{Length: 100, Path: []string{"a.mkv"}},
			{Length: 16284, Path: []string{".pad", "16284"}},
			{Length: 200, Path: []string{"b.mkv"}},
			{Length: 16284, Path: []string{".pad", "16284"}},
		},
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	f, err := os.Create(filepath.Join(torrentDir, "dl.torrent"))
	require.NoError(t, err)
	require.NoError(t, mi.Write(f))
	require.NoError(t, f.Close())
	hash := mi.HashInfoBytes().HexString()

	descs, err := b.Files(ctx, hash)
	require.NoError(t, err)
	require.Len(t, descs, 4)
	assert.Equal(t, "dl/.pad/16284", descs[1].Path)
	assert.Equal(t, descs[1].Path, descs[3].Path)
	assert.InDelta(t, 1.0, descs[1].Progress, 1e-9)
	assert.Zero(t, descs[0].Progress)

	require.NoError(t, b.SetSelection(ctx, hash, []int{2}))

	descs, err = b.Files(ctx, hash)
	require.NoError(t, err)
	assert.False(t, descs[0].Included)
	assert.True(t, descs[1].Included)
	assert.True(t, descs[2].Included)
	assert.True(t, descs[3].Included)

	require.NoError(t, b.SetSelection(ctx, hash, []int{}))
	descs, err = b.Files(ctx, hash)
	require.NoError(t, err)
	assert.False(t, descs[0].Included)
	assert.True(t, descs[1].Included)
	assert.False(t, descs[2].Included)
	assert.True(t, descs[3].Included)
}

func TestBackend_SingleFileTorrent(t *testing.T) {
	dataDir := t.TempDir()
	b, torrentDir := newTestBackend(t, "")

	p := filepath.Join(dataDir, "single.iso")
	require.NoError(t, os.WriteFile(p, []byte("iso"), 0o644))
	info := metainfo.Info{PieceLength: 16 * 1024}
	require.NoError(t, info.BuildFromFilePath(p))
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	f, err := os.Create(filepath.Join(torrentDir, "single.torrent"))
	require.NoError(t, err)
	require.NoError(t, mi.Write(f))
	require.NoError(t, f.Close())

	descs, err := b.Files(context.Background(), mi.HashInfoBytes().HexString())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "single.iso", descs[0].Path)
	assert.Zero(t, descs[0].Progress)
}

func TestBackend_SkipsBrokenFilesAndForgetsRemoved(t *testing.T) {
	dataDir := t.TempDir()
	b, torrentDir := newTestBackend(t, dataDir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(torrentDir, "broken.torrent"), []byte("not bencode"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(torrentDir, "notes.txt"), []byte("ignored"), 0o644))
	for i := range 2 {
		writeTorrent(t, torrentDir, dataDir, fmt.Sprintf("Job%d", i), map[string]string{"f": "x"})
	}

	jobs, err := b.Jobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	require.NoError(t, os.Remove(filepath.Join(torrentDir, "Job0.torrent")))
	jobs, err = b.Jobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestBackend_PruneForgetsRemovedTorrents(t *testing.T) {
	dataDir := t.TempDir()
	b, torrentDir := newTestBackend(t, dataDir)
	ctx := context.Background()

	kept := writeTorrent(t, torrentDir, dataDir, "Kept", map[string]string{"a": "a", "b": "b"})
	gone := writeTorrent(t, torrentDir, dataDir, "Gone", map[string]string{"a": "a", "b": "b"})
	require.NoError(t, b.SetSelection(ctx, kept, []int{0}))
	require.NoError(t, b.SetSelection(ctx, gone, []int{1}))

	removed, err := b.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	require.NoError(t, os.Remove(filepath.Join(torrentDir, "Gone.torrent")))
	removed, err = b.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := b.store.JobIDs(ctx, backendName)
	require.NoError(t, err)
	assert.Equal(t, []string{kept}, ids)

	descs, err := b.Files(ctx, kept)
	require.NoError(t, err)
	assert.True(t, descs[0].Included)
	assert.False(t, descs[1].Included)
}

func TestBackend_PingAndValidation(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	b, torrentDir := newTestBackend(t, "")
	require.NoError(t, b.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(torrentDir))
	assert.ErrorIs(t, b.Ping(context.Background()), backend.ErrUnreachable)
	_, err = b.Jobs(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnreachable)
}
