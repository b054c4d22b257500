// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
)

func TestRefresher_LastIssuedWins(t *testing.T) {
	t.Parallel()

	next := ""
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		return filetree.Build(scenarioFiles(), next, "/"), nil
	}, nil)

	var pending []func()
	r.spawn = func(fn func()) { pending = append(pending, fn) }

	for i := 0; i < 7; i++ {
		r.OnSelectionSubmitted()
	}
	require.Len(t, pending, 7)

	next = "seven"
	pending[6]()
	next = "five"
	pending[4]()

	snap := r.Snapshot()
	require.NotNil(t, snap.Tree)
	assert.Equal(t, "seven", snap.Tree.Name)
	assert.Equal(t, uint64(7), snap.Sequence)
	assert.True(t, snap.Fetching)

	assert.False(t, r.Refresh())
	assert.Len(t, pending, 7, "refresh is dropped while fetches are in flight")
}

func TestRefresher_SingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return filetree.Build(scenarioFiles(), "root", "/"), nil
	}, nil)

	require.True(t, r.Refresh())
	assert.False(t, r.Refresh())
	assert.False(t, r.OnJobActivelyProgressing(backend.StatusDownloading))
	assert.True(t, r.Snapshot().Fetching)

	close(release)
	r.Wait()
	assert.Equal(t, int32(1), calls.Load())

	require.True(t, r.Refresh())
	r.Wait()
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, r.Snapshot().Fetching)
}

func TestRefresher_SubmissionBypassesSingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		calls.Add(1)
		<-release
		return filetree.Build(scenarioFiles(), "root", "/"), nil
	}, nil)

	require.True(t, r.Refresh())
	r.OnSelectionSubmitted()

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	r.Wait()

	assert.Equal(t, uint64(2), r.Snapshot().Sequence)
}

func TestRefresher_MountOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		calls.Add(1)
		return filetree.Build(scenarioFiles(), "root", "/"), nil
	}, nil)

	require.True(t, r.OnMount())
	r.Wait()
	assert.False(t, r.OnMount())
	r.Wait()
	assert.Equal(t, int32(1), calls.Load())
	assert.NotNil(t, r.Tree())
}

func TestRefresher_FailedMountRearms(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		if calls.Add(1) == 1 {
			return nil, backend.Unreachable(errors.New("connection refused"))
		}
		return filetree.Build(scenarioFiles(), "root", "/"), nil
	}, nil)

	require.True(t, r.OnMount())
	r.Wait()
	assert.Nil(t, r.Tree())
	assert.ErrorIs(t, r.Snapshot().LastError, backend.ErrUnreachable)

	require.True(t, r.OnMount())
	r.Wait()
	assert.NotNil(t, r.Tree())
	assert.NoError(t, r.Snapshot().LastError)
	assert.False(t, r.OnMount())
}

func TestRefresher_FailureRetainsTree(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		if fail.Load() {
			return nil, &backend.ApplicationError{Message: "download not found"}
		}
		return filetree.Build(scenarioFiles(), "root", "/"), nil
	}, nil)

	require.True(t, r.Refresh())
	r.Wait()
	first := r.Tree()
	require.NotNil(t, first)

	fail.Store(true)
	require.True(t, r.Refresh())
	r.Wait()

	assert.Same(t, first, r.Tree())
	assert.Equal(t, uint64(1), r.Snapshot().Sequence)
	assert.EqualError(t, r.Snapshot().LastError, "download not found")
}

func TestRefresher_NilTreeIsNotReady(t *testing.T) {
	t.Parallel()

	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		return nil, nil
	}, nil)

	require.True(t, r.Refresh())
	r.Wait()
	assert.Nil(t, r.Tree())
	assert.ErrorIs(t, r.Snapshot().LastError, backend.ErrNotReady)
}

func TestRefresher_OnlyActiveStatusesPoll(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRefresher(context.Background(), "job", "fake", func(context.Context) (*filetree.Node, error) {
		calls.Add(1)
		return filetree.Build(nil, "root", "/"), nil
	}, nil)

	for _, status := range []backend.Status{backend.StatusSeeding, backend.StatusStopped, backend.StatusQueued, backend.StatusError} {
		assert.False(t, r.OnJobActivelyProgressing(status), status)
	}
	assert.True(t, r.OnJobActivelyProgressing(backend.StatusMetadata))
	r.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefresher_CancelledContextKeepsTree(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRefresher(ctx, "job", "fake", func(ctx context.Context) (*filetree.Node, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return filetree.Build(scenarioFiles(), "root", "/"), nil
	}, nil)

	require.True(t, r.Refresh())
	r.Wait()
	first := r.Tree()

	cancel()
	require.True(t, r.Refresh())
	r.Wait()
	assert.Same(t, first, r.Tree())
	assert.ErrorIs(t, r.Snapshot().LastError, context.Canceled)
}
