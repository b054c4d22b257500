// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
)

func mountedView(t *testing.T, svc backend.Service, name string) *View {
	t.Helper()

	job, err := svc.Job(context.Background(), "job-1")
	require.NoError(t, err)
	job.Name = name

	v := NewView(context.Background(), svc, job, nil, 10)
	require.True(t, v.Refresher().OnMount())
	v.Refresher().Wait()
	require.True(t, v.Ready())
	return v
}

func TestView_ToggleBeforeReady(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend("root", nil)
	job, err := fake.Job(context.Background(), "job-1")
	require.NoError(t, err)

	v := NewView(context.Background(), fake, job, nil, 10)
	_, err = v.Toggle(context.Background(), "root/a")
	assert.ErrorIs(t, err, backend.ErrNotReady)

	v.Refresher().OnMount()
	v.Refresher().Wait()
	assert.False(t, v.Ready(), "empty file list means metadata is still loading")
	_, err = v.ToggleAndWait(context.Background(), "root")
	assert.ErrorIs(t, err, backend.ErrNotReady)
	assert.Empty(t, fake.submissions())
}

func TestView_ToggleIncludedFolderOff(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend("root", scenarioFiles())
	v := mountedView(t, fake, "root")

	cmd, err := v.ToggleAndWait(context.Background(), "root/a")
	require.NoError(t, err)
	assert.False(t, cmd.Include)
	assert.Equal(t, []int{}, cmd.Indices)
	assert.Equal(t, [][]int{{}}, fake.submissions())

	v.Refresher().Wait()
	tree := v.Tree()
	assert.Equal(t, filetree.Excluded, tree.Find("root/a").Included)
	assert.Equal(t, filetree.Excluded, tree.Included)
	assert.Empty(t, v.Notifications().List(0))
}

func TestView_ToggleAsyncConverges(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend("root", scenarioFiles())
	v := mountedView(t, fake, "root")
	before := v.Tree()

	cmd, err := v.Toggle(context.Background(), "d.txt")
	require.NoError(t, err)
	assert.True(t, cmd.Include)
	assert.Equal(t, []int{0, 1, 2}, cmd.Indices)

	// The published tree is never changed optimistically.
	assert.Equal(t, filetree.Excluded, before.Find("root/d.txt").Included)

	v.WaitSubmissions()
	v.Refresher().Wait()

	assert.Equal(t, filetree.Included, v.Tree().Find("root/d.txt").Included)
	assert.Equal(t, filetree.Included, v.Tree().Included)
}

func TestView_ToggleUnknownPath(t *testing.T) {
	t.Parallel()

	v := mountedView(t, newFakeBackend("root", scenarioFiles()), "root")

	_, err := v.Toggle(context.Background(), "root/missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestView_SubmissionFailureNotifiesAndRefreshes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "application error",
			err:     &backend.ApplicationError{Message: "invalid file index"},
			message: "invalid file index",
		},
		{
			name:    "unreachable",
			err:     backend.Unreachable(errors.New("connection refused")),
			message: "Could not reach the download backend",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := newFakeBackend("root", scenarioFiles())
			v := mountedView(t, fake, "root")
			fake.set(func(f *fakeBackend) { f.setErr = tt.err })
			callsBefore := fake.fileCalls()

			_, err := v.ToggleAndWait(context.Background(), "root/a/b.txt")
			require.ErrorIs(t, err, tt.err)
			v.Refresher().Wait()

			notes := v.Notifications().List(0)
			require.Len(t, notes, 1)
			assert.Equal(t, ActionSetFiles, notes[0].Action)
			assert.Equal(t, "Could not change file selection", notes[0].Title)
			assert.Equal(t, tt.message, notes[0].Message)
			assert.Equal(t, "job-1", notes[0].JobID)

			assert.Equal(t, callsBefore+1, fake.fileCalls(), "refresh follows every submission")
			assert.Equal(t, filetree.Included, v.Tree().Find("root/a/b.txt").Included)
		})
	}
}

func TestView_TrackerActions(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend("root", scenarioFiles())
	v := mountedView(t, fake, "root")
	ctx := context.Background()

	require.NoError(t, v.ForceAnnounce(ctx, "udp://tracker.example:1337/announce"))
	require.NoError(t, v.RemoveTracker(ctx, "http://old.example/announce"))
	require.NoError(t, v.AddTracker(ctx, "http://new.example/announce"))
	assert.Equal(t, []string{"http://new.example/announce"}, fake.added)
	assert.Equal(t, []string{"udp://tracker.example:1337/announce"}, fake.announced)
	assert.Equal(t, []string{"http://old.example/announce"}, fake.removed)

	assert.ErrorIs(t, v.ForceAnnounce(ctx, "[DHT]"), ErrPseudoTracker)
	assert.ErrorIs(t, v.RemoveTracker(ctx, "[PeX]"), ErrPseudoTracker)

	fake.set(func(f *fakeBackend) { f.trackerErr = &backend.ApplicationError{Message: "tracker not found"} })
	assert.Error(t, v.RemoveTracker(ctx, "http://gone.example/announce"))

	notes := v.Notifications().List(0)
	require.Len(t, notes, 1)
	assert.Equal(t, ActionRemoveTracker, notes[0].Action)
	assert.Equal(t, "tracker not found", notes[0].Message)

	plain := NewView(ctx, serviceOnly{fake}, fake.job, nil, 10)
	assert.ErrorIs(t, plain.ForceAnnounce(ctx, "udp://x"), backend.ErrUnsupported)
}

func TestNotifications_Bounded(t *testing.T) {
	t.Parallel()

	n := NewNotifications(3)
	for i := 0; i < 5; i++ {
		n.Add("job", ActionSetFiles, " failed ")
	}

	all := n.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].ID)
	assert.Equal(t, uint64(5), all[2].ID)
	assert.Equal(t, "failed", all[0].Message)

	assert.Len(t, n.List(2), 2)
	assert.Len(t, n.Since(4), 1)
	assert.Empty(t, n.Since(5))
}
