// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"slices"
	"sync"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
)

type fakeBackend struct {
	mu         sync.Mutex
	job        backend.Job
	files      []filetree.Descriptor
	filesErr   error
	setErr     error
	trackerErr error
	setCalls   [][]int
	filesCalls int
	added      []string
	announced  []string
	removed    []string
}

func newFakeBackend(name string, files []filetree.Descriptor) *fakeBackend {
	return &fakeBackend{
		job:   backend.Job{ID: "job-1", Name: name, Status: backend.StatusDownloading},
		files: files,
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Jobs(context.Context) ([]backend.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []backend.Job{f.job}, nil
}

func (f *fakeBackend) Job(_ context.Context, jobID string) (backend.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jobID != f.job.ID {
		return backend.Job{}, backend.ErrJobNotFound
	}
	return f.job, nil
}

func (f *fakeBackend) Files(_ context.Context, jobID string) ([]filetree.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filesCalls++
	if f.filesErr != nil {
		return nil, f.filesErr
	}
	if jobID != f.job.ID {
		return nil, backend.ErrJobNotFound
	}
	return slices.Clone(f.files), nil
}

func (f *fakeBackend) SetSelection(_ context.Context, _ string, indices []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, slices.Clone(indices))
	if f.setErr != nil {
		return f.setErr
	}
	f.files = filetree.ApplySelection(f.files, indices)
	return nil
}

func (f *fakeBackend) AddTracker(_ context.Context, _ string, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackerErr != nil {
		return f.trackerErr
	}
	f.added = append(f.added, url)
	return nil
}

func (f *fakeBackend) ForceAnnounce(_ context.Context, _ string, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackerErr != nil {
		return f.trackerErr
	}
	f.announced = append(f.announced, url)
	return nil
}

func (f *fakeBackend) RemoveTracker(_ context.Context, _ string, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackerErr != nil {
		return f.trackerErr
	}
	f.removed = append(f.removed, url)
	return nil
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) fileCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filesCalls
}

func (f *fakeBackend) submissions() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.setCalls)
}

// serviceOnly hides the tracker methods of the wrapped backend.
type serviceOnly struct {
	backend.Service
}

func scenarioFiles() []filetree.Descriptor {
	return []filetree.Descriptor{
		{Path: "a/b.txt", Size: 100, Included: true},
		{Path: "a/c.txt", Size: 300, Included: true},
		{Path: "d.txt", Size: 50, Included: false},
	}
}
