// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
	"github.com/autobrr/dlfiles/internal/metrics"
)

// Fetcher loads the file list of a job and builds its tree.
type Fetcher func(ctx context.Context) (*filetree.Node, error)

// Trigger tells why a fetch was issued.
type Trigger string

const (
	TriggerMount  Trigger = "mount"
	TriggerPoll   Trigger = "poll"
	TriggerManual Trigger = "manual"
	TriggerSubmit Trigger = "submit"
)

// Snapshot is the published state of a Refresher.
type Snapshot struct {
	Tree      *filetree.Node
	Sequence  uint64
	UpdatedAt time.Time
	Fetching  bool
	LastError error
}

// Refresher keeps the displayed tree of one job in step with the backend.
//
// Every fetch gets a sequence number when it is issued and its result is
// published only if no later fetch has published already, so the most
// recently issued fetch wins regardless of completion order. Mount, poll and
// manual triggers are dropped while a fetch is in flight. Fetches issued
// after a selection submission always run. A failed fetch never replaces the
// published tree.
type Refresher struct {
	jobID   string
	backend string
	fetch   Fetcher
	baseCtx context.Context
	metrics *metrics.Metrics
	now     func() time.Time
	spawn   func(func())

	onPublish func(*filetree.Node)

	mu        sync.Mutex
	inFlight  int
	mounted   bool
	issued    uint64
	published uint64
	tree      *filetree.Node
	updatedAt time.Time
	lastErr   error

	wg sync.WaitGroup
}

// NewRefresher creates a Refresher whose fetches run on ctx. Cancelling ctx
// aborts in-flight fetches; their results are dropped like any failure.
func NewRefresher(ctx context.Context, jobID, backendName string, fetch Fetcher, m *metrics.Metrics) *Refresher {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Refresher{
		jobID:   jobID,
		backend: backendName,
		fetch:   fetch,
		baseCtx: ctx,
		metrics: m,
		now:     time.Now,
		spawn:   func(fn func()) { go fn() },
	}
}

// OnMount issues the initial fetch. It fires once per Refresher; a mount
// fetch that fails before anything was published re-arms it.
func (r *Refresher) OnMount() bool {
	r.mu.Lock()
	if r.mounted {
		r.mu.Unlock()
		return false
	}
	r.mounted = true
	r.mu.Unlock()

	return r.trigger(TriggerMount, false)
}

// OnJobActivelyProgressing issues a fetch when status is one whose file list
// changes on its own.
func (r *Refresher) OnJobActivelyProgressing(status backend.Status) bool {
	if !status.ActivelyProgressing() {
		return false
	}
	return r.trigger(TriggerPoll, false)
}

// Refresh issues a manual fetch unless one is already running.
func (r *Refresher) Refresh() bool {
	return r.trigger(TriggerManual, false)
}

// OnSelectionSubmitted issues a confirmatory fetch after a selection change,
// even when another fetch is in flight.
func (r *Refresher) OnSelectionSubmitted() {
	r.trigger(TriggerSubmit, true)
}

// Tree returns the published tree or nil before the first success.
func (r *Refresher) Tree() *filetree.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree
}

// Snapshot returns the published state.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Tree:      r.tree,
		Sequence:  r.published,
		UpdatedAt: r.updatedAt,
		Fetching:  r.inFlight > 0,
		LastError: r.lastErr,
	}
}

// Wait blocks until every issued fetch has completed.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) trigger(t Trigger, force bool) bool {
	r.mu.Lock()
	if !force && r.inFlight > 0 {
		r.mu.Unlock()
		log.Trace().Str("job", r.jobID).Str("trigger", string(t)).Msg("Refresh skipped, fetch in flight")
		return false
	}
	r.issued++
	seq := r.issued
	r.inFlight++
	r.wg.Add(1)
	spawn := r.spawn
	r.mu.Unlock()

	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	spawn(func() {
		defer r.wg.Done()
		r.run(seq, t)
	})
	return true
}

func (r *Refresher) run(seq uint64, t Trigger) {
	start := r.currentTime()
	tree, err := r.fetch(r.baseCtx)
	if err == nil && tree == nil {
		err = backend.ErrNotReady
	}
	r.complete(seq, t, tree, err, r.currentTime().Sub(start))
}

func (r *Refresher) complete(seq uint64, t Trigger, tree *filetree.Node, err error, took time.Duration) {
	r.mu.Lock()
	r.inFlight--

	if err != nil {
		r.lastErr = err
		if t == TriggerMount && r.published == 0 {
			r.mounted = false
		}
		r.mu.Unlock()

		log.Debug().Err(err).Str("job", r.jobID).Uint64("seq", seq).Str("trigger", string(t)).Msg("File list refresh failed, keeping previous tree")
		r.metrics.ObserveFetch(r.backend, took, metrics.OutcomeFailed)
		return
	}

	if seq <= r.published {
		published := r.published
		r.mu.Unlock()

		log.Trace().Str("job", r.jobID).Uint64("seq", seq).Uint64("published", published).Msg("Discarding stale file list")
		r.metrics.ObserveFetch(r.backend, took, metrics.OutcomeStale)
		return
	}

	r.published = seq
	r.tree = tree
	r.updatedAt = r.currentTime()
	r.lastErr = nil
	onPublish := r.onPublish
	r.mu.Unlock()

	r.metrics.ObserveFetch(r.backend, took, metrics.OutcomePublished)
	r.metrics.SetTreeNodes(r.jobID, filetree.CountNodes(tree))
	if onPublish != nil {
		onPublish(tree)
	}
}

func (r *Refresher) currentTime() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
