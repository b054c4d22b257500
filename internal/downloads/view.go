// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/filetree"
	"github.com/autobrr/dlfiles/internal/metrics"
)

var (
	ErrNodeNotFound  = errors.New("no file or folder at path")
	ErrPseudoTracker = errors.New("peer source is not a tracker")
)

// View is the per-job state behind a file tree screen: the refresher, the
// failed-action log and the toggle operation.
type View struct {
	jobID   string
	svc     backend.Service
	metrics *metrics.Metrics
	baseCtx context.Context
	spawn   func(func())

	refresher     *Refresher
	notifications *Notifications

	mu  sync.RWMutex
	job backend.Job

	submissions sync.WaitGroup
}

// NewView creates the view of job. Background work runs on ctx.
func NewView(ctx context.Context, svc backend.Service, job backend.Job, m *metrics.Metrics, historySize int) *View {
	if ctx == nil {
		ctx = context.Background()
	}
	v := &View{
		jobID:         job.ID,
		svc:           svc,
		metrics:       m,
		baseCtx:       ctx,
		spawn:         func(fn func()) { go fn() },
		notifications: NewNotifications(historySize),
		job:           job,
	}
	v.refresher = NewRefresher(ctx, job.ID, svc.Name(), v.fetchTree, m)
	return v
}

func (v *View) JobID() string { return v.jobID }

// Job returns the last observed state of the job.
func (v *View) Job() backend.Job {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.job
}

func (v *View) setJob(job backend.Job) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.job = job
}

func (v *View) Refresher() *Refresher { return v.refresher }

func (v *View) Notifications() *Notifications { return v.notifications }

// Tree returns the published tree, nil before the first successful fetch.
func (v *View) Tree() *filetree.Node {
	return v.refresher.Tree()
}

// Ready reports whether a tree with at least one file has been published.
func (v *View) Ready() bool {
	return filetree.IsExpandable(v.Tree())
}

func (v *View) rootName() string {
	if name := v.Job().Name; name != "" {
		return name
	}
	return v.jobID
}

func (v *View) fetchTree(ctx context.Context) (*filetree.Node, error) {
	descs, err := v.svc.Files(ctx, v.jobID)
	if err != nil {
		return nil, err
	}
	return filetree.Build(descs, v.rootName(), filetree.DefaultSeparator), nil
}

// Resolve finds a node of the published tree by full path. A path relative to
// the download root is accepted too.
func (v *View) Resolve(path string) (*filetree.Node, *filetree.Node, error) {
	root := v.Tree()
	if !filetree.IsExpandable(root) {
		return nil, nil, backend.ErrNotReady
	}

	if node := root.Find(path); node != nil {
		return root, node, nil
	}
	rel := strings.Trim(path, filetree.DefaultSeparator)
	if rel != "" {
		if node := root.Find(root.FullPath + filetree.DefaultSeparator + rel); node != nil {
			return root, node, nil
		}
	}
	return root, nil, errors.Wrapf(ErrNodeNotFound, "%q", path)
}

// Toggle flips the inclusion of the node at path and submits the resulting
// selection in the background. The tree is not changed locally; it converges
// through the confirmatory fetch that follows every submission. Failures are
// recorded as notifications.
func (v *View) Toggle(ctx context.Context, path string) (filetree.Command, error) {
	root, node, err := v.Resolve(path)
	if err != nil {
		return filetree.Command{}, err
	}

	cmd := filetree.Reconcile(root, node)

	submitCtx := v.baseCtx
	if ctx != nil {
		submitCtx = context.WithoutCancel(ctx)
	}

	v.submissions.Add(1)
	v.spawn(func() {
		defer v.submissions.Done()
		_ = v.submit(submitCtx, node.FullPath, cmd)
	})
	return cmd, nil
}

// ToggleAndWait is Toggle with a synchronous submission. The confirmatory
// fetch has been issued, but not necessarily completed, when it returns.
func (v *View) ToggleAndWait(ctx context.Context, path string) (filetree.Command, error) {
	root, node, err := v.Resolve(path)
	if err != nil {
		return filetree.Command{}, err
	}

	cmd := filetree.Reconcile(root, node)
	return cmd, v.submit(ctx, node.FullPath, cmd)
}

func (v *View) submit(ctx context.Context, path string, cmd filetree.Command) error {
	err := v.svc.SetSelection(ctx, v.jobID, cmd.Indices)
	v.metrics.ObserveSubmission(v.svc.Name(), err)

	if err != nil {
		log.Error().Err(err).
			Str("job", v.jobID).
			Str("path", path).
			Bool("include", cmd.Include).
			Msg("Failed to change file selection")
		v.notifications.Add(v.jobID, ActionSetFiles, backend.Message(err))
	} else {
		log.Debug().
			Str("job", v.jobID).
			Str("path", path).
			Bool("include", cmd.Include).
			Int("selected", len(cmd.Indices)).
			Msg("File selection submitted")
	}

	v.refresher.OnSelectionSubmitted()
	return err
}

// WaitSubmissions blocks until background submissions have finished.
func (v *View) WaitSubmissions() {
	v.submissions.Wait()
}

// AddTracker adds trackerURL to the job.
func (v *View) AddTracker(ctx context.Context, trackerURL string) error {
	return v.trackerAction(ctx, ActionAddTracker, trackerURL, func(tm backend.TrackerManager) error {
		return tm.AddTracker(ctx, v.jobID, trackerURL)
	})
}

// ForceAnnounce asks the backend to announce to trackerURL now.
func (v *View) ForceAnnounce(ctx context.Context, trackerURL string) error {
	return v.trackerAction(ctx, ActionForceAnnounce, trackerURL, func(tm backend.TrackerManager) error {
		return tm.ForceAnnounce(ctx, v.jobID, trackerURL)
	})
}

// RemoveTracker removes trackerURL from the job.
func (v *View) RemoveTracker(ctx context.Context, trackerURL string) error {
	return v.trackerAction(ctx, ActionRemoveTracker, trackerURL, func(tm backend.TrackerManager) error {
		return tm.RemoveTracker(ctx, v.jobID, trackerURL)
	})
}

func (v *View) trackerAction(ctx context.Context, action Action, trackerURL string, fn func(backend.TrackerManager) error) error {
	if backend.IsPseudoTracker(trackerURL) {
		return errors.Wrapf(ErrPseudoTracker, "%s", trackerURL)
	}

	tm, ok := v.svc.(backend.TrackerManager)
	if !ok {
		return backend.ErrUnsupported
	}

	err := fn(tm)
	v.metrics.ObserveTrackerAction(string(action), err)
	if err != nil {
		log.Error().Err(err).Str("job", v.jobID).Str("tracker", trackerURL).Str("action", string(action)).Msg("Tracker action failed")
		v.notifications.Add(v.jobID, action, backend.Message(err))
		return err
	}
	return nil
}
