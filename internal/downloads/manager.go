// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads keeps per-job file trees in sync with the backend.
package downloads

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/metrics"
)

// Config controls the polling cadence and history retention.
type Config struct {
	PollInterval     time.Duration
	HistorySize      int
	RefreshAllLimit  int
	DisablePollLoops bool
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		HistorySize:     defaultHistorySize,
		RefreshAllLimit: 4,
	}
}

type watched struct {
	view   *View
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the views of watched jobs and their poll loops.
type Manager struct {
	cfg          Config
	svc          backend.Service
	metrics      *metrics.Metrics
	pollInterval atomic.Int64

	ctxMu   sync.RWMutex
	baseCtx context.Context

	mu    sync.Mutex
	views map[string]*watched
}

func NewManager(cfg Config, svc backend.Service, m *metrics.Metrics) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.RefreshAllLimit <= 0 {
		cfg.RefreshAllLimit = DefaultConfig().RefreshAllLimit
	}
	mgr := &Manager{
		cfg:     cfg,
		svc:     svc,
		metrics: m,
		views:   make(map[string]*watched),
	}
	mgr.pollInterval.Store(int64(cfg.PollInterval))
	return mgr
}

// SetPollInterval changes the cadence of running and future poll loops.
// Running loops pick it up after their next tick.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := time.Duration(m.pollInterval.Swap(int64(d))); old != d {
		log.Info().Dur("from", old).Dur("to", d).Msg("Updated download poll interval")
	}
}

// PollInterval returns the current poll cadence.
func (m *Manager) PollInterval() time.Duration {
	return time.Duration(m.pollInterval.Load())
}

// Start sets the context that bounds every view and poll loop.
func (m *Manager) Start(ctx context.Context) {
	if m == nil {
		return
	}
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()
	m.baseCtx = ctx
}

func (m *Manager) baseContext() context.Context {
	m.ctxMu.RLock()
	defer m.ctxMu.RUnlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

func (m *Manager) Backend() backend.Service { return m.svc }

// Jobs lists the backend's jobs sorted by name.
func (m *Manager) Jobs(ctx context.Context) ([]backend.Job, error) {
	jobs, err := m.svc.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Name < jobs[j].Name
	})
	return jobs, nil
}

// Watch returns the view of jobID, creating it on first use. A new view
// issues its mount fetch and starts a poll loop that refreshes the tree while
// the job is actively progressing.
func (m *Manager) Watch(ctx context.Context, jobID string) (*View, error) {
	m.mu.Lock()
	if w, ok := m.views[jobID]; ok {
		m.mu.Unlock()
		return w.view, nil
	}
	m.mu.Unlock()

	job, err := m.svc.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if w, ok := m.views[jobID]; ok {
		m.mu.Unlock()
		return w.view, nil
	}
	viewCtx, cancel := context.WithCancel(m.baseContext())
	w := &watched{
		view:   NewView(viewCtx, m.svc, job, m.metrics, m.cfg.HistorySize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.views[jobID] = w
	count := len(m.views)
	m.mu.Unlock()

	m.metrics.SetWatchedJobs(count)
	log.Debug().Str("job", jobID).Str("name", job.Name).Str("status", string(job.Status)).Msg("Watching download files")

	w.view.refresher.OnMount()

	if m.cfg.DisablePollLoops {
		close(w.done)
	} else {
		go func() {
			defer close(w.done)
			m.loop(viewCtx, w.view)
		}()
	}

	return w.view, nil
}

// View returns the view of jobID if it is watched.
func (m *Manager) View(jobID string) (*View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.views[jobID]
	if !ok {
		return nil, false
	}
	return w.view, true
}

// Unwatch stops the poll loop of jobID and drops its view.
func (m *Manager) Unwatch(jobID string) {
	m.mu.Lock()
	w, ok := m.views[jobID]
	if ok {
		delete(m.views, jobID)
	}
	count := len(m.views)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.stop(w)
	m.metrics.SetWatchedJobs(count)
	m.metrics.ForgetJob(jobID)
}

// Close stops every poll loop and waits for background work.
func (m *Manager) Close() {
	m.mu.Lock()
	views := m.views
	m.views = make(map[string]*watched)
	m.mu.Unlock()

	for _, w := range views {
		m.stop(w)
	}
	m.metrics.SetWatchedJobs(0)
}

func (m *Manager) stop(w *watched) {
	w.cancel()
	<-w.done
	w.view.WaitSubmissions()
	w.view.refresher.Wait()
}

// RefreshAll polls the status of every watched job with bounded concurrency.
func (m *Manager) RefreshAll(ctx context.Context) error {
	m.mu.Lock()
	views := make([]*View, 0, len(m.views))
	for _, w := range m.views {
		views = append(views, w.view)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.RefreshAllLimit)
	for _, view := range views {
		g.Go(func() error {
			return m.poll(gctx, view)
		})
	}
	return g.Wait()
}

func (m *Manager) loop(ctx context.Context, view *View) {
	interval := m.PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.poll(ctx, view)
			if current := m.PollInterval(); current != interval {
				interval = current
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Manager) poll(ctx context.Context, view *View) error {
	job, err := m.svc.Job(ctx, view.jobID)
	if err != nil {
		log.Debug().Err(err).Str("job", view.jobID).Msg("Failed to poll download status")
		return err
	}
	view.setJob(job)
	view.refresher.OnJobActivelyProgressing(job.Status)
	return nil
}
