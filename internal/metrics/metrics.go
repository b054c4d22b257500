// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus collectors for file list refreshes and
// selection changes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dlfiles"

// Fetch outcomes.
const (
	OutcomePublished = "published"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry prometheus.Gatherer

	FetchDuration      *prometheus.HistogramVec
	FetchTotal         *prometheus.CounterVec
	SubmissionsTotal   *prometheus.CounterVec
	TrackerActionTotal *prometheus.CounterVec
	WatchedJobs        prometheus.Gauge
	TreeNodes          *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegisterer(reg)
}

// NewWithRegisterer registers the collectors on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_fetch_duration_seconds",
			Help:      "Time spent fetching the file list of a download",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_fetch_total",
			Help:      "File list fetches by outcome",
		}, []string{"backend", "outcome"}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_submissions_total",
			Help:      "File selection submissions by result",
		}, []string{"backend", "result"}),
		TrackerActionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_actions_total",
			Help:      "Tracker actions by kind and result",
		}, []string{"action", "result"}),
		WatchedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_jobs",
			Help:      "Number of downloads with an active file view",
		}),
		TreeNodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_nodes",
			Help:      "Nodes in the last published tree per download",
		}, []string{"job"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.Registry = g
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFetch records one completed fetch.
func (m *Metrics) ObserveFetch(backend string, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(backend).Observe(d.Seconds())
	m.FetchTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveSubmission records one selection submission.
func (m *Metrics) ObserveSubmission(backend string, err error) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(backend, result(err)).Inc()
}

// ObserveTrackerAction records one tracker action.
func (m *Metrics) ObserveTrackerAction(action string, err error) {
	if m == nil {
		return
	}
	m.TrackerActionTotal.WithLabelValues(action, result(err)).Inc()
}

// SetWatchedJobs sets the number of watched downloads.
func (m *Metrics) SetWatchedJobs(n int) {
	if m == nil {
		return
	}
	m.WatchedJobs.Set(float64(n))
}

// SetTreeNodes records the size of the published tree of a job.
func (m *Metrics) SetTreeNodes(jobID string, n int) {
	if m == nil {
		return
	}
	m.TreeNodes.WithLabelValues(jobID).Set(float64(n))
}

// ForgetJob drops per-job series.
func (m *Metrics) ForgetJob(jobID string) {
	if m == nil {
		return
	}
	m.TreeNodes.DeleteLabelValues(jobID)
}
