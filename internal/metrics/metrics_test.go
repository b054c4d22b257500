// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("tribler", time.Second, OutcomePublished)
		m.ObserveSubmission("tribler", nil)
		m.ObserveTrackerAction("announce", errors.New("x"))
		m.SetWatchedJobs(3)
		m.SetTreeNodes("job", 4)
		m.ForgetJob("job")
	})
}

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveFetch("qbittorrent", 10*time.Millisecond, OutcomePublished)
	m.ObserveFetch("qbittorrent", 10*time.Millisecond, OutcomeStale)
	m.ObserveFetch("qbittorrent", 10*time.Millisecond, OutcomeStale)
	m.ObserveSubmission("qbittorrent", errors.New("boom"))
	m.SetWatchedJobs(2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FetchTotal.WithLabelValues("qbittorrent", OutcomeStale)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("qbittorrent", "error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.WatchedJobs), 0)
}

func TestParseBasicAuthUsers(t *testing.T) {
	t.Parallel()

	users := ParseBasicAuthUsers(" alice:$2a$10$abc , broken, :nohash, bob:$2a$10$def")
	assert.Len(t, users, 2)
	assert.Equal(t, []byte("$2a$10$abc"), users["alice"])
	assert.Empty(t, ParseBasicAuthUsers(""))
}

func TestServerBasicAuth(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := NewServer(New(), "127.0.0.1", 0, "prom:"+string(hash))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dlfiles_watched_jobs")
}
