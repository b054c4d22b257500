// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/downloads"
	"github.com/autobrr/dlfiles/internal/filetree"
)

type DownloadsHandler struct {
	manager *downloads.Manager
}

func NewDownloadsHandler(manager *downloads.Manager) *DownloadsHandler {
	return &DownloadsHandler{manager: manager}
}

// Routes registers the download endpoints on r.
func (h *DownloadsHandler) Routes(r chi.Router) {
	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.ListDownloads)
		r.Get("/capabilities", h.GetCapabilities)

		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/files", h.GetFiles)
			r.Post("/files/toggle", h.ToggleFile)
			r.Post("/files/refresh", h.RefreshFiles)
			r.Get("/notifications", h.ListNotifications)
			r.Post("/trackers", h.AddTracker)
			r.Post("/trackers/announce", h.AnnounceTracker)
			r.Delete("/trackers", h.RemoveTracker)
			r.Delete("/", h.Unwatch)
		})
	})
}

// FilesResponse is the published tree of a job.
type FilesResponse struct {
	Job       backend.Job    `json:"job"`
	Ready     bool           `json:"ready"`
	Fetching  bool           `json:"fetching"`
	Sequence  uint64         `json:"sequence"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Tree      *filetree.Node `json:"tree,omitempty"`
}

// ToggleRequest names the node to flip by full path or path relative to the
// download root.
type ToggleRequest struct {
	Path string `json:"path"`
}

// TrackerRequest names a tracker URL.
type TrackerRequest struct {
	URL string `json:"url"`
}

func (h *DownloadsHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.manager.Jobs(r.Context())
	if err != nil {
		respondBackendError(w, err, "", "Failed to list downloads")
		return
	}
	RespondJSON(w, http.StatusOK, jobs)
}

func (h *DownloadsHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, NewBackendCapabilitiesResponse(h.manager.Backend()))
}

func (h *DownloadsHandler) view(w http.ResponseWriter, r *http.Request) (*downloads.View, bool) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		RespondError(w, http.StatusBadRequest, "Job ID is required")
		return nil, false
	}

	view, err := h.manager.Watch(r.Context(), jobID)
	if err != nil {
		respondBackendError(w, err, jobID, "Failed to load download")
		return nil, false
	}
	return view, true
}

// GetFiles returns the published tree. The first request for a job starts
// watching it and usually answers ready=false. The optional filter query
// prunes the tree by name; fuzzy=true switches to fuzzy matching.
func (h *DownloadsHandler) GetFiles(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	snap := view.Refresher().Snapshot()
	resp := FilesResponse{
		Job:      view.Job(),
		Ready:    filetree.IsExpandable(snap.Tree),
		Fetching: snap.Fetching,
		Sequence: snap.Sequence,
	}
	if !snap.UpdatedAt.IsZero() {
		updatedAt := snap.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	if snap.LastError != nil {
		resp.LastError = backend.Message(snap.LastError)
	}

	if resp.Ready {
		query := r.URL.Query()
		fuzzy, _ := strconv.ParseBool(query.Get("fuzzy"))
		resp.Tree = filetree.Filter(snap.Tree, strings.TrimSpace(query.Get("filter")), fuzzy)

		etag := filetree.ETag(resp.Tree)
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	RespondJSON(w, http.StatusOK, resp)
}

// ToggleFile flips the inclusion of one node and returns the submitted
// command. The submission completes in the background.
func (h *DownloadsHandler) ToggleFile(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		RespondError(w, http.StatusBadRequest, "Path is required")
		return
	}

	cmd, err := view.Toggle(r.Context(), req.Path)
	if err != nil {
		respondBackendError(w, err, view.JobID(), "Failed to toggle file")
		return
	}

	RespondJSON(w, http.StatusAccepted, cmd)
}

func (h *DownloadsHandler) RefreshFiles(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	issued := view.Refresher().Refresh()
	RespondJSON(w, http.StatusAccepted, map[string]bool{"issued": issued})
}

// ListNotifications returns failed actions, newest last. since=<id> returns
// only newer entries; limit caps the count.
func (h *DownloadsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if raw := query.Get("since"); raw != "" {
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "Invalid since parameter")
			return
		}
		RespondJSON(w, http.StatusOK, view.Notifications().Since(since))
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}
	RespondJSON(w, http.StatusOK, view.Notifications().List(limit))
}

func (h *DownloadsHandler) trackerRequest(w http.ResponseWriter, r *http.Request) (*downloads.View, string, bool) {
	view, ok := h.view(w, r)
	if !ok {
		return nil, "", false
	}

	var req TrackerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, "", false
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		RespondError(w, http.StatusBadRequest, "Tracker URL is required")
		return nil, "", false
	}
	return view, url, true
}

func (h *DownloadsHandler) AddTracker(w http.ResponseWriter, r *http.Request) {
	view, url, ok := h.trackerRequest(w, r)
	if !ok {
		return
	}
	if err := view.AddTracker(r.Context(), url); err != nil {
		respondBackendError(w, err, view.JobID(), "Failed to add tracker")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *DownloadsHandler) AnnounceTracker(w http.ResponseWriter, r *http.Request) {
	view, url, ok := h.trackerRequest(w, r)
	if !ok {
		return
	}
	if err := view.ForceAnnounce(r.Context(), url); err != nil {
		respondBackendError(w, err, view.JobID(), "Failed to announce")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *DownloadsHandler) RemoveTracker(w http.ResponseWriter, r *http.Request) {
	view, url, ok := h.trackerRequest(w, r)
	if !ok {
		return
	}
	if err := view.RemoveTracker(r.Context(), url); err != nil {
		respondBackendError(w, err, view.JobID(), "Failed to remove tracker")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Unwatch stops polling the job and drops its cached tree.
func (h *DownloadsHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	h.manager.Unwatch(jobID)
	w.WriteHeader(http.StatusNoContent)
}

func respondBackendError(w http.ResponseWriter, err error, jobID, fallback string) {
	var appErr *backend.ApplicationError

	switch {
	case errors.Is(err, backend.ErrJobNotFound):
		RespondError(w, http.StatusNotFound, "Download not found")
	case errors.Is(err, downloads.ErrNodeNotFound):
		RespondError(w, http.StatusNotFound, "File or folder not found")
	case errors.Is(err, backend.ErrNotReady):
		RespondError(w, http.StatusConflict, backend.Message(err))
	case errors.Is(err, downloads.ErrPseudoTracker):
		RespondError(w, http.StatusBadRequest, "DHT, PeX and LSD are not trackers")
	case errors.Is(err, backend.ErrUnsupported):
		RespondError(w, http.StatusNotImplemented, "The download backend does not support this action")
	case errors.Is(err, backend.ErrInvalidFileIndex):
		RespondError(w, http.StatusBadRequest, "Invalid file index")
	case errors.Is(err, backend.ErrUnreachable):
		RespondError(w, http.StatusBadGateway, backend.Message(err))
	case errors.As(err, &appErr):
		RespondError(w, http.StatusUnprocessableEntity, appErr.Message)
	default:
		log.Error().Err(err).Str("job", jobID).Msg(fallback)
		RespondError(w, http.StatusInternalServerError, fallback)
	}
}
