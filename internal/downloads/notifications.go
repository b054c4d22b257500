// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"strings"
	"sync"
	"time"
)

// Action names a user action whose failure is reported.
type Action string

const (
	ActionSetFiles      Action = "set_files"
	ActionAddTracker    Action = "add_tracker"
	ActionForceAnnounce Action = "force_announce"
	ActionRemoveTracker Action = "remove_tracker"
)

// Title is the headline shown for a failed action.
func (a Action) Title() string {
	switch a {
	case ActionSetFiles:
		return "Could not change file selection"
	case ActionAddTracker:
		return "Could not add tracker"
	case ActionForceAnnounce:
		return "Could not force announce tracker"
	case ActionRemoveTracker:
		return "Could not remove tracker"
	default:
		return "Action failed"
	}
}

// Notification records one failed action.
type Notification struct {
	ID        uint64    `json:"id"`
	JobID     string    `json:"jobId"`
	Action    Action    `json:"action"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultHistorySize = 50

// Notifications is a bounded log of failed actions, newest last.
type Notifications struct {
	mu    sync.RWMutex
	items []Notification
	limit int
	next  uint64
	now   func() time.Time
}

func NewNotifications(limit int) *Notifications {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	return &Notifications{limit: limit, now: time.Now}
}

// Add appends a notification and evicts the oldest entries past the limit.
func (n *Notifications) Add(jobID string, action Action, message string) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	note := Notification{
		ID:        n.next,
		JobID:     jobID,
		Action:    action,
		Title:     action.Title(),
		Message:   strings.TrimSpace(message),
		Timestamp: n.now(),
	}
	n.items = append(n.items, note)
	if len(n.items) > n.limit {
		n.items = n.items[len(n.items)-n.limit:]
	}
	return note
}

// List returns up to limit of the newest notifications, oldest first. A
// non-positive limit returns all of them.
func (n *Notifications) List(limit int) []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()

	items := n.items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]Notification, len(items))
	copy(out, items)
	return out
}

// Since returns the notifications with an ID greater than id.
func (n *Notifications) Since(id uint64) []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var out []Notification
	for _, note := range n.items {
		if note.ID > id {
			out = append(out, note)
		}
	}
	return out
}
