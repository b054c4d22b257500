// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/dbinterface"
)

// FileSelection is the persisted included-file set of one job.
type FileSelection struct {
	Backend   string    `json:"backend"`
	JobID     string    `json:"jobId"`
	Indices   []int     `json:"indices"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SelectionStore persists file selections keyed by backend and job. Both keys
// are interned in string_pool.
type SelectionStore struct {
	db dbinterface.Querier
}

func NewSelectionStore(db dbinterface.Querier) *SelectionStore {
	return &SelectionStore{db: db}
}

// Get returns the stored selection. found is false when the job has never
// been saved.
func (s *SelectionStore) Get(ctx context.Context, backend, jobID string) (selection *FileSelection, found bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := dbinterface.GetStringID(ctx, tx, backend, jobID)
	if err != nil {
		return nil, false, err
	}
	if !ids[0].Valid || !ids[1].Valid {
		return nil, false, nil
	}

	var (
		indicesJSON string
		updatedAt   time.Time
	)
	err = tx.QueryRowContext(ctx,
		"SELECT indices_json, updated_at FROM file_selections WHERE backend_id = ? AND job_id = ?",
		ids[0].Int64, ids[1].Int64).Scan(&indicesJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load file selection: %w", err)
	}

	indices, err := decodeIndicesJSON(indicesJSON)
	if err != nil {
		return nil, false, err
	}

	return &FileSelection{
		Backend:   backend,
		JobID:     jobID,
		Indices:   indices,
		UpdatedAt: updatedAt,
	}, true, nil
}

// JobIDs lists the jobs with a stored selection for backend.
func (s *SelectionStore) JobIDs(ctx context.Context, backend string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	backendIDs, err := dbinterface.GetStringID(ctx, tx, backend)
	if err != nil {
		return nil, err
	}
	if !backendIDs[0].Valid {
		return []string{}, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT job_id FROM file_selections WHERE backend_id = ? ORDER BY job_id", backendIDs[0].Int64)
	if err != nil {
		return nil, fmt.Errorf("failed to list file selections: %w", err)
	}
	defer rows.Close()

	var jobIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan file selection: %w", err)
		}
		jobIDs = append(jobIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list file selections: %w", err)
	}
	rows.Close()

	return dbinterface.GetString(ctx, tx, jobIDs...)
}

// Save replaces the stored selection. Indices are stored sorted and
// deduplicated.
func (s *SelectionStore) Save(ctx context.Context, backend, jobID string, indices []int) (*FileSelection, error) {
	normalized := slices.Clone(indices)
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	if normalized == nil {
		normalized = []int{}
	}

	payload, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode indices: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := dbinterface.InternStrings(ctx, tx, backend, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to intern strings: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_selections (backend_id, job_id, indices_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(backend_id, job_id) DO UPDATE SET
			indices_json = excluded.indices_json,
			updated_at = excluded.updated_at`,
		ids[0], ids[1], string(payload), now)
	if err != nil {
		return nil, fmt.Errorf("failed to save file selection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Trace().Str("backend", backend).Str("job", jobID).Int("included", len(normalized)).Msg("Saved file selection")

	return &FileSelection{Backend: backend, JobID: jobID, Indices: normalized, UpdatedAt: now}, nil
}

// Delete forgets a stored selection. Deleting a missing selection is not an
// error.
func (s *SelectionStore) Delete(ctx context.Context, backend, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := dbinterface.GetStringID(ctx, tx, backend, jobID)
	if err != nil {
		return err
	}
	if !ids[0].Valid || !ids[1].Valid {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM file_selections WHERE backend_id = ? AND job_id = ?", ids[0].Int64, ids[1].Int64); err != nil {
		return fmt.Errorf("failed to delete file selection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Trace().Str("backend", backend).Str("job", jobID).Msg("Deleted file selection")
	return nil
}

func decodeIndicesJSON(raw string) ([]int, error) {
	if raw == "" {
		return []int{}, nil
	}
	var out []int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode indices: %w", err)
	}
	if out == nil {
		out = []int{}
	}
	return out, nil
}
