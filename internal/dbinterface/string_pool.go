// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLite has SQLITE_MAX_VARIABLE_NUMBER limit (default 999); stay below it.
const maxParams = 900

// InternStrings interns one or more non-empty strings and returns their IDs in
// input order. Duplicates share one ID. Designed for use within transactions.
func InternStrings(ctx context.Context, tx TxQuerier, values ...string) ([]int64, error) {
	if len(values) == 0 {
		return []int64{}, nil
	}

	for i, value := range values {
		if value == "" {
			return nil, fmt.Errorf("value at index %d is empty", i)
		}
	}

	if len(values) == 1 {
		// INSERT OR IGNORE is slightly faster than ON CONFLICT DO NOTHING
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO string_pool (value) VALUES (?)", values[0]); err != nil {
			return nil, err
		}
	} else {
		unique := dedupe(values)
		const queryTemplate = "INSERT OR IGNORE INTO string_pool (value) VALUES %s"
		fullQuery := BuildQueryWithPlaceholders(queryTemplate, 1, maxParams)

		for i := 0; i < len(unique); i += maxParams {
			chunk := unique[i:min(i+maxParams, len(unique))]

			query := fullQuery
			if len(chunk) < maxParams {
				query = BuildQueryWithPlaceholders(queryTemplate, 1, len(chunk))
			}
			if _, err := tx.ExecContext(ctx, query, toArgs(chunk)...); err != nil {
				return nil, fmt.Errorf("failed to batch insert strings: %w", err)
			}
		}
	}

	ids, err := GetStringID(ctx, tx, values...)
	if err != nil {
		return nil, err
	}

	result := make([]int64, len(ids))
	for i, id := range ids {
		if !id.Valid {
			return nil, fmt.Errorf("failed to get ID for interned string %q", values[i])
		}
		result[i] = id.Int64
	}
	return result, nil
}

// GetStringID looks up the IDs of strings without creating them. Missing and
// empty strings yield sql.NullInt64{Valid: false}.
func GetStringID(ctx context.Context, tx TxQuerier, values ...string) ([]sql.NullInt64, error) {
	results := make([]sql.NullInt64, len(values))
	if len(values) == 0 {
		return results, nil
	}

	if len(values) == 1 {
		if values[0] == "" {
			return results, nil
		}
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM string_pool WHERE value = ?", values[0]).Scan(&id)
		if err == sql.ErrNoRows {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get string ID from pool: %w", err)
		}
		results[0] = sql.NullInt64{Int64: id, Valid: true}
		return results, nil
	}

	var nonEmpty []string
	for _, v := range values {
		if v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	unique := dedupe(nonEmpty)

	valueToID := make(map[string]int64, len(unique))
	for i := 0; i < len(unique); i += maxParams {
		chunk := unique[i:min(i+maxParams, len(unique))]
		err := queryPairs(ctx, tx, "SELECT id, value FROM string_pool WHERE value IN ", chunk, func(id int64, value string) {
			valueToID[value] = id
		})
		if err != nil {
			return nil, err
		}
	}

	for i, v := range values {
		if id, ok := valueToID[v]; ok {
			results[i] = sql.NullInt64{Int64: id, Valid: true}
		}
	}
	return results, nil
}

// GetString resolves IDs back to their strings, in input order.
func GetString(ctx context.Context, tx TxQuerier, ids ...int64) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	if len(ids) == 1 {
		var value string
		if err := tx.QueryRowContext(ctx, "SELECT value FROM string_pool WHERE id = ?", ids[0]).Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to get string from pool: %w", err)
		}
		return []string{value}, nil
	}

	idToValue := make(map[int64]string, len(ids))
	for i := 0; i < len(ids); i += maxParams {
		chunk := ids[i:min(i+maxParams, len(ids))]
		err := queryPairs(ctx, tx, "SELECT id, value FROM string_pool WHERE id IN ", chunk, func(id int64, value string) {
			idToValue[id] = value
		})
		if err != nil {
			return nil, err
		}
	}

	results := make([]string, len(ids))
	for i, id := range ids {
		value, ok := idToValue[id]
		if !ok {
			return nil, fmt.Errorf("string pool has no entry for id %d", id)
		}
		results[i] = value
	}
	return results, nil
}

func queryPairs[T any](ctx context.Context, tx TxQuerier, prefix string, chunk []T, fn func(id int64, value string)) error {
	var sb strings.Builder
	sb.Grow(len(prefix) + len(chunk)*2 + 2)
	sb.WriteString(prefix)
	sb.WriteString("(")
	for j := range chunk {
		if j > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("?")
	}
	sb.WriteString(")")

	rows, err := tx.QueryContext(ctx, sb.String(), toArgs(chunk)...)
	if err != nil {
		return fmt.Errorf("failed to query string pool: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return fmt.Errorf("failed to scan string pool row: %w", err)
		}
		fn(id, value)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating string pool rows: %w", err)
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func toArgs[T any](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
