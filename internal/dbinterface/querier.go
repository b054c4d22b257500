// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the database abstractions shared by stores.
package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Querier is the handle stores receive. It can run statements directly or
// open a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (TxQuerier, error)
}

// TxQuerier is an open transaction.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// BuildQueryWithPlaceholders expands the single %s in template into rowCount
// groups of columnsPerRow placeholders, e.g. "(?,?),(?,?)".
func BuildQueryWithPlaceholders(template string, columnsPerRow, rowCount int) string {
	if columnsPerRow <= 0 || rowCount <= 0 {
		return fmt.Sprintf(template, "")
	}

	group := "(" + strings.TrimSuffix(strings.Repeat("?,", columnsPerRow), ",") + ")"

	var sb strings.Builder
	sb.Grow(rowCount * (len(group) + 1))
	for i := range rowCount {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(group)
	}
	return fmt.Sprintf(template, sb.String())
}
