// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface defines the narrow database surface the stores depend
// on, so they work against *sql.DB and *sql.Tx alike.
package dbinterface

import (
	"context"
	"database/sql"
)

// TxQuerier is the query surface available inside a transaction.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Querier extends TxQuerier with the ability to open transactions.
type Querier interface {
	TxQuerier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	_ Querier   = (*sql.DB)(nil)
	_ TxQuerier = (*sql.Tx)(nil)
)
