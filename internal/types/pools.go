// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/trigsync/internal/util/stmtcache"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Product is an enum type to make it easy to switch on the underlying
// database.
//
//go:generate go run golang.org/x/tools/cmd/stringer -type=Product
type Product int

// These are the database products that have been tested.
const (
	ProductUnknown Product = iota
	ProductCockroachDB
	ProductMySQL
	ProductPostgreSQL
	ProductSQLite
)

// PoolInfo describes a database connection pool and what it's
// connected to.
type PoolInfo struct {
	ConnectionString string
	Product          Product
	Version          string
}

// Info returns the PoolInfo when embedded.
func (i *PoolInfo) Info() *PoolInfo { return i }

// StagingPool is an injection point for a connection to the staging
// database, which holds the lock table, the change log, the gap
// table, and the incoming batch table.
type StagingPool struct {
	*pgxpool.Pool
	PoolInfo
}

// StagingQuerier is implemented by pgxpool.Pool, pgxpool.Conn, pgxpool.Tx,
// pgx.Conn, and pgx.Tx types. This allows a degree of flexibility in
// defining types that require a database connection.
type StagingQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

var (
	_ StagingQuerier = (*pgxpool.Conn)(nil)
	_ StagingQuerier = (*pgxpool.Pool)(nil)
	_ StagingQuerier = (*pgxpool.Tx)(nil)
	_ StagingQuerier = (*pgx.Conn)(nil)
	_ StagingQuerier = (pgx.Tx)(nil)
)

// TargetPool is an injection point for a connection to a target
// database, into which batches are replayed.
type TargetPool struct {
	*sql.DB
	PoolInfo
	Dialect Dialect
}

// TargetStatements is an injection point for a cache of prepared
// statements associated with the TargetPool. Statements are keyed by
// their SQL text.
type TargetStatements struct {
	*stmtcache.Cache[string]
}

// TargetQuerier is implemented by [sql.DB], [sql.Conn], and [sql.Tx].
type TargetQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ TargetQuerier = (*sql.Conn)(nil)
	_ TargetQuerier = (*sql.DB)(nil)
	_ TargetQuerier = (*sql.Tx)(nil)
)
