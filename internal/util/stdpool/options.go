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

package stdpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// An Option configures a connection pool. Each hook is optional and
// options that have no meaning for a driver are ignored.
type Option struct {
	pgxConfig func(cfg *pgxpool.Config)
	pgxPool   func(ctx context.Context, pool *pgxpool.Pool)
	sqlDB     func(ctx context.Context, db *sql.DB)
}

func applyPgxConfig(cfg *pgxpool.Config, options []Option) {
	for _, o := range options {
		if o.pgxConfig != nil {
			o.pgxConfig(cfg)
		}
	}
}

func applyPgxPool(ctx context.Context, pool *pgxpool.Pool, options []Option) {
	for _, o := range options {
		if o.pgxPool != nil {
			o.pgxPool(ctx, pool)
		}
	}
}

func applySQLDB(ctx context.Context, db *sql.DB, options []Option) {
	for _, o := range options {
		if o.sqlDB != nil {
			o.sqlDB(ctx, db)
		}
	}
}

// WithConnectionLifetime bounds how long connections are reused. Zero
// values keep the driver defaults. The jitter is only supported by
// pgx pools.
func WithConnectionLifetime(lifetime, idle, jitter time.Duration) Option {
	return Option{
		pgxConfig: func(cfg *pgxpool.Config) {
			if idle > 0 {
				cfg.MaxConnIdleTime = idle
			}
			if jitter > 0 {
				cfg.MaxConnLifetimeJitter = jitter
			}
			if lifetime > 0 {
				cfg.MaxConnLifetime = lifetime
			}
		},
		sqlDB: func(_ context.Context, db *sql.DB) {
			if idle > 0 {
				db.SetConnMaxIdleTime(idle)
			}
			if lifetime > 0 {
				db.SetConnMaxLifetime(lifetime)
			}
		},
	}
}

// WithPoolSize limits the number of open connections.
func WithPoolSize(size int) Option {
	if size <= 0 {
		return Option{}
	}
	return Option{
		pgxConfig: func(cfg *pgxpool.Config) {
			// Keep one connection warm.
			cfg.MinConns = 1
			cfg.MaxConns = int32(size)
		},
		sqlDB: func(_ context.Context, db *sql.DB) {
			db.SetMaxIdleConns(size)
			db.SetMaxOpenConns(size)
		},
	}
}

// WithTransactionTimeout sets a server-side limit on how long a
// session may sit idle inside a transaction. It is only supported by
// PostgreSQL-compatible databases.
func WithTransactionTimeout(d time.Duration) Option {
	if d <= 0 {
		return Option{}
	}
	return Option{
		pgxConfig: func(cfg *pgxpool.Config) {
			cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] =
				fmt.Sprintf("%d", d.Milliseconds())
		},
	}
}
