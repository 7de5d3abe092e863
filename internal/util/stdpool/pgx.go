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

// Package stdpool creates standardized database connection pools.
package stdpool

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/dialect"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const applicationName = "trigsync"

// OpenPgxAsStaging uses pgx to open a database connection, returning it
// as a [types.StagingPool]. The pool will be closed when the context is
// stopped.
func OpenPgxAsStaging(
	ctx *stopper.Context, connectString string, options ...Option,
) (*types.StagingPool, error) {
	cfg, err := parsePgxConfig(connectString, options)
	if err != nil {
		return nil, err
	}
	impl, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		impl.Close()
		return nil
	})

	ret := &types.StagingPool{
		Pool: impl,
		PoolInfo: types.PoolInfo{
			ConnectionString: connectString,
		},
	}

	if err := retry.Retry(ctx, func(ctx context.Context) error {
		return ret.QueryRow(ctx, "SELECT version()").Scan(&ret.Version)
	}); err != nil {
		return nil, errors.Wrap(err, "could not determine cluster version")
	}

	if ret.Product, err = pgProduct(ret.Version); err != nil {
		return nil, err
	}
	if err := checkMinVersion(ret.Product, ret.Version); err != nil {
		return nil, err
	}

	applyPgxPool(ctx, impl, options)
	return ret, nil
}

// OpenPgxAsTarget uses pgx to open a database connection, returning it
// as a stdlib pool.
func OpenPgxAsTarget(
	ctx *stopper.Context, connectString string, options ...Option,
) (*types.TargetPool, error) {
	cfg, err := parsePgxConfig(connectString, options)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*cfg.ConnConfig)
	closeOnStop(ctx, db)

	ret := &types.TargetPool{
		DB: db,
		PoolInfo: types.PoolInfo{
			ConnectionString: connectString,
		},
	}

	if err := retry.Retry(ctx, func(ctx context.Context) error {
		return ret.QueryRowContext(ctx, "SELECT version()").Scan(&ret.Version)
	}); err != nil {
		return nil, errors.Wrap(err, "could not determine cluster version")
	}

	if ret.Product, err = pgProduct(ret.Version); err != nil {
		return nil, err
	}
	if err := checkMinVersion(ret.Product, ret.Version); err != nil {
		return nil, err
	}
	if ret.Dialect, err = dialect.ForProduct(ret.Product); err != nil {
		return nil, err
	}

	applySQLDB(ctx, db, options)
	return ret, nil
}

func parsePgxConfig(connectString string, options []Option) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(connectString)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %q", connectString)
	}
	// Identify traffic.
	if _, found := cfg.ConnConfig.RuntimeParams["application_name"]; !found {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	applyPgxConfig(cfg, options)
	return cfg, nil
}

func pgProduct(version string) (types.Product, error) {
	switch {
	case strings.HasPrefix(version, "CockroachDB"):
		return types.ProductCockroachDB, nil
	case strings.HasPrefix(version, "PostgreSQL"):
		return types.ProductPostgreSQL, nil
	default:
		return types.ProductUnknown, errors.Errorf("unknown product for version: %s", version)
	}
}

// closeOnStop closes the database when the context is stopped.
func closeOnStop(ctx *stopper.Context, db *sql.DB) {
	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("error closing database connection")
		}
		return nil
	})
}
