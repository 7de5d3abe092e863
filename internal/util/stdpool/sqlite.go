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
	"database/sql"
	"net/url"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/dialect"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // register driver
)

// OpenSQLiteAsTarget opens an embedded SQLite database. The URL path is
// the database file and query parameters are passed to the driver,
// e.g. sqlite:///var/db/target.db?_pragma=journal_mode(WAL).
func OpenSQLiteAsTarget(
	ctx *stopper.Context, connectString string, u *url.URL, options ...Option,
) (*types.TargetPool, error) {
	dsn := u.Opaque
	if dsn == "" {
		dsn = u.Path
	}
	if u.RawQuery != "" {
		dsn += "?" + u.RawQuery
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	closeOnStop(ctx, db)

	ret := &types.TargetPool{
		DB: db,
		PoolInfo: types.PoolInfo{
			ConnectionString: connectString,
			Product:          types.ProductSQLite,
		},
	}
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&ret.Version); err != nil {
		return nil, errors.Wrap(err, "could not query version")
	}
	if ret.Dialect, err = dialect.ForProduct(ret.Product); err != nil {
		return nil, err
	}
	applySQLDB(ctx, db, options)
	return ret, nil
}
