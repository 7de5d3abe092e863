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

// Package retry contains utility code for retrying database transactions.
package retry

import (
	"context"
	"strconv"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Marker is a settable flag.
type Marker bool

// Mark sets the flag.
func (m *Marker) Mark() { *m = true }

// Marked returns the flag status.
func (m *Marker) Marked() bool { return bool(*m) }

// Execute is a wrapper around Retry that can be used for sql
// queries that don't have any return values.
func Execute(ctx context.Context, db types.StagingQuerier, query string, args ...any) error {
	return Retry(ctx, func(ctx context.Context) error {
		_, err := db.Exec(ctx, query, args...)
		return errors.WithStack(err)
	})
}

// Retry is a convenience wrapper to automatically retry idempotent
// database operations that experience a transaction or or connection
// failure. The provided callback must be entirely idempotent, with
// no observable side-effects during its execution.
func Retry(ctx context.Context, idempotent func(context.Context) error) error {
	return Loop(ctx, func(ctx context.Context, _ *Marker) error {
		return idempotent(ctx)
	})
}

// inLoop is a key used by Loop to detect reentrant behavior.
type inLoop struct{}

// Loop is a convenience wrapper to automatically retry idempotent
// database operations that experience a transaction or a connection
// failure. The provided callback may indicate that it has started
// generating observable effects (e.g. sending result data) by calling
// its second parameter to disable the retry behavior.
//
// If Loop is called in a reentrant fashion, the retry behavior will be
// suppressed within an inner loop, allowing the retryable error to
// percolate into the outer loop.
func Loop(ctx context.Context, fn func(ctx context.Context, sideEffect *Marker) error) error {
	const maxAttempts = 10
	if outerMarker, ok := ctx.Value(inLoop{}).(*Marker); ok {
		return fn(ctx, outerMarker)
	}

	var sideEffect Marker
	ctx = context.WithValue(ctx, inLoop{}, &sideEffect)
	actionsCount.Inc()
	attempt := 0
	for {
		err := fn(ctx, &sideEffect)
		if err == nil || sideEffect.Marked() {
			return err
		}

		driver, code, retryable := isRetryable(err)
		if driver == "" {
			return err
		}
		if !retryable {
			abortedCount.WithLabelValues(driver, code).Inc()
			return err
		}
		retryCount.WithLabelValues(driver, code).Inc()

		attempt++
		if attempt >= maxAttempts {
			return errors.Wrapf(err, "maximum number of retries (%d) exceeded", maxAttempts)
		}
	}
}

// isRetryable returns the driver name, the driver-specific error code,
// and whether the operation may succeed if retried. An empty driver is
// returned for errors which did not come from a database.
func isRetryable(err error) (driver, code string, retryable bool) {
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001": // Serialization Failure
		case "40003": // Statement Completion Unknown
		case "08003": // Connection Does Not Exist
		case "08006": // Connection Failure
		default:
			return "pgx", pgErr.Code, false
		}
		return "pgx", pgErr.Code, true
	}
	if myErr := (*mysql.MySQLError)(nil); errors.As(err, &myErr) {
		code = strconv.Itoa(int(myErr.Number))
		switch myErr.Number {
		case 1205: // Lock wait timeout exceeded
		case 1213: // Deadlock found when trying to get lock
		default:
			return "mysql", code, false
		}
		return "mysql", code, true
	}
	return "", "", false
}
