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

package retry

import (
	"context"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestLoopRetriesSerializationFailures(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	attempts := 0
	err := Retry(ctx, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.WithStack(&pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	a.NoError(err)
	a.Equal(3, attempts)
}

func TestLoopStopsOnOtherErrors(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	for name, fail := range map[string]error{
		"pg":    &pgconn.PgError{Code: "23505"},
		"mysql": &mysql.MySQLError{Number: 1062},
		"plain": errors.New("boom"),
	} {
		t.Run(name, func(t *testing.T) {
			attempts := 0
			err := Retry(ctx, func(context.Context) error {
				attempts++
				return fail
			})
			a.ErrorIs(err, fail)
			a.Equal(1, attempts)
		})
	}
}

func TestLoopSideEffects(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	attempts := 0
	err := Loop(ctx, func(_ context.Context, sideEffect *Marker) error {
		attempts++
		sideEffect.Mark()
		return &mysql.MySQLError{Number: 1213}
	})
	a.Error(err)
	a.Equal(1, attempts)
}

func TestLoopMaxAttempts(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	attempts := 0
	err := Retry(ctx, func(context.Context) error {
		attempts++
		return &pgconn.PgError{Code: "08006"}
	})
	a.ErrorContains(err, "maximum number of retries")
	a.Equal(10, attempts)
}

func TestLoopReentrant(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	outer := 0
	inner := 0
	err := Retry(ctx, func(ctx context.Context) error {
		outer++
		return Retry(ctx, func(context.Context) error {
			inner++
			if inner < 2 {
				return &pgconn.PgError{Code: "40001"}
			}
			return nil
		})
	})
	a.NoError(err)
	a.Equal(2, outer)
	a.Equal(2, inner)
}

func TestIsRetryable(t *testing.T) {
	tcs := []struct {
		err       error
		driver    string
		code      string
		retryable bool
	}{
		{err: errors.New("boom")},
		{err: &pgconn.PgError{Code: "40001"}, driver: "pgx", code: "40001", retryable: true},
		{err: &pgconn.PgError{Code: "23505"}, driver: "pgx", code: "23505"},
		{err: &mysql.MySQLError{Number: 1205}, driver: "mysql", code: "1205", retryable: true},
		{err: &mysql.MySQLError{Number: 1062}, driver: "mysql", code: "1062"},
	}
	for _, tc := range tcs {
		t.Run(tc.err.Error(), func(t *testing.T) {
			a := assert.New(t)
			driver, code, retryable := isRetryable(errors.WithStack(tc.err))
			a.Equal(tc.driver, driver)
			a.Equal(tc.code, code)
			a.Equal(tc.retryable, retryable)
		})
	}
}
