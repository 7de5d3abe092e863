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

// Package memo stores small values, such as high-water marks and
// cursors, in the staging database.
package memo

import (
	"context"
	"fmt"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Memo is a key store that persists a value associated to a key.
type Memo struct {
	pool types.StagingQuerier
	sql  struct {
		get    string
		update string
	}
}

var _ types.Memo = (*Memo)(nil)

const (
	schema = `
CREATE TABLE IF NOT EXISTS %[1]s (
  key   TEXT  NOT NULL PRIMARY KEY,
  value BYTEA NOT NULL
)`
	updateTemplate = `
INSERT INTO %[1]s (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	getTemplate = `SELECT value FROM %[1]s WHERE key = $1`
)

// New creates the memo table, if necessary, and returns a Memo which
// stores values in it.
func New(ctx context.Context, pool types.StagingQuerier, target ident.Table) (*Memo, error) {
	if err := retry.Execute(ctx, pool, fmt.Sprintf(schema, target)); err != nil {
		return nil, err
	}
	ret := &Memo{pool: pool}
	ret.sql.get = fmt.Sprintf(getTemplate, target)
	ret.sql.update = fmt.Sprintf(updateTemplate, target)
	return ret, nil
}

// Get retrieves a value given a key or nil if it does not exist.
func (m *Memo) Get(ctx context.Context, key string) ([]byte, error) {
	var ret []byte
	err := retry.Retry(ctx, func(ctx context.Context) error {
		err := m.pool.QueryRow(ctx, m.sql.get, key).Scan(&ret)
		return errors.WithStack(err)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ret, err
}

// Put stores the key-value in the staging database.
func (m *Memo) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return retry.Execute(ctx, m.pool, m.sql.update, key, value)
}
