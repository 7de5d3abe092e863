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

package gaps

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Store persists gap state in the staging database. Open gaps and the
// history of closed gaps share a table and are distinguished by their
// status.
type Store struct {
	pool *types.StagingPool
	sql  struct {
		deleteHistory string
		deleteOpen    string
		getHighWater  string
		insertGap     string
		loadGaps      string
		putHighWater  string
	}
}

var _ types.GapStore = (*Store)(nil)

const (
	gapSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
  space       TEXT        NOT NULL,
  start_id    BIGINT      NOT NULL,
  end_id      BIGINT      NOT NULL,
  status      TEXT        NOT NULL,
  create_time TIMESTAMPTZ NOT NULL,
  last_update TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (space, start_id, end_id)
)`
	highWaterSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
  space       TEXT        NOT NULL PRIMARY KEY,
  high_water  BIGINT      NOT NULL,
  last_update TIMESTAMPTZ NOT NULL
)`

	gapDeleteHistory = `DELETE FROM %[1]s WHERE status <> 'OK' AND last_update < $1`
	gapDeleteOpen    = `DELETE FROM %[1]s WHERE space = $1 AND status = 'OK'`
	gapGetHighWater  = `SELECT high_water FROM %[1]s WHERE space = $1`
	gapInsert        = `
INSERT INTO %[1]s (space, start_id, end_id, status, create_time, last_update)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (space, start_id, end_id)
DO UPDATE SET status = excluded.status, last_update = excluded.last_update`
	gapLoad = `
SELECT start_id, end_id, create_time, last_update
  FROM %[1]s
 WHERE space = $1 AND status = 'OK'
 ORDER BY start_id`
	gapPutHighWater = `
INSERT INTO %[1]s (space, high_water, last_update) VALUES ($1, $2, $3)
ON CONFLICT (space) DO UPDATE SET high_water = excluded.high_water, last_update = excluded.last_update`
)

// NewStore creates the gap tables, if necessary.
func NewStore(ctx context.Context, pool *types.StagingPool, staging ident.StagingSchema) (*Store, error) {
	gapTable := staging.Table("sym_data_gap")
	hwTable := staging.Table("sym_data_gap_space")
	if err := retry.Execute(ctx, pool, fmt.Sprintf(gapSchema, gapTable)); err != nil {
		return nil, err
	}
	if err := retry.Execute(ctx, pool, fmt.Sprintf(highWaterSchema, hwTable)); err != nil {
		return nil, err
	}

	ret := &Store{pool: pool}
	ret.sql.deleteHistory = fmt.Sprintf(gapDeleteHistory, gapTable)
	ret.sql.deleteOpen = fmt.Sprintf(gapDeleteOpen, gapTable)
	ret.sql.getHighWater = fmt.Sprintf(gapGetHighWater, hwTable)
	ret.sql.insertGap = fmt.Sprintf(gapInsert, gapTable)
	ret.sql.loadGaps = fmt.Sprintf(gapLoad, gapTable)
	ret.sql.putHighWater = fmt.Sprintf(gapPutHighWater, hwTable)
	return ret, nil
}

// DeleteHistory implements [types.GapStore].
func (s *Store) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, s.sql.deleteHistory, before)
		count = tag.RowsAffected()
		return errors.WithStack(err)
	})
	return count, err
}

// Load implements [types.GapStore].
func (s *Store) Load(ctx context.Context, space string) (types.GapSnapshot, bool, error) {
	var ret types.GapSnapshot
	var found bool
	err := retry.Retry(ctx, func(ctx context.Context) error {
		ret = types.GapSnapshot{}
		err := s.pool.QueryRow(ctx, s.sql.getHighWater, space).Scan(&ret.HighWater)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		found = true

		rows, err := s.pool.Query(ctx, s.sql.loadGaps, space)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			gap := types.DataGap{Status: types.GapOpen}
			if err := rows.Scan(&gap.StartID, &gap.EndID, &gap.CreateTime, &gap.LastUpdate); err != nil {
				return errors.WithStack(err)
			}
			ret.Gaps = append(ret.Gaps, gap)
		}
		return errors.WithStack(rows.Err())
	})
	return ret, found, err
}

// Save implements [types.GapStore]. The open gaps are replaced and the
// high-water mark is updated in a single transaction.
func (s *Store) Save(
	ctx context.Context, space string, snap types.GapSnapshot, closed []types.DataGap,
) error {
	now := time.Now().UTC()
	return retry.Retry(ctx, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, s.sql.deleteOpen, space); err != nil {
				return errors.WithStack(err)
			}
			batch := &pgx.Batch{}
			for _, gap := range closed {
				batch.Queue(s.sql.insertGap, space, gap.StartID, gap.EndID,
					gap.Status.Code(), gap.CreateTime, gap.LastUpdate)
			}
			for _, gap := range snap.Gaps {
				batch.Queue(s.sql.insertGap, space, gap.StartID, gap.EndID,
					types.GapOpen.Code(), gap.CreateTime, gap.LastUpdate)
			}
			batch.Queue(s.sql.putHighWater, space, snap.HighWater, now)
			return errors.WithStack(tx.SendBatch(ctx, batch).Close())
		})
	})
}
