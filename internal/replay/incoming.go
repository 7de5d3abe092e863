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

package replay

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

// Batches stores [types.IncomingBatch] rows in the staging database.
type Batches struct {
	pool types.StagingQuerier
	sql  struct {
		delete       string
		deleteBefore string
		get          string
		incSkip      string
		put          string
	}
}

var _ types.IncomingBatches = (*Batches)(nil)

const (
	batchSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
  batch_id              BIGINT      NOT NULL,
  node_id               TEXT        NOT NULL,
  channel_id            TEXT        NOT NULL,
  status                TEXT        NOT NULL,
  statement_count       BIGINT      NOT NULL DEFAULT 0,
  fallback_insert_count BIGINT      NOT NULL DEFAULT 0,
  fallback_update_count BIGINT      NOT NULL DEFAULT 0,
  missing_delete_count  BIGINT      NOT NULL DEFAULT 0,
  ignore_count          BIGINT      NOT NULL DEFAULT 0,
  skip_count            BIGINT      NOT NULL DEFAULT 0,
  failed_row_number     BIGINT      NOT NULL DEFAULT 0,
  byte_count            BIGINT      NOT NULL DEFAULT 0,
  sql_state             TEXT        NOT NULL DEFAULT '',
  sql_code              BIGINT      NOT NULL DEFAULT 0,
  sql_message           TEXT        NOT NULL DEFAULT '',
  start_time            TIMESTAMPTZ NOT NULL,
  end_time              TIMESTAMPTZ,
  last_update           TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (batch_id, node_id)
)`

	batchCols = `batch_id, node_id, channel_id, status,
statement_count, fallback_insert_count, fallback_update_count,
missing_delete_count, ignore_count, skip_count, failed_row_number,
byte_count, sql_state, sql_code, sql_message,
start_time, end_time, last_update`

	batchDelete       = `DELETE FROM %[1]s WHERE node_id = $1 AND batch_id = $2`
	batchDeleteBefore = `DELETE FROM %[1]s WHERE status = 'OK' AND end_time < $1`
	batchGet          = `SELECT ` + batchCols + ` FROM %[1]s WHERE node_id = $1 AND batch_id = $2`
	batchIncSkip      = `
UPDATE %[1]s SET skip_count = skip_count + 1, last_update = $3
 WHERE node_id = $1 AND batch_id = $2
RETURNING ` + batchCols
	batchPut = `
INSERT INTO %[1]s (` + batchCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (batch_id, node_id) DO UPDATE SET
  channel_id = excluded.channel_id,
  status = excluded.status,
  statement_count = excluded.statement_count,
  fallback_insert_count = excluded.fallback_insert_count,
  fallback_update_count = excluded.fallback_update_count,
  missing_delete_count = excluded.missing_delete_count,
  ignore_count = excluded.ignore_count,
  skip_count = excluded.skip_count,
  failed_row_number = excluded.failed_row_number,
  byte_count = excluded.byte_count,
  sql_state = excluded.sql_state,
  sql_code = excluded.sql_code,
  sql_message = excluded.sql_message,
  start_time = excluded.start_time,
  end_time = excluded.end_time,
  last_update = excluded.last_update`
)

// NewBatches creates the incoming batch table, if necessary.
func NewBatches(
	ctx context.Context, pool types.StagingQuerier, staging ident.StagingSchema,
) (*Batches, error) {
	table := staging.Table("sym_incoming_batch")
	if err := retry.Execute(ctx, pool, fmt.Sprintf(batchSchema, table)); err != nil {
		return nil, err
	}
	ret := &Batches{pool: pool}
	ret.sql.delete = fmt.Sprintf(batchDelete, table)
	ret.sql.deleteBefore = fmt.Sprintf(batchDeleteBefore, table)
	ret.sql.get = fmt.Sprintf(batchGet, table)
	ret.sql.incSkip = fmt.Sprintf(batchIncSkip, table)
	ret.sql.put = fmt.Sprintf(batchPut, table)
	return ret, nil
}

// Delete implements [types.IncomingBatches].
func (s *Batches) Delete(ctx context.Context, nodeID string, batchID int64) error {
	return retry.Execute(ctx, s.pool, s.sql.delete, nodeID, batchID)
}

// DeleteBefore implements [types.IncomingBatches].
func (s *Batches) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, s.sql.deleteBefore, before)
		count = tag.RowsAffected()
		return errors.WithStack(err)
	})
	return count, err
}

// Get implements [types.IncomingBatches].
func (s *Batches) Get(
	ctx context.Context, nodeID string, batchID int64,
) (*types.IncomingBatch, bool, error) {
	var ret *types.IncomingBatch
	err := retry.Retry(ctx, func(ctx context.Context) error {
		var err error
		ret, err = scanBatch(s.pool.QueryRow(ctx, s.sql.get, nodeID, batchID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ret, true, nil
}

// IncrementSkip implements [types.IncomingBatches].
func (s *Batches) IncrementSkip(
	ctx context.Context, nodeID string, batchID int64,
) (*types.IncomingBatch, error) {
	var ret *types.IncomingBatch
	err := retry.Retry(ctx, func(ctx context.Context) error {
		var err error
		ret, err = scanBatch(s.pool.QueryRow(ctx, s.sql.incSkip, nodeID, batchID, time.Now().UTC()))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Errorf("batch %s-%d not found", nodeID, batchID)
	}
	return ret, err
}

// Put implements [types.IncomingBatches].
func (s *Batches) Put(ctx context.Context, b *types.IncomingBatch) error {
	var end *time.Time
	if !b.EndTime.IsZero() {
		end = &b.EndTime
	}
	return retry.Execute(ctx, s.pool, s.sql.put,
		b.BatchID,
		b.NodeID,
		b.Channel,
		string(b.Status),
		b.StatementCount,
		b.FallbackInsertCount,
		b.FallbackUpdateCount,
		b.MissingDeleteCount,
		b.IgnoreCount,
		b.SkipCount,
		b.FailedRowNumber,
		b.ByteCount,
		b.SQLState,
		b.SQLCode,
		b.SQLMessage,
		b.StartTime,
		end,
		b.LastUpdate,
	)
}

func scanBatch(row pgx.Row) (*types.IncomingBatch, error) {
	ret := &types.IncomingBatch{}
	var status string
	var end *time.Time
	if err := row.Scan(
		&ret.BatchID,
		&ret.NodeID,
		&ret.Channel,
		&status,
		&ret.StatementCount,
		&ret.FallbackInsertCount,
		&ret.FallbackUpdateCount,
		&ret.MissingDeleteCount,
		&ret.IgnoreCount,
		&ret.SkipCount,
		&ret.FailedRowNumber,
		&ret.ByteCount,
		&ret.SQLState,
		&ret.SQLCode,
		&ret.SQLMessage,
		&ret.StartTime,
		&end,
		&ret.LastUpdate,
	); err != nil {
		return nil, errors.WithStack(err)
	}
	ret.Status = types.BatchStatus(status)
	if end != nil {
		ret.EndTime = *end
	}
	return ret, nil
}
