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

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ChangeLog stores change records in the staging database. Sequence
// ids are assigned by a database sequence, so ids allocated by
// transactions which roll back leave gaps.
type ChangeLog struct {
	pool types.StagingQuerier
	sql  struct {
		append      string
		bounds      string
		deleteRange string
		ids         string
		maxBefore   string
		scan        string
	}
}

var _ types.ChangeLog = (*ChangeLog)(nil)

const (
	changeLogSchema = `
CREATE SEQUENCE IF NOT EXISTS %[2]s;
CREATE TABLE IF NOT EXISTS %[1]s (
  data_id        BIGINT      NOT NULL PRIMARY KEY DEFAULT nextval('%[2]s'),
  table_name     TEXT        NOT NULL,
  event_type     TEXT        NOT NULL,
  row_data       JSONB,
  pk_data        JSONB       NOT NULL,
  old_data       JSONB,
  channel_id     TEXT        NOT NULL,
  transaction_id TEXT,
  external_data  TEXT        NOT NULL DEFAULT '',
  create_time    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (create_time)`

	changeLogAppend = `
INSERT INTO %[1]s
  (table_name, event_type, row_data, pk_data, old_data,
   channel_id, transaction_id, external_data, create_time)
VALUES ($1, $2, $3::JSONB, $4::JSONB, $5::JSONB, $6, $7, $8, $9)
RETURNING data_id`

	changeLogBounds = `SELECT min(data_id), max(data_id) FROM %[1]s`

	changeLogDeleteRange = `
DELETE FROM %[1]s WHERE data_id IN (
  SELECT data_id FROM %[1]s
   WHERE data_id BETWEEN $1 AND $2
   ORDER BY data_id
   LIMIT $3)`

	changeLogIDs = `
SELECT data_id FROM %[1]s
 WHERE data_id BETWEEN $1 AND $2
 ORDER BY data_id
 LIMIT $3`

	changeLogMaxBefore = `SELECT max(data_id) FROM %[1]s WHERE create_time < $1`

	changeLogScan = `
SELECT data_id, table_name, event_type, row_data, pk_data, old_data,
       channel_id, transaction_id, external_data, create_time
  FROM %[1]s
 WHERE data_id > $1
 ORDER BY data_id
 LIMIT $2`
)

// NewChangeLog creates the change log table, if necessary.
func NewChangeLog(
	ctx context.Context, pool types.StagingQuerier, staging ident.StagingSchema,
) (*ChangeLog, error) {
	table := staging.Table("sym_data")
	seq := staging.Table("sym_data_seq")
	index := ident.New("sym_data_create_time")

	// Sequence names are passed as a string literal to nextval.
	seqLiteral := seq.String()
	for _, stmt := range splitStatements(fmt.Sprintf(changeLogSchema, table, seqLiteral, index)) {
		if err := retry.Execute(ctx, pool, stmt); err != nil {
			return nil, errors.Wrap(err, stmt)
		}
	}

	ret := &ChangeLog{pool: pool}
	ret.sql.append = fmt.Sprintf(changeLogAppend, table)
	ret.sql.bounds = fmt.Sprintf(changeLogBounds, table)
	ret.sql.deleteRange = fmt.Sprintf(changeLogDeleteRange, table)
	ret.sql.ids = fmt.Sprintf(changeLogIDs, table)
	ret.sql.maxBefore = fmt.Sprintf(changeLogMaxBefore, table)
	ret.sql.scan = fmt.Sprintf(changeLogScan, table)
	return ret, nil
}

// Append implements [types.ChangeLog].
func (l *ChangeLog) Append(ctx context.Context, rec *types.ChangeRecord) (int64, error) {
	rowData, err := encodeValues(rec.RowData)
	if err != nil {
		return 0, err
	}
	pkData, err := encodeValues(rec.PKData)
	if err != nil {
		return 0, err
	}
	if pkData == nil {
		return 0, errors.New("change record has no key")
	}
	oldData, err := encodeValues(rec.OldData)
	if err != nil {
		return 0, err
	}
	createTime := rec.CreateTime
	if createTime.IsZero() {
		createTime = time.Now().UTC()
	}

	// Not retried: a retry could allocate a second id for the record.
	var id int64
	err = l.pool.QueryRow(ctx, l.sql.append,
		rec.Table,
		rec.Event.Code(),
		rowData,
		pkData,
		oldData,
		rec.Channel,
		rec.TransactionID,
		rec.ExternalData,
		createTime,
	).Scan(&id)
	return id, errors.WithStack(err)
}

// Bounds implements [types.ChangeLog].
func (l *ChangeLog) Bounds(ctx context.Context) (lo, hi int64, ok bool, err error) {
	var minID, maxID *int64
	err = retry.Retry(ctx, func(ctx context.Context) error {
		return errors.WithStack(l.pool.QueryRow(ctx, l.sql.bounds).Scan(&minID, &maxID))
	})
	if err != nil || minID == nil {
		return 0, 0, false, err
	}
	return *minID, *maxID, true, nil
}

// DeleteRange implements [types.ChangeLog].
func (l *ChangeLog) DeleteRange(ctx context.Context, rng types.Range, limit int) (int64, error) {
	if rng.Blocked() || rng.Empty() {
		return 0, nil
	}
	var count int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		tag, err := l.pool.Exec(ctx, l.sql.deleteRange, rng.Start, rng.End, sqlLimit(limit))
		count = tag.RowsAffected()
		return errors.WithStack(err)
	})
	changeLogDeletes.Add(float64(count))
	return count, err
}

// IDs implements [types.ChangeLog].
func (l *ChangeLog) IDs(ctx context.Context, rng types.Range, limit int) ([]int64, error) {
	if rng.Blocked() || rng.Empty() {
		return nil, nil
	}
	var ret []int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		ret = ret[:0]
		rows, err := l.pool.Query(ctx, l.sql.ids, rng.Start, rng.End, sqlLimit(limit))
		if err != nil {
			return errors.WithStack(err)
		}
		ret, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		return errors.WithStack(err)
	})
	return ret, err
}

// MaxIDBefore implements [types.ChangeLog].
func (l *ChangeLog) MaxIDBefore(ctx context.Context, before time.Time) (int64, bool, error) {
	var maxID *int64
	err := retry.Retry(ctx, func(ctx context.Context) error {
		return errors.WithStack(l.pool.QueryRow(ctx, l.sql.maxBefore, before).Scan(&maxID))
	})
	if err != nil || maxID == nil {
		return 0, false, err
	}
	return *maxID, true, nil
}

// Scan implements [types.ChangeLog].
func (l *ChangeLog) Scan(ctx context.Context, after int64, limit int) ([]*types.ChangeRecord, error) {
	var ret []*types.ChangeRecord
	err := retry.Retry(ctx, func(ctx context.Context) error {
		ret = nil
		rows, err := l.pool.Query(ctx, l.sql.scan, after, sqlLimit(limit))
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec types.ChangeRecord
			var event string
			var rowData, pkData, oldData []byte
			if err := rows.Scan(
				&rec.SequenceID,
				&rec.Table,
				&event,
				&rowData,
				&pkData,
				&oldData,
				&rec.Channel,
				&rec.TransactionID,
				&rec.ExternalData,
				&rec.CreateTime,
			); err != nil {
				return errors.WithStack(err)
			}
			if rec.Event, err = types.ParseEventType(event); err != nil {
				return err
			}
			if rec.RowData, err = decodeValues(rowData); err != nil {
				return err
			}
			if rec.PKData, err = decodeValues(pkData); err != nil {
				return err
			}
			if rec.OldData, err = decodeValues(oldData); err != nil {
				return err
			}
			ret = append(ret, &rec)
		}
		return errors.WithStack(rows.Err())
	})
	return ret, err
}

// encodeValues returns a JSON array or nil for SQL NULL.
func encodeValues(values []types.Value) (any, error) {
	if values == nil {
		return nil, nil
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return string(buf), nil
}

func decodeValues(buf []byte) ([]types.Value, error) {
	if buf == nil {
		return nil, nil
	}
	var ret []types.Value
	if err := json.Unmarshal(buf, &ret); err != nil {
		return nil, errors.Wrap(err, "could not decode column values")
	}
	return ret, nil
}

func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return math.MaxInt64
	}
	return int64(limit)
}

func splitStatements(sql string) []string {
	var ret []string
	for _, stmt := range strings.Split(sql, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			ret = append(ret, stmt)
		}
	}
	return ret
}
