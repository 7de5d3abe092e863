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

package cluster

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

// store performs the atomic state transitions of the lock table.
// Every method other than list must be a single read-modify-write.
type store interface {
	// acquire returns false if the lock is held incompatibly or if the
	// action does not exist.
	acquire(ctx context.Context, action string, typ types.LockType, serverID string, now time.Time) (bool, error)
	// disableShared prevents new shared holders from joining.
	disableShared(ctx context.Context, action string) error
	// ensure creates rows for missing actions.
	ensure(ctx context.Context, actions []string) error
	exists(ctx context.Context, action string) (bool, error)
	list(ctx context.Context) ([]*types.Lock, error)
	// release returns false if the lock was not held.
	release(ctx context.Context, action string, typ types.LockType, serverID string, now time.Time) (bool, error)
	// reset clears every lock held by the server and returns the
	// affected actions.
	reset(ctx context.Context, serverID string, now time.Time) ([]string, error)
}

// sqlStore keeps the lock table in the staging database.
type sqlStore struct {
	pool types.StagingQuerier
	sql  struct {
		acquireExclusive string
		acquireShared    string
		disableShared    string
		ensure           string
		exists           string
		list             string
		releaseCluster   string
		releaseExclusive string
		releaseShared    string
		reset            string
	}
}

var _ store = (*sqlStore)(nil)

const (
	lockSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
  lock_action            TEXT        NOT NULL PRIMARY KEY,
  lock_type              TEXT,
  locking_server_id      TEXT,
  lock_time              TIMESTAMPTZ,
  shared_count           INT         NOT NULL DEFAULT 0,
  shared_enable          BOOLEAN     NOT NULL DEFAULT false,
  last_locking_server_id TEXT,
  last_lock_time         TIMESTAMPTZ
)`

	lockAcquireExclusive = `
UPDATE %[1]s
   SET lock_type = 'EXCLUSIVE', locking_server_id = $2, lock_time = $3, shared_enable = false
 WHERE lock_action = $1 AND locking_server_id IS NULL AND shared_count = 0`

	lockAcquireShared = `
UPDATE %[1]s
   SET lock_type = 'SHARED', locking_server_id = $2, lock_time = $3,
       shared_enable = CASE WHEN shared_count = 0 THEN true ELSE shared_enable END,
       shared_count = shared_count + 1
 WHERE lock_action = $1
   AND (locking_server_id IS NULL OR lock_type = 'SHARED')
   AND (shared_enable OR shared_count = 0)`

	lockDisableShared = `UPDATE %[1]s SET shared_enable = false WHERE lock_action = $1`

	lockEnsure = `
INSERT INTO %[1]s (lock_action, shared_count, shared_enable) VALUES ($1, 0, false)
ON CONFLICT (lock_action) DO NOTHING`

	lockExists = `SELECT count(*) FROM %[1]s WHERE lock_action = $1`

	lockList = `
SELECT lock_action, lock_type, locking_server_id, lock_time, shared_count,
       shared_enable, last_locking_server_id, last_lock_time
  FROM %[1]s
 ORDER BY lock_action`

	lockReleaseCluster = `
UPDATE %[1]s SET last_locking_server_id = $2, last_lock_time = $3
 WHERE lock_action = $1`

	lockReleaseExclusive = `
UPDATE %[1]s
   SET lock_type = NULL, locking_server_id = NULL, lock_time = NULL, shared_enable = false,
       last_locking_server_id = $2, last_lock_time = $3
 WHERE lock_action = $1 AND lock_type = 'EXCLUSIVE' AND locking_server_id = $2`

	lockReleaseShared = `
UPDATE %[1]s
   SET lock_type         = CASE WHEN shared_count = 1 THEN NULL ELSE lock_type END,
       locking_server_id = CASE WHEN shared_count = 1 THEN NULL ELSE locking_server_id END,
       lock_time         = CASE WHEN shared_count = 1 THEN NULL ELSE lock_time END,
       shared_count      = shared_count - 1,
       last_locking_server_id = $2, last_lock_time = $3
 WHERE lock_action = $1 AND lock_type = 'SHARED' AND shared_count > 0`

	lockReset = `
UPDATE %[1]s
   SET lock_type = NULL, locking_server_id = NULL, lock_time = NULL,
       shared_count = 0, shared_enable = false,
       last_locking_server_id = $1, last_lock_time = $2
 WHERE locking_server_id = $1
RETURNING lock_action`
)

func newSQLStore(ctx context.Context, pool types.StagingQuerier, target ident.Table) (*sqlStore, error) {
	if err := retry.Execute(ctx, pool, fmt.Sprintf(lockSchema, target)); err != nil {
		return nil, err
	}
	ret := &sqlStore{pool: pool}
	ret.sql.acquireExclusive = fmt.Sprintf(lockAcquireExclusive, target)
	ret.sql.acquireShared = fmt.Sprintf(lockAcquireShared, target)
	ret.sql.disableShared = fmt.Sprintf(lockDisableShared, target)
	ret.sql.ensure = fmt.Sprintf(lockEnsure, target)
	ret.sql.exists = fmt.Sprintf(lockExists, target)
	ret.sql.list = fmt.Sprintf(lockList, target)
	ret.sql.releaseCluster = fmt.Sprintf(lockReleaseCluster, target)
	ret.sql.releaseExclusive = fmt.Sprintf(lockReleaseExclusive, target)
	ret.sql.releaseShared = fmt.Sprintf(lockReleaseShared, target)
	ret.sql.reset = fmt.Sprintf(lockReset, target)
	return ret, nil
}

// exec runs a single-row update and reports whether the row matched.
func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (bool, error) {
	var matched bool
	err := retry.Retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, q, args...)
		if err != nil {
			return errors.WithStack(err)
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	return matched, err
}

func (s *sqlStore) acquire(
	ctx context.Context, action string, typ types.LockType, serverID string, now time.Time,
) (bool, error) {
	switch typ {
	case types.LockExclusive:
		return s.exec(ctx, s.sql.acquireExclusive, action, serverID, now)
	case types.LockShared:
		return s.exec(ctx, s.sql.acquireShared, action, serverID, now)
	case types.LockCluster:
		return s.exists(ctx, action)
	default:
		return false, errors.Errorf("unknown lock type %d", typ)
	}
}

func (s *sqlStore) disableShared(ctx context.Context, action string) error {
	_, err := s.exec(ctx, s.sql.disableShared, action)
	return err
}

func (s *sqlStore) ensure(ctx context.Context, actions []string) error {
	for _, action := range actions {
		if err := retry.Execute(ctx, s.pool, s.sql.ensure, action); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) exists(ctx context.Context, action string) (bool, error) {
	var count int
	err := retry.Retry(ctx, func(ctx context.Context) error {
		return errors.WithStack(s.pool.QueryRow(ctx, s.sql.exists, action).Scan(&count))
	})
	return count > 0, err
}

func (s *sqlStore) list(ctx context.Context) ([]*types.Lock, error) {
	var ret []*types.Lock
	err := retry.Retry(ctx, func(ctx context.Context) error {
		ret = nil
		rows, err := s.pool.Query(ctx, s.sql.list)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			var lock types.Lock
			var lockType, holder, lastHolder *string
			var lockTime, lastTime *time.Time
			if err := rows.Scan(
				&lock.Action, &lockType, &holder, &lockTime, &lock.SharedCount,
				&lock.SharedEnable, &lastHolder, &lastTime,
			); err != nil {
				return errors.WithStack(err)
			}
			if lockType != nil {
				if lock.Type, err = types.ParseLockType(*lockType); err != nil {
					return err
				}
			}
			if holder != nil {
				lock.LockingServerID = *holder
			}
			if lockTime != nil {
				lock.LockTime = *lockTime
			}
			if lastHolder != nil {
				lock.LastLockingServerID = *lastHolder
			}
			if lastTime != nil {
				lock.LastLockTime = *lastTime
			}
			ret = append(ret, &lock)
		}
		return errors.WithStack(rows.Err())
	})
	return ret, err
}

func (s *sqlStore) release(
	ctx context.Context, action string, typ types.LockType, serverID string, now time.Time,
) (bool, error) {
	switch typ {
	case types.LockExclusive:
		return s.exec(ctx, s.sql.releaseExclusive, action, serverID, now)
	case types.LockShared:
		return s.exec(ctx, s.sql.releaseShared, action, serverID, now)
	case types.LockCluster:
		return s.exec(ctx, s.sql.releaseCluster, action, serverID, now)
	default:
		return false, errors.Errorf("unknown lock type %d", typ)
	}
}

func (s *sqlStore) reset(ctx context.Context, serverID string, now time.Time) ([]string, error) {
	var ret []string
	err := retry.Retry(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, s.sql.reset, serverID, now)
		if err != nil {
			return errors.WithStack(err)
		}
		ret, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return errors.WithStack(err)
	})
	return ret, err
}
