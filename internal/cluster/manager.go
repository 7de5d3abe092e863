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

// Package cluster coordinates named activities between processes which
// share a staging database.
package cluster

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// errContended is used internally to keep LockWait polling.
var errContended = errors.New("lock is held")

// Manager implements [types.Locks] on top of a lock table. Locks are
// not reentrant: a process which holds an EXCLUSIVE lock cannot
// acquire it again until it is released.
type Manager struct {
	cfg   *Config
	store store
	now   func() time.Time
}

var _ types.Locks = (*Manager)(nil)

// New constructs a Manager whose lock table is stored in the staging
// database. Call [Manager.Init] before using the Manager.
func New(
	ctx context.Context, cfg *Config, pool types.StagingQuerier, staging ident.StagingSchema,
) (*Manager, error) {
	st, err := newSQLStore(ctx, pool, staging.Table("sym_lock"))
	if err != nil {
		return nil, err
	}
	return newManager(cfg, st), nil
}

// NewMemory constructs a Manager whose lock table is held in memory.
func NewMemory(cfg *Config) *Manager {
	return newManager(cfg, newMemoryStore())
}

func newManager(cfg *Config, st store) *Manager {
	return &Manager{
		cfg:   cfg,
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Init registers the known actions and any extra actions in the lock
// table. Locks which are still attributed to this server were
// abandoned by a previous incarnation of the process and are reset.
func (m *Manager) Init(ctx context.Context, extra ...string) error {
	actions := append(types.KnownActions(), extra...)
	if err := m.store.ensure(ctx, actions); err != nil {
		return errors.Wrap(err, "could not initialize lock table")
	}
	reset, err := m.store.reset(ctx, m.cfg.ServerID, m.now())
	if err != nil {
		return errors.Wrap(err, "could not reset abandoned locks")
	}
	for _, action := range reset {
		abandonedLocks.WithLabelValues(action).Inc()
		log.WithFields(log.Fields{
			"action":   action,
			"serverID": m.cfg.ServerID,
		}).Info("cleared abandoned lock")
	}
	return nil
}

// FindLocks returns the contents of the lock table.
func (m *Manager) FindLocks(ctx context.Context) ([]*types.Lock, error) {
	return m.store.list(ctx)
}

// Lock implements [types.Locks].
func (m *Manager) Lock(ctx context.Context, action string, typ types.LockType) (bool, error) {
	ok, err := m.store.acquire(ctx, action, typ, m.cfg.ServerID, m.now())
	if err != nil {
		return false, errors.Wrapf(err, "could not acquire %s lock on %s", typ, action)
	}
	if ok {
		lockAcquired.WithLabelValues(action).Inc()
		log.WithFields(log.Fields{"action": action, "type": typ}).Trace("acquired lock")
		return true, nil
	}
	if known, err := m.store.exists(ctx, action); err != nil {
		return false, err
	} else if !known {
		return false, errors.Wrap(types.ErrUnknownAction, action)
	}
	lockContended.WithLabelValues(action).Inc()
	return false, nil
}

// LockWait implements [types.Locks]. It polls at the configured
// interval until the lock is acquired or the timeout elapses. A
// non-positive timeout makes a single attempt. If an EXCLUSIVE lock
// cannot be acquired, new shared holders are turned away so that the
// exclusive waiter is not starved.
func (m *Manager) LockWait(
	ctx context.Context, action string, typ types.LockType, timeout time.Duration,
) (bool, error) {
	start := time.Now()
	defer func() {
		lockWaitDurations.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	var cancel context.CancelFunc
	var policy backoff.BackOff
	waitCtx := ctx
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		policy = backoff.NewConstantBackOff(m.cfg.LockWaitRetry)
	} else {
		policy = &backoff.StopBackOff{}
	}

	var acquired bool
	err := backoff.Retry(func() error {
		ok, err := m.Lock(waitCtx, action, typ)
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case ok:
			acquired = true
			return nil
		}
		// Keep new shared holders from starving the exclusive waiter.
		if typ == types.LockExclusive {
			if err := m.store.disableShared(waitCtx, action); err != nil {
				return backoff.Permanent(err)
			}
		}
		log.WithFields(log.Fields{"action": action, "type": typ}).Trace("waiting for lock")
		return errContended
	}, backoff.WithContext(policy, waitCtx))

	switch {
	case acquired:
		return true, nil
	case ctx.Err() != nil:
		// The caller gave up.
		return false, ctx.Err()
	case errors.Is(err, errContended) || errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

// ServerID returns the identity used in the lock table.
func (m *Manager) ServerID() string {
	return m.cfg.ServerID
}

// Unlock implements [types.Locks]. It is an error to release a lock
// which is not held.
func (m *Manager) Unlock(ctx context.Context, action string, typ types.LockType) error {
	ok, err := m.store.release(ctx, action, typ, m.cfg.ServerID, m.now())
	if err != nil {
		return errors.Wrapf(err, "could not release %s lock on %s", typ, action)
	}
	if !ok {
		if known, err := m.store.exists(ctx, action); err != nil {
			return err
		} else if !known {
			return errors.Wrap(types.ErrUnknownAction, action)
		}
		return errors.Errorf("%s lock on %s is not held by %s", typ, action, m.cfg.ServerID)
	}
	lockReleased.WithLabelValues(action).Inc()
	log.WithFields(log.Fields{"action": action, "type": typ}).Trace("released lock")
	return nil
}

// Diagnostic implements [diag.Diagnostic] by reporting the lock table.
func (m *Manager) Diagnostic(ctx context.Context) any {
	locks, err := m.FindLocks(ctx)
	if err != nil {
		return err.Error()
	}
	return map[string]any{
		"locks":    locks,
		"serverID": m.cfg.ServerID,
	}
}
