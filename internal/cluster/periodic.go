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
	"math/rand"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrStopJob may be returned by a callback passed to Periodic to
// prevent it from being invoked again.
var ErrStopJob = errors.New("stop periodic job")

// Periodic starts a goroutine which invokes the callback every period
// while holding the named lock. Ticks on which the lock is contended
// are skipped. Errors returned by the callback are logged and the job
// continues. The lock is always released before the next tick.
func (m *Manager) Periodic(
	ctx *stopper.Context,
	action string,
	typ types.LockType,
	period time.Duration,
	fn func(ctx context.Context) error,
) {
	ctx.Go(func(ctx *stopper.Context) error {
		entry := log.WithField("action", action)
		for {
			if err := m.runOnce(ctx, action, typ, fn); err != nil {
				if errors.Is(err, ErrStopJob) || errors.Is(err, context.Canceled) {
					entry.Trace("periodic job exiting")
					return nil
				}
				jobErrors.WithLabelValues(action).Inc()
				entry.WithError(err).Error("periodic job failed; continuing")
			}

			// Jitter the polling time to even out the load.
			delay := period
			if jitter := int64(period / 10); jitter > 0 {
				delay += time.Duration(rand.Int63n(jitter))
			}
			select {
			case <-time.After(delay):
			case <-ctx.Stopping():
				return nil
			}
		}
	})
}

func (m *Manager) runOnce(
	ctx context.Context, action string, typ types.LockType, fn func(ctx context.Context) error,
) error {
	ok, err := m.Lock(ctx, action, typ)
	if err != nil {
		return err
	}
	if !ok {
		log.WithField("action", action).Trace("lock is busy, skipping")
		return nil
	}
	defer func() {
		// Release the lock even if the job is being stopped.
		if err := m.Unlock(context.WithoutCancel(ctx), action, typ); err != nil {
			log.WithField("action", action).WithError(err).Warn("could not release lock")
		}
	}()

	start := time.Now()
	err = fn(ctx)
	jobDurations.WithLabelValues(action).Observe(time.Since(start).Seconds())
	return err
}
