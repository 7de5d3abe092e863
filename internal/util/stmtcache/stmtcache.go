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

// Package stmtcache provides a bounded cache of prepared statements.
package stmtcache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Cache holds prepared statements retrieved by a comparable key. The
// statements are prepared against the pool and are closed when they
// are evicted or when the context passed to New is stopped.
type Cache[T comparable] struct {
	db *sql.DB

	mu struct {
		sync.Mutex // The LRU list moves on every access.
		cache      *lru.Cache
		evicted    []*sql.Stmt
		stopped    bool
	}
}

// New constructs a Cache for the pool which holds at most size
// statements.
func New[T comparable](ctx *stopper.Context, db *sql.DB, size int) *Cache[T] {
	ret := &Cache[T]{db: db}
	ret.mu.cache = lru.New(size)
	ret.mu.cache.OnEvicted = func(_ lru.Key, value any) {
		// Called with the lock held.
		ret.mu.evicted = append(ret.mu.evicted, value.(*sql.Stmt))
	}
	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		ret.mu.Lock()
		ret.mu.stopped = true
		ret.mu.cache.Clear()
		ret.mu.Unlock()
		ret.release()
		return nil
	})
	return ret
}

// Forget discards the statement for the key, if it is cached.
func (c *Cache[T]) Forget(key T) {
	c.mu.Lock()
	c.mu.cache.Remove(key)
	c.mu.Unlock()
	c.release()
}

// Len returns the number of cached statements.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.cache.Len()
}

// Prepare returns a cached statement or prepares a new one using the
// query returned by gen. If db has a StmtContext method, as [*sql.Tx]
// does, the returned statement is bound to it.
func (c *Cache[T]) Prepare(
	ctx context.Context, db any, key T, gen func() (string, error),
) (*sql.Stmt, error) {
	stmt, err := c.get(ctx, key, gen)
	if err != nil {
		return nil, err
	}
	if tx, ok := db.(interface {
		StmtContext(context.Context, *sql.Stmt) *sql.Stmt
	}); ok {
		stmt = tx.StmtContext(ctx, stmt)
	}
	return stmt, nil
}

func (c *Cache[T]) get(ctx context.Context, key T, gen func() (string, error)) (*sql.Stmt, error) {
	c.mu.Lock()
	found, ok := c.mu.cache.Get(key)
	c.mu.Unlock()
	if ok {
		stmtCacheHits.Inc()
		return found.(*sql.Stmt), nil
	}

	// Prepare outside of the lock. Racing callers may each prepare the
	// statement, in which case the loser is evicted.
	stmtCacheMisses.Inc()
	q, err := gen()
	if err != nil {
		return nil, err
	}
	stmt, err := c.db.PrepareContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, q)
	}

	c.mu.Lock()
	if c.mu.stopped {
		c.mu.evicted = append(c.mu.evicted, stmt)
	} else {
		c.mu.cache.Add(key, stmt)
	}
	c.mu.Unlock()
	c.release()
	return stmt, nil
}

// release closes evicted statements.
func (c *Cache[T]) release() {
	c.mu.Lock()
	toClose := c.mu.evicted
	c.mu.evicted = nil
	c.mu.Unlock()

	for _, stmt := range toClose {
		if err := stmt.Close(); err != nil {
			stmtCacheDrops.Inc()
			log.WithError(err).Debug("could not close prepared statement")
			continue
		}
		stmtCacheReleases.Inc()
	}
}
