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

// Package types contains data types and interfaces that define the
// major functional blocks of code within trigsync. The goal of placing
// the types into this package is to make it easy to compose
// functionality as the project evolves.
package types

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownAction is returned by [Locks] when an action has not been
// registered in the lock table.
var ErrUnknownAction = errors.New("unknown lock action")

// A ChangeLog is the durable store of captured [ChangeRecord] values
// for one sequence space.
type ChangeLog interface {
	// Append assigns a new sequence id to the record and stores it.
	Append(ctx context.Context, rec *ChangeRecord) (int64, error)
	// Bounds returns the smallest and largest stored sequence ids.
	Bounds(ctx context.Context) (lo, hi int64, ok bool, err error)
	// DeleteRange removes up to limit records within the closed range.
	// A non-positive limit deletes the whole range.
	DeleteRange(ctx context.Context, rng Range, limit int) (int64, error)
	// IDs returns the ascending, committed sequence ids within the
	// closed range. A non-positive limit returns all ids.
	IDs(ctx context.Context, rng Range, limit int) ([]int64, error)
	// MaxIDBefore returns the largest sequence id whose record was
	// created strictly before the given time.
	MaxIDBefore(ctx context.Context, before time.Time) (int64, bool, error)
	// Scan returns up to limit records with ids greater than after.
	Scan(ctx context.Context, after int64, limit int) ([]*ChangeRecord, error)
}

// GapStore persists the state of a [DataGap] tracker.
type GapStore interface {
	// DeleteHistory removes gaps which are no longer open and which were
	// last updated before the given time.
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
	// Load returns the last-saved state of the sequence space.
	Load(ctx context.Context, space string) (GapSnapshot, bool, error)
	// Save replaces the open gaps of the sequence space and records the
	// closed gaps as history.
	Save(ctx context.Context, space string, snap GapSnapshot, closed []DataGap) error
}

// IncomingBatches persists the outcome of [IncomingBatch] loads.
type IncomingBatches interface {
	// Delete removes a stored batch. It is used to discard the LD row
	// of a delivery which turned out to be malformed.
	Delete(ctx context.Context, nodeID string, batchID int64) error
	// DeleteBefore removes OK batches that finished before the time.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	// Get returns the stored batch, if any.
	Get(ctx context.Context, nodeID string, batchID int64) (*IncomingBatch, bool, error)
	// IncrementSkip records a redelivery of an already-loaded batch.
	IncrementSkip(ctx context.Context, nodeID string, batchID int64) (*IncomingBatch, error)
	// Put creates or replaces the stored batch.
	Put(ctx context.Context, batch *IncomingBatch) error
}

// Locks coordinates named activities across cooperating processes.
type Locks interface {
	// Lock makes a single attempt to acquire the lock. Contention is
	// reported as false, not as an error.
	Lock(ctx context.Context, action string, typ LockType) (bool, error)
	// LockWait polls for the lock until the timeout elapses.
	LockWait(ctx context.Context, action string, typ LockType, timeout time.Duration) (bool, error)
	// Unlock releases a lock previously acquired by this process.
	Unlock(ctx context.Context, action string, typ LockType) error
}

// Memo is a key store that persists a value associated to a key.
type Memo interface {
	// Get retrieves the value associated to the key, or nil if the key
	// has not been set.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores a value associated to the key.
	Put(ctx context.Context, key string, value []byte) error
}

// An Iterator yields values one at a time. The boolean return value is
// false once the iterator has been exhausted.
type Iterator[T any] interface {
	Next(ctx context.Context) (T, bool, error)
}

// SliceIterator adapts a slice to the [Iterator] interface.
type SliceIterator[T any] struct {
	data []T
	idx  int
}

var _ Iterator[int] = (*SliceIterator[int])(nil)

// NewSliceIterator returns an Iterator over the elements of the slice.
func NewSliceIterator[T any](data []T) *SliceIterator[T] {
	return &SliceIterator[T]{data: data}
}

// Next implements [Iterator].
func (s *SliceIterator[T]) Next(ctx context.Context) (T, bool, error) {
	if err := ctx.Err(); err != nil {
		return *new(T), false, err
	}
	if s.idx >= len(s.data) {
		return *new(T), false, nil
	}
	ret := s.data[s.idx]
	s.idx++
	return ret, true, nil
}
