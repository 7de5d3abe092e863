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
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
)

// memoryStore is an in-memory lock table, used for testing and by
// single-process deployments.
type memoryStore struct {
	mu    sync.Mutex
	locks map[string]*types.Lock
}

var _ store = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{locks: make(map[string]*types.Lock)}
}

func (s *memoryStore) acquire(
	_ context.Context, action string, typ types.LockType, serverID string, now time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[action]
	if !ok {
		return false, nil
	}
	switch typ {
	case types.LockCluster:
		return true, nil
	case types.LockExclusive:
		if lock.LockingServerID != "" || lock.SharedCount > 0 {
			return false, nil
		}
		lock.Type = types.LockExclusive
		lock.LockingServerID = serverID
		lock.LockTime = now
		lock.SharedEnable = false
		return true, nil
	case types.LockShared:
		if lock.LockingServerID != "" && lock.Type != types.LockShared {
			return false, nil
		}
		if !lock.SharedEnable && lock.SharedCount > 0 {
			return false, nil
		}
		if lock.SharedCount == 0 {
			lock.SharedEnable = true
		}
		lock.Type = types.LockShared
		lock.LockingServerID = serverID
		lock.LockTime = now
		lock.SharedCount++
		return true, nil
	default:
		return false, errors.Errorf("unknown lock type %d", typ)
	}
}

func (s *memoryStore) disableShared(_ context.Context, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[action]; ok {
		lock.SharedEnable = false
	}
	return nil
}

func (s *memoryStore) ensure(_ context.Context, actions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, action := range actions {
		if _, ok := s.locks[action]; !ok {
			s.locks[action] = &types.Lock{Action: action}
		}
	}
	return nil
}

func (s *memoryStore) exists(_ context.Context, action string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locks[action]
	return ok, nil
}

func (s *memoryStore) list(_ context.Context) ([]*types.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*types.Lock, 0, len(s.locks))
	for _, lock := range s.locks {
		cpy := *lock
		ret = append(ret, &cpy)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Action < ret[j].Action })
	return ret, nil
}

func (s *memoryStore) release(
	_ context.Context, action string, typ types.LockType, serverID string, now time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[action]
	if !ok {
		return false, nil
	}
	switch typ {
	case types.LockCluster:
	case types.LockExclusive:
		if lock.Type != types.LockExclusive || lock.LockingServerID != serverID {
			return false, nil
		}
		clearHolder(lock)
		lock.SharedEnable = false
	case types.LockShared:
		if lock.Type != types.LockShared || lock.SharedCount == 0 {
			return false, nil
		}
		lock.SharedCount--
		if lock.SharedCount == 0 {
			clearHolder(lock)
		}
	default:
		return false, errors.Errorf("unknown lock type %d", typ)
	}
	lock.LastLockingServerID = serverID
	lock.LastLockTime = now
	return true, nil
}

func (s *memoryStore) reset(_ context.Context, serverID string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []string
	for action, lock := range s.locks {
		if lock.LockingServerID != serverID {
			continue
		}
		clearHolder(lock)
		lock.SharedCount = 0
		lock.SharedEnable = false
		lock.LastLockingServerID = serverID
		lock.LastLockTime = now
		ret = append(ret, action)
	}
	sort.Strings(ret)
	return ret, nil
}

func clearHolder(lock *types.Lock) {
	lock.Type = types.LockCluster
	lock.LockingServerID = ""
	lock.LockTime = time.Time{}
}
