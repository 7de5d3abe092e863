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

package types

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LockType selects the sharing behavior of a cluster lock.
type LockType int

// These are the lock types.
const (
	// LockCluster locks always succeed. They are used for actions
	// which may run redundantly on every member of the cluster.
	LockCluster LockType = iota
	// LockShared locks may be held by any number of holders at once.
	LockShared
	// LockExclusive locks are held by at most one holder.
	LockExclusive
)

func (t LockType) String() string {
	switch t {
	case LockCluster:
		return "CLUSTER"
	case LockShared:
		return "SHARED"
	case LockExclusive:
		return "EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// ParseLockType is the inverse of [LockType.String].
func ParseLockType(s string) (LockType, error) {
	switch strings.ToUpper(s) {
	case "CLUSTER":
		return LockCluster, nil
	case "SHARED":
		return LockShared, nil
	case "EXCLUSIVE":
		return LockExclusive, nil
	default:
		return 0, errors.Errorf("unknown lock type %q", s)
	}
}

// These are the actions which are registered in the lock table when
// the lock manager is initialized.
const (
	ActionFileSyncShared = "FILE_SYNC_SHARED"
	ActionHeartbeat      = "HEARTBEAT"
	ActionLoad           = "LOAD"
	ActionPull           = "PULL"
	ActionPurgeDataGaps  = "PURGE_DATA_GAPS"
	ActionPurgeIncoming  = "PURGE_INCOMING"
	ActionPurgeOutgoing  = "PURGE_OUTGOING"
	ActionPush           = "PUSH"
	ActionRoute          = "ROUTE"
	ActionStatistics     = "STATISTICS"
	ActionSyncTriggers   = "SYNC_TRIGGERS"
	ActionWatchdog       = "WATCHDOG"
)

// KnownActions returns the actions created by default.
func KnownActions() []string {
	return []string{
		ActionFileSyncShared,
		ActionHeartbeat,
		ActionLoad,
		ActionPull,
		ActionPurgeDataGaps,
		ActionPurgeIncoming,
		ActionPurgeOutgoing,
		ActionPush,
		ActionRoute,
		ActionStatistics,
		ActionSyncTriggers,
		ActionWatchdog,
	}
}

// Lock is the state of one named action in the lock table.
type Lock struct {
	Action              string
	Type                LockType
	LockingServerID     string // Empty if the lock is free.
	LockTime            time.Time
	SharedCount         int
	SharedEnable        bool
	LastLockingServerID string
	LastLockTime        time.Time
}

// Idle returns true if no process holds the lock.
func (l *Lock) Idle() bool {
	return l.LockingServerID == "" && l.SharedCount == 0
}
