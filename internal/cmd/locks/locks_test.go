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

package locks

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintLocks(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var sb strings.Builder
	r.NoError(printLocks(&sb, []*types.Lock{
		{
			Action:          types.ActionPurgeOutgoing,
			Type:            types.LockExclusive,
			LockingServerID: "node-a",
			LockTime:        now,
		},
		{
			Action:              types.ActionRoute,
			LastLockingServerID: "node-b",
			LastLockTime:        now,
		},
	}))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	r.Len(lines, 3)
	a.True(strings.HasPrefix(lines[0], "ACTION"))
	a.Contains(lines[1], "PURGE_OUTGOING")
	a.Contains(lines[1], "node-a")
	a.Contains(lines[1], "2024-03-01T12:00:00Z")
	a.Contains(lines[2], "ROUTE")
	a.Contains(lines[2], "node-b")
}

func TestResetRequiresServer(t *testing.T) {
	cmd := Command()
	cmd.SetArgs([]string{"reset", "--stagingConn", "postgresql://localhost"})
	cmd.SilenceUsage = true
	assert.ErrorContains(t, cmd.Execute(), "serverID")
}
