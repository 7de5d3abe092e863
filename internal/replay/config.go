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
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Defaults for flag bindings.
const (
	DefaultAppliedTable = "sym_incoming_applied"
	DefaultErrorTable   = "sym_incoming_error"
	DefaultLockTimeout  = 30 * time.Second
)

// Config controls the replay engine.
type Config struct {
	// The table in the target database which records the batches whose
	// changes have been committed.
	AppliedTable string
	// The longest protocol line that will be accepted.
	BufferSize int
	// A YAML file of per-node conflict policies.
	ConflictFile string
	// Populated from ConflictFile by Preflight if not set directly.
	Conflicts *Conflicts
	// The table in the target database which receives rows that a
	// conflict policy set aside.
	ErrorTable string
	// If set, batches are loaded while holding an EXCLUSIVE lock on
	// this action.
	LockAction  string
	LockTimeout time.Duration
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	f.StringVar(&c.AppliedTable, "appliedBatchTable", DefaultAppliedTable,
		"the target table which records batches committed to the target")
	f.IntVar(&c.BufferSize, "replayBufferSize", DefaultBufferSize,
		"the maximum length of a line in a batch file")
	f.StringVar(&c.ConflictFile, "conflictConfig", "",
		"a YAML file which sets conflict policies per source node")
	f.StringVar(&c.ErrorTable, "incomingErrorTable", DefaultErrorTable,
		"the target table which records rows set aside by a conflict policy")
	f.StringVar(&c.LockAction, "replayLockAction", "",
		"if set, load batches while holding an exclusive cluster lock on this action")
	f.DurationVar(&c.LockTimeout, "replayLockTimeout", DefaultLockTimeout,
		"how long to wait for the replay lock")
}

// Preflight applies defaults and loads the conflict configuration.
func (c *Config) Preflight() error {
	if c.AppliedTable == "" {
		c.AppliedTable = DefaultAppliedTable
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ErrorTable == "" {
		c.ErrorTable = DefaultErrorTable
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.Conflicts == nil {
		if c.ConflictFile == "" {
			c.Conflicts = &Conflicts{}
		} else {
			var err error
			if c.Conflicts, err = LoadConflicts(c.ConflictFile); err != nil {
				return err
			}
		}
	}
	return errors.Wrap(c.Conflicts.Preflight(), "conflicts")
}
