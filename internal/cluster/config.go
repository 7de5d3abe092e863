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
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Defaults for flag bindings.
const (
	DefaultLockTimeout   = 30 * time.Second
	DefaultLockWaitRetry = time.Second
)

// Config controls the lock manager.
type Config struct {
	// LockTimeout is the default wait used by jobs which call
	// LockWait.
	LockTimeout time.Duration
	// LockWaitRetry is the polling interval used by LockWait.
	LockWaitRetry time.Duration
	// ServerID identifies this process in the lock table. It defaults
	// to the host name.
	ServerID string
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	f.DurationVar(&c.LockTimeout, "lockTimeout", DefaultLockTimeout,
		"how long jobs wait to acquire a contended cluster lock")
	f.DurationVar(&c.LockWaitRetry, "lockWaitRetry", DefaultLockWaitRetry,
		"how often to poll for a contended cluster lock")
	f.StringVar(&c.ServerID, "serverID", "",
		"identifies this process in the cluster lock table; defaults to the host name")
}

// Preflight applies defaults and validates the configuration.
func (c *Config) Preflight() error {
	if c.LockTimeout < 0 {
		return errors.New("lockTimeout must not be negative")
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.LockWaitRetry <= 0 {
		c.LockWaitRetry = DefaultLockWaitRetry
	}
	if c.ServerID == "" {
		c.ServerID = defaultServerID()
	}
	return nil
}

func defaultServerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
