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

package load

import (
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/dbconf"
	"github.com/cockroachdb/trigsync/internal/replay"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config contains the configuration needed to load batch files.
type Config struct {
	Cluster cluster.Config
	Replay  replay.Config
	Staging dbconf.StagingConfig
	Target  dbconf.TargetConfig
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	c.Cluster.Bind(f)
	c.Replay.Bind(f)
	c.Staging.Bind(f)
	c.Target.Bind(f)
}

// Preflight validates the configuration.
func (c *Config) Preflight() error {
	if err := c.Cluster.Preflight(); err != nil {
		return errors.Wrap(err, "cluster")
	}
	if err := c.Replay.Preflight(); err != nil {
		return errors.Wrap(err, "replay")
	}
	if err := c.Staging.Preflight(); err != nil {
		return errors.Wrap(err, "staging")
	}
	return errors.Wrap(c.Target.Preflight(), "target")
}
