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

package purge

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Defaults for flag bindings.
const (
	DefaultGapRetention      = 24 * time.Hour
	DefaultIncomingRetention = 24 * time.Hour
	DefaultMaxIDsPerDelete   = 5_000
	DefaultPeriod            = 10 * time.Minute
	DefaultRetention         = 24 * time.Hour
	DefaultRouteWait         = 30 * time.Second
)

// Config controls the purge jobs.
type Config struct {
	GapRetention      time.Duration // Age at which closed gaps are deleted.
	IncomingRetention time.Duration // Age at which loaded batches are deleted.
	MaxIDsPerDelete   int           // Change log records deleted per statement.
	Period            time.Duration // How often each purge job runs.
	Retention         time.Duration // Age at which change log records may be deleted.
	// RouteWait limits how long the outgoing purge waits to exclude
	// gap detection.
	RouteWait time.Duration
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	f.DurationVar(&c.GapRetention, "purgeGapRetention", DefaultGapRetention,
		"delete closed gap history older than this")
	f.DurationVar(&c.IncomingRetention, "purgeIncomingRetention", DefaultIncomingRetention,
		"delete successfully loaded batch history older than this")
	f.IntVar(&c.MaxIDsPerDelete, "purgeMaxIDsPerDelete", DefaultMaxIDsPerDelete,
		"the number of change log records to delete in one statement")
	f.DurationVar(&c.Period, "purgePeriod", DefaultPeriod,
		"how often to run the purge jobs")
	f.DurationVar(&c.Retention, "purgeRetention", DefaultRetention,
		"retain captured changes for at least this long")
	f.DurationVar(&c.RouteWait, "purgeRouteWait", DefaultRouteWait,
		"how long the change log purge waits for gap detection to pause")
}

// Preflight applies defaults and validates the configuration.
func (c *Config) Preflight() error {
	if c.GapRetention < 0 || c.IncomingRetention < 0 || c.Retention < 0 {
		return errors.New("retention periods must not be negative")
	}
	if c.GapRetention == 0 {
		c.GapRetention = DefaultGapRetention
	}
	if c.IncomingRetention == 0 {
		c.IncomingRetention = DefaultIncomingRetention
	}
	if c.MaxIDsPerDelete <= 0 {
		c.MaxIDsPerDelete = DefaultMaxIDsPerDelete
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.RouteWait <= 0 {
		c.RouteWait = DefaultRouteWait
	}
	return nil
}
