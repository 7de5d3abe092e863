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

package gaps

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Defaults for flag bindings.
const (
	DefaultDetectPeriod = time.Second
	DefaultGapTimeout   = 20 * time.Minute
	DefaultMaxGapSize   = 10_000
	DefaultScanLimit    = 10_000
	DefaultSpace        = "default"
)

// Config controls gap detection.
type Config struct {
	DetectPeriod time.Duration // How often to look for new ids.
	// GapTimeout is how long a gap may remain open before it is
	// assumed to belong to a transaction that will never commit.
	GapTimeout time.Duration
	// MaxGapSize is the largest jump in ids which is not reported as
	// suspicious.
	MaxGapSize int64
	ScanLimit  int    // Limits the ids read above the high-water mark per pass.
	Space      string // Names the sequence space being tracked.
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	f.DurationVar(&c.DetectPeriod, "gapDetectPeriod", DefaultDetectPeriod,
		"how often to scan the change log for new sequence ids")
	f.DurationVar(&c.GapTimeout, "gapTimeout", DefaultGapTimeout,
		"how long an unfilled gap in the sequence is retained before it is confirmed empty")
	f.Int64Var(&c.MaxGapSize, "gapMaxSize", DefaultMaxGapSize,
		"log a warning when a single gap is larger than this")
	f.IntVar(&c.ScanLimit, "gapScanLimit", DefaultScanLimit,
		"the maximum number of new sequence ids to read in one pass")
	f.StringVar(&c.Space, "gapSpace", DefaultSpace,
		"the name of the sequence space whose gaps are tracked")
}

// Preflight applies defaults and validates the configuration.
func (c *Config) Preflight() error {
	if c.DetectPeriod <= 0 {
		c.DetectPeriod = DefaultDetectPeriod
	}
	if c.GapTimeout < 0 {
		return errors.New("gapTimeout must not be negative")
	}
	if c.GapTimeout == 0 {
		c.GapTimeout = DefaultGapTimeout
	}
	if c.MaxGapSize <= 0 {
		c.MaxGapSize = DefaultMaxGapSize
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = DefaultScanLimit
	}
	if c.Space == "" {
		c.Space = DefaultSpace
	}
	return nil
}
