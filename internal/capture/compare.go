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

package capture

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd"
	"github.com/cockroachdb/trigsync/internal/types"
)

// temporalLayouts are attempted in order when comparing date and time
// values. Values which match none of them are compared textually.
var temporalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999Z07:00",
	"15:04:05.999999999",
}

// A Comparator decides whether a column's value was changed by an
// UPDATE.
type Comparator struct {
	dialect types.Dialect
}

// NewComparator constructs a Comparator which classifies columns using
// the dialect.
func NewComparator(dialect types.Dialect) *Comparator {
	return &Comparator{dialect: dialect}
}

// Changed returns true if the column should be considered modified.
// The touched flag reports whether the writing statement assigned the
// column. It is consulted only for LOB columns, whose prior value
// cannot be read inline, so a LOB column may be over-reported but is
// never under-reported.
func (c *Comparator) Changed(col types.Column, old, new types.Value, touched bool) bool {
	kind := c.dialect.Kind(col)
	if kind == types.KindLOB {
		return touched
	}
	switch {
	case old == nil && new == nil:
		return false
	case old == nil || new == nil:
		return true
	case *old == *new:
		return false
	}
	switch kind {
	case types.KindNumeric:
		if eq, ok := numericEqual(*old, *new); ok {
			return !eq
		}
	case types.KindBoolean:
		if eq, ok := booleanEqual(*old, *new); ok {
			return !eq
		}
	case types.KindTemporal:
		if eq, ok := temporalEqual(*old, *new); ok {
			return !eq
		}
	}
	// Text, or values which could not be parsed.
	return true
}

// numericEqual compares exact decimal values, so that 10.10 and 10.1
// are equal.
func numericEqual(a, b string) (equal bool, ok bool) {
	x, _, err := apd.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return false, false
	}
	y, _, err := apd.NewFromString(strings.TrimSpace(b))
	if err != nil {
		return false, false
	}
	return x.Cmp(y) == 0, true
}

func parseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, true
	case "0", "f", "false", "n", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func booleanEqual(a, b string) (equal bool, ok bool) {
	x, ok := parseBool(a)
	if !ok {
		return false, false
	}
	y, ok := parseBool(b)
	if !ok {
		return false, false
	}
	return x == y, true
}

func parseTemporal(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func temporalEqual(a, b string) (equal bool, ok bool) {
	x, ok := parseTemporal(a)
	if !ok {
		return false, false
	}
	y, ok := parseTemporal(b)
	if !ok {
		return false, false
	}
	return x.Equal(y), true
}
