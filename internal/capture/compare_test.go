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
	"testing"

	"github.com/cockroachdb/trigsync/internal/dialect"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestComparator(t *testing.T) {
	pg, err := dialect.ForProduct(types.ProductPostgreSQL)
	if !assert.NoError(t, err) {
		return
	}
	cmp := NewComparator(pg)

	num := types.Column{Name: "n", Type: "NUMERIC(10,2)"}
	boolean := types.Column{Name: "b", Type: "BOOL"}
	ts := types.Column{Name: "ts", Type: "TIMESTAMPTZ"}
	text := types.Column{Name: "t", Type: "TEXT"}
	lob := types.Column{Name: "l", Type: "BYTEA"}

	tcs := []struct {
		name     string
		col      types.Column
		old, new types.Value
		touched  bool
		changed  bool
	}{
		{"both null", text, nil, nil, true, false},
		{"null to value", text, nil, types.V("a"), true, true},
		{"value to null", text, types.V("a"), nil, true, true},
		{"same text", text, types.V("a"), types.V("a"), true, false},
		{"case matters", text, types.V("a"), types.V("A"), true, true},
		{"trailing zero", num, types.V("10.10"), types.V("10.1"), true, false},
		{"exponent", num, types.V("1e3"), types.V("1000"), true, false},
		{"numeric change", num, types.V("10.10"), types.V("10.11"), true, true},
		{"bad numeric", num, types.V("x"), types.V("y"), true, true},
		{"bool spelling", boolean, types.V("t"), types.V("true"), true, false},
		{"bool digits", boolean, types.V("1"), types.V("TRUE"), true, false},
		{"bool change", boolean, types.V("f"), types.V("true"), true, true},
		{"same instant", ts, types.V("2024-01-01T10:00:00Z"), types.V("2024-01-01 05:00:00-05:00"), true, false},
		{"later instant", ts, types.V("2024-01-01 10:00:00"), types.V("2024-01-01 10:00:01"), true, true},
		{"unparsable time", ts, types.V("soon"), types.V("later"), true, true},
		{"lob untouched", lob, types.V("x"), types.V("y"), false, false},
		{"lob touched", lob, types.V("x"), types.V("x"), true, true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.changed, cmp.Changed(tc.col, tc.old, tc.new, tc.touched))
		})
	}
}
