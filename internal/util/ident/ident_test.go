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

package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentQuoting(t *testing.T) {
	a := assert.New(t)
	a.Equal(`"foo"`, New("foo").String())
	a.Equal(`"fo""o"`, New(`fo"o`).String())
	a.Equal(`"a", "b"`, NewIdents("a", "b").Join(", "))
	a.True(New("").Empty())
}

func TestTable(t *testing.T) {
	r := require.New(t)

	sch, err := ParseSchema("db.public")
	r.NoError(err)
	r.Equal(`"db"."public"`, sch.String())
	r.Equal("db.public", sch.Raw())

	tbl := NewTable(sch, New("sym_lock"))
	r.Equal(`"db"."public"."sym_lock"`, tbl.String())
	r.Equal("db.public.sym_lock", tbl.Raw())

	bare := NewTable(Schema{}, New("t"))
	r.Equal(`"t"`, bare.String())

	_, err = ParseSchema("a.b.c")
	r.Error(err)

	var flagged Schema
	f := NewSchemaFlag(&flagged)
	r.NoError(f.Set("other"))
	r.Equal("other", f.String())
}
