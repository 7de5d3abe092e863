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

// Package ident contains types for safely representing SQL identifiers.
package ident

import (
	"strings"
)

// Public is a commonly-used identifier.
var Public = New("public")

// An Ident is a quoted SQL identifier, generally a table, column, or
// database.
type Ident struct {
	raw string
}

// New returns a quoted SQL identifier.
func New(raw string) Ident {
	return Ident{raw: raw}
}

// Empty returns true if the identifier is empty.
func (n Ident) Empty() bool { return n.raw == "" }

// Raw returns the original, unquoted value.
func (n Ident) Raw() string { return n.raw }

// String returns the ident in a manner suitable for constructing a
// query. Embedded quotes are doubled. Target MySQL connections are
// placed into ANSI_QUOTES mode, so the same quoting applies to every
// supported product.
func (n Ident) String() string {
	return `"` + strings.ReplaceAll(n.raw, `"`, `""`) + `"`
}

// Idents is a slice of Ident.
type Idents []Ident

// Join returns the quoted identifiers, separated by the delimiter.
func (n Idents) Join(delim string) string {
	var sb strings.Builder
	for i, id := range n {
		if i > 0 {
			sb.WriteString(delim)
		}
		sb.WriteString(id.String())
	}
	return sb.String()
}

// NewIdents is a convenience for constructing a slice of Ident.
func NewIdents(raw ...string) Idents {
	ret := make(Idents, len(raw))
	for i, r := range raw {
		ret[i] = New(r)
	}
	return ret
}
