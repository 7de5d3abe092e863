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
	"strings"

	"github.com/pkg/errors"
)

// A Schema is a dotted, possibly multi-part, namespace that contains
// tables, such as a database and a schema.
type Schema struct {
	parts []Ident
}

// MustSchema calls NewSchema and panics on error.
func MustSchema(parts ...Ident) Schema {
	ret, err := NewSchema(parts...)
	if err != nil {
		panic(err)
	}
	return ret
}

// NewSchema constructs a Schema from one or two parts.
func NewSchema(parts ...Ident) (Schema, error) {
	switch len(parts) {
	case 1, 2:
	default:
		return Schema{}, errors.Errorf("schema must have one or two parts, had %d", len(parts))
	}
	for _, p := range parts {
		if p.Empty() {
			return Schema{}, errors.New("empty schema part")
		}
	}
	return Schema{parts: append([]Ident(nil), parts...)}, nil
}

// ParseSchema splits a dotted name into its parts. Quoting is not
// supported; use NewSchema for names containing dots.
func ParseSchema(s string) (Schema, error) {
	if s == "" {
		return Schema{}, nil
	}
	raw := strings.Split(s, ".")
	parts := make([]Ident, len(raw))
	for i := range raw {
		parts[i] = New(raw[i])
	}
	return NewSchema(parts...)
}

// Empty returns true if the schema has no parts.
func (s Schema) Empty() bool { return len(s.parts) == 0 }

// Idents returns the schema's parts.
func (s Schema) Idents() []Ident {
	return append([]Ident(nil), s.parts...)
}

// Raw returns the unquoted, dotted form of the schema.
func (s Schema) Raw() string {
	raw := make([]string, len(s.parts))
	for i, p := range s.parts {
		raw[i] = p.Raw()
	}
	return strings.Join(raw, ".")
}

func (s Schema) String() string {
	return Idents(s.parts).Join(".")
}

// A Table is a named table within a Schema. A Table with an empty
// schema is unqualified.
type Table struct {
	schema Schema
	name   Ident
}

// NewTable constructs a Table.
func NewTable(schema Schema, name Ident) Table {
	return Table{schema: schema, name: name}
}

// Empty returns true if the table has no name.
func (t Table) Empty() bool { return t.name.Empty() }

// Schema returns the enclosing schema.
func (t Table) Schema() Schema { return t.schema }

// Table returns the table's own name.
func (t Table) Table() Ident { return t.name }

// Raw returns the unquoted, dotted form of the table.
func (t Table) Raw() string {
	if t.schema.Empty() {
		return t.name.Raw()
	}
	return t.schema.Raw() + "." + t.name.Raw()
}

func (t Table) String() string {
	if t.schema.Empty() {
		return t.name.String()
	}
	return t.schema.String() + "." + t.name.String()
}

// SchemaFlag allows Schema fields to be used with the spf13 flags package.
type SchemaFlag Schema

// NewSchemaFlag wraps the given Schema so that it can be used with the
// spf13 flags package.
func NewSchemaFlag(id *Schema) *SchemaFlag {
	return (*SchemaFlag)(id)
}

// Set implements pflag.Value.
func (v *SchemaFlag) Set(s string) error {
	parsed, err := ParseSchema(s)
	if err == nil {
		*(*Schema)(v) = parsed
	}
	return err
}

// String returns the raw value of the underlying Schema.
func (v *SchemaFlag) String() string { return (*Schema)(v).Raw() }

// Type implements pflag.Value.
func (v *SchemaFlag) Type() string { return "schema" }

// StagingSchema is an injection point for the schema which holds
// trigsync's own tables in the staging database.
type StagingSchema Schema

// Schema returns the underlying Schema.
func (s StagingSchema) Schema() Schema { return Schema(s) }

// Table returns the named table within the staging schema.
func (s StagingSchema) Table(name string) Table {
	return NewTable(Schema(s), New(name))
}

func (s StagingSchema) String() string { return Schema(s).String() }
