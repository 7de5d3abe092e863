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

package types

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EventType identifies the kind of row mutation that was captured.
type EventType int

// These are the captured event types.
const (
	EventUnknown EventType = iota
	EventInsert
	EventUpdate
	EventDelete
)

// Code returns the single-letter code that is stored in the change
// log.
func (e EventType) Code() string {
	switch e {
	case EventInsert:
		return "I"
	case EventUpdate:
		return "U"
	case EventDelete:
		return "D"
	default:
		return "?"
	}
}

func (e EventType) String() string {
	switch e {
	case EventInsert:
		return "INSERT"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseEventType accepts either the single-letter code or the full
// name of an event type.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToUpper(s) {
	case "I", "INSERT":
		return EventInsert, nil
	case "U", "UPDATE":
		return EventUpdate, nil
	case "D", "DELETE":
		return EventDelete, nil
	default:
		return EventUnknown, errors.Errorf("unknown event type %q", s)
	}
}

// A Value is the textual representation of a column value. A nil Value
// is SQL NULL.
type Value = *string

// V is a convenience for constructing non-null Values.
func V(s string) Value { return &s }

// ChangeRecord is one captured row mutation.
type ChangeRecord struct {
	// SequenceID is assigned when the record is appended to the change
	// log. Ids increase monotonically but may have gaps.
	SequenceID int64
	Table      string
	Event      EventType
	// RowData holds the values of all columns after the change. It is
	// empty for deletes.
	RowData []Value
	// OldData holds the values of all columns before the change. It is
	// present for updates and deletes when the source can report it.
	OldData []Value
	// PKData holds the primary-key values that identify the row.
	PKData []Value
	// Channel partitions records into independently ordered streams.
	Channel string
	// TransactionID groups records committed together. It is nil if the
	// source cannot report a transaction identifier.
	TransactionID *string
	ExternalData  string
	CreateTime    time.Time
}

// ColumnKind describes how a column's values are compared during
// capture.
type ColumnKind int

// These are the column comparison kinds.
const (
	KindText ColumnKind = iota
	KindNumeric
	KindBoolean
	KindTemporal
	// KindLOB columns are not compared by value.
	KindLOB
)

// Column describes a column in a captured or replayed table.
type Column struct {
	Name       string
	Type       string // The type name, as reported by the database.
	PrimaryKey bool
}

// ErrorClass buckets database errors by how the replay engine reacts
// to them.
type ErrorClass int

// These are the error classes.
const (
	// ErrorData is any error which is not otherwise classified.
	ErrorData ErrorClass = iota
	// ErrorDuplicateKey is a primary-key or unique constraint
	// violation.
	ErrorDuplicateKey
)

// Dialect encapsulates the behaviors that vary between target database
// products. A single Dialect is selected when the target pool is
// opened.
type Dialect interface {
	// Classify buckets an error returned by the database driver.
	Classify(err error) ErrorClass
	// Kind determines how a column's values are compared.
	Kind(col Column) ColumnKind
	// IsLob returns true if the column's old value cannot be compared
	// inline.
	IsLob(col Column) bool
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// Product identifies the database.
	Product() Product
	// SavepointPerStatement returns true if a failed statement aborts
	// the enclosing transaction, so fallible statements must be
	// wrapped in a savepoint.
	SavepointPerStatement() bool
	// SQLState extracts a state code, vendor code, and message from a
	// driver error.
	SQLState(err error) (state string, code int, message string)
}
