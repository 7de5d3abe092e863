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
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// BatchStatus is the outcome of an [IncomingBatch] load.
type BatchStatus string

// These are the batch states.
const (
	BatchLoading BatchStatus = "LD"
	BatchOK      BatchStatus = "OK"
	BatchError   BatchStatus = "ER"
)

// IncomingBatch records one attempt to apply a delivered batch.
type IncomingBatch struct {
	BatchID int64
	NodeID  string // The source node.
	Channel string
	Status  BatchStatus

	StatementCount      int64
	FallbackInsertCount int64
	FallbackUpdateCount int64
	MissingDeleteCount  int64
	IgnoreCount         int64
	SkipCount           int64
	// FailedRowNumber is the 1-based position of the record which
	// caused the batch to fail, or zero.
	FailedRowNumber int64
	ByteCount       int64

	SQLState   string
	SQLCode    int
	SQLMessage string

	StartTime  time.Time
	EndTime    time.Time
	LastUpdate time.Time
}

func (b *IncomingBatch) String() string {
	return fmt.Sprintf("%s-%d", b.NodeID, b.BatchID)
}

// Resolution describes how a row which could not be applied was
// disposed of.
type Resolution string

// These are the recorded resolutions.
const (
	ResolveIgnore Resolution = "IGNORE"
	ResolveManual Resolution = "MANUAL"
)

// IncomingError describes a row which a conflict policy set aside
// instead of failing its batch.
type IncomingError struct {
	BatchID         int64
	NodeID          string
	FailedRowNumber int64
	Table           string
	Event           EventType
	RowData         []Value
	OldData         []Value
	PKData          []Value
	SQLState        string
	SQLCode         int
	SQLMessage      string
	Resolution      Resolution
	CreateTime      time.Time
}

// ParseError is returned when a batch payload is structurally invalid.
// No batch state is recorded when a ParseError occurs.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed batch at line %d: %s", e.Line, e.Reason)
}

// IsParseError returns the ParseError if err wraps one.
func IsParseError(err error) (*ParseError, bool) {
	var ret *ParseError
	if errors.As(err, &ret) {
		return ret, true
	}
	return nil, false
}
