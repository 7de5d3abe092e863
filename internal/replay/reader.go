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

package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
)

// Protocol tokens. Each line of a batch stream is a JSON object whose
// keys name a single token. The table token may also carry keys and
// columns, and the update token may carry pk.
const (
	tokenBatch   = "batch"
	tokenChannel = "channel"
	tokenColumns = "columns"
	tokenCommit  = "commit"
	tokenDelete  = "delete"
	tokenInsert  = "insert"
	tokenKeys    = "keys"
	tokenNodeID  = "nodeid"
	tokenOld     = "old"
	tokenPK      = "pk"
	tokenTable   = "table"
	tokenTx      = "tx"
	tokenUpdate  = "update"
)

// companions lists the keys which may accompany a primary token.
var companions = map[string]map[string]bool{
	tokenBatch:   {},
	tokenChannel: {},
	tokenCommit:  {},
	tokenDelete:  {},
	tokenInsert:  {},
	tokenNodeID:  {},
	tokenOld:     {},
	tokenTable:   {tokenColumns: true, tokenKeys: true},
	tokenTx:      {},
	tokenUpdate:  {tokenPK: true},
}

// DefaultBufferSize is the longest line the Reader accepts by default.
const DefaultBufferSize = 16 << 20

// A Reader decodes a stream of batches. Batches are read one record at
// a time, so the size of a batch is not limited by available memory.
type Reader struct {
	bufferSize int
	scanner    *bufio.Scanner
	line       int

	// Envelope state, carried between batches.
	channel string
	nodeID  string

	current *BatchReader
}

// NewReader constructs a Reader. A non-positive bufferSize selects
// [DefaultBufferSize].
func NewReader(r io.Reader, bufferSize int) *Reader {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(bufferSize, 64*1024)), bufferSize)
	return &Reader{bufferSize: bufferSize, scanner: scanner}
}

// NextBatch advances to the next batch in the stream. Any unread
// records of the previous batch are consumed first. It returns nil at
// the end of the stream.
func (r *Reader) NextBatch(ctx context.Context) (*BatchReader, error) {
	if r.current != nil {
		if err := r.current.drain(ctx); err != nil {
			return nil, err
		}
		r.current = nil
	}
	for {
		tok, size, ok, err := r.next()
		if err != nil || !ok {
			return nil, err
		}
		switch tok.name {
		case tokenChannel:
			if err := r.decode(tok.value, &r.channel); err != nil {
				return nil, err
			}
		case tokenNodeID:
			if err := r.decode(tok.value, &r.nodeID); err != nil {
				return nil, err
			}
		case tokenBatch:
			var id int64
			if err := r.decode(tok.value, &id); err != nil {
				return nil, err
			}
			if r.nodeID == "" {
				return nil, r.errorf("batch %d has no nodeid", id)
			}
			r.current = &BatchReader{
				r:         r,
				batchID:   id,
				byteCount: size,
				channel:   r.channel,
				nodeID:    r.nodeID,
				tables:    make(map[string]*tableDecl),
			}
			return r.current, nil
		default:
			return nil, r.errorf("%s record outside of a batch", tok.name)
		}
	}
}

// token is one decoded line.
type token struct {
	name   string
	value  json.RawMessage
	extras map[string]json.RawMessage
}

// next returns the next non-blank line and its length in bytes.
func (r *Reader) next() (*token, int64, bool, error) {
	for r.scanner.Scan() {
		r.line++
		buf := r.scanner.Bytes()
		size := int64(len(buf)) + 1 // Include the newline.
		if len(bytes.TrimSpace(buf)) == 0 {
			continue
		}
		var raw map[string]json.RawMessage
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, 0, false, r.errorf("malformed JSON: %v", err)
		}
		tok, err := r.classify(raw)
		if err != nil {
			return nil, 0, false, err
		}
		return tok, size, true, nil
	}
	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, 0, false, r.errorf("line exceeds %d bytes", r.bufferSize)
		}
		return nil, 0, false, errors.WithStack(err)
	}
	return nil, 0, false, nil
}

// classify finds the primary token in a decoded line.
func (r *Reader) classify(raw map[string]json.RawMessage) (*token, error) {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var ret *token
	for _, key := range keys {
		if _, primary := companions[key]; !primary {
			continue
		}
		if ret != nil {
			return nil, r.errorf("record has both %s and %s tokens", ret.name, key)
		}
		ret = &token{name: key, value: raw[key]}
	}
	if ret == nil {
		if len(keys) == 0 {
			return nil, r.errorf("empty record")
		}
		return nil, r.errorf("unknown token %q", keys[0])
	}
	for _, key := range keys {
		if key == ret.name {
			continue
		}
		if !companions[ret.name][key] {
			return nil, r.errorf("unknown token %q in %s record", key, ret.name)
		}
		if ret.extras == nil {
			ret.extras = make(map[string]json.RawMessage)
		}
		ret.extras[key] = raw[key]
	}
	return ret, nil
}

func (r *Reader) decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return r.errorf("bad value: %v", err)
	}
	return nil
}

// values decodes an array of strings, numbers, and nulls.
func (r *Reader) values(data json.RawMessage) ([]types.Value, error) {
	var raw []json.RawMessage
	if err := r.decode(data, &raw); err != nil {
		return nil, err
	}
	ret := make([]types.Value, len(raw))
	for i, elt := range raw {
		elt = bytes.TrimSpace(elt)
		switch {
		case len(elt) == 0:
			return nil, r.errorf("empty value at position %d", i+1)
		case string(elt) == "null":
		case elt[0] == '"':
			var s string
			if err := r.decode(elt, &s); err != nil {
				return nil, err
			}
			ret[i] = types.V(s)
		case elt[0] == '-' || (elt[0] >= '0' && elt[0] <= '9'):
			ret[i] = types.V(string(elt))
		default:
			return nil, r.errorf("unsupported value %s at position %d", elt, i+1)
		}
	}
	return ret, nil
}

func (r *Reader) errorf(format string, args ...any) error {
	return errors.WithStack(&types.ParseError{
		Line:   r.line,
		Reason: fmt.Sprintf(format, args...),
	})
}

// tableDecl is the structure of a table, as announced by the sender.
type tableDecl struct {
	name    string
	columns []string
	keys    []string
	keyIdx  []int // Positions of keys within columns.
}

// A BatchReader yields the records of one batch. It implements
// [types.Iterator].
type BatchReader struct {
	r         *Reader
	batchID   int64
	byteCount int64
	channel   string
	done      bool
	nodeID    string

	old    []types.Value
	table  *tableDecl
	tables map[string]*tableDecl
	txID   *string
}

var _ types.Iterator[*types.ChangeRecord] = (*BatchReader)(nil)

// BatchID returns the id from the batch token.
func (b *BatchReader) BatchID() int64 { return b.batchID }

// ByteCount returns the number of bytes read from the batch so far.
func (b *BatchReader) ByteCount() int64 { return b.byteCount }

// Channel returns the channel in effect when the batch began.
func (b *BatchReader) Channel() string { return b.channel }

// Columns returns the column and key names declared for the table, if
// the sender announced them.
func (b *BatchReader) Columns(table string) (columns, keys []string, ok bool) {
	decl, found := b.tables[table]
	if !found || decl.columns == nil {
		return nil, nil, false
	}
	return decl.columns, decl.keys, true
}

// NodeID returns the sending node.
func (b *BatchReader) NodeID() string { return b.nodeID }

// Next implements [types.Iterator]. It returns false once the commit
// token has been read.
func (b *BatchReader) Next(ctx context.Context) (*types.ChangeRecord, bool, error) {
	if b.done {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	for {
		tok, size, ok, err := b.r.next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, b.r.errorf("batch %d was not committed", b.batchID)
		}
		b.byteCount += size

		switch tok.name {
		case tokenChannel:
			if err := b.r.decode(tok.value, &b.channel); err != nil {
				return nil, false, err
			}
		case tokenTable:
			if err := b.declare(tok); err != nil {
				return nil, false, err
			}
		case tokenTx:
			var txID *string
			if err := b.r.decode(tok.value, &txID); err != nil {
				return nil, false, err
			}
			b.txID = txID
		case tokenOld:
			vals, err := b.r.values(tok.value)
			if err != nil {
				return nil, false, err
			}
			if err := b.checkWidth(tokenOld, vals); err != nil {
				return nil, false, err
			}
			b.old = vals
		case tokenInsert, tokenUpdate, tokenDelete:
			rec, err := b.record(tok)
			if err != nil {
				return nil, false, err
			}
			return rec, true, nil
		case tokenCommit:
			var id int64
			if err := b.r.decode(tok.value, &id); err != nil {
				return nil, false, err
			}
			if id != b.batchID {
				return nil, false, b.r.errorf("commit %d does not match batch %d", id, b.batchID)
			}
			b.done = true
			return nil, false, nil
		default:
			return nil, false, b.r.errorf("batch %d was not committed before %s", b.batchID, tok.name)
		}
	}
}

// declare processes a table token.
func (b *BatchReader) declare(tok *token) error {
	var name string
	if err := b.r.decode(tok.value, &name); err != nil {
		return err
	}
	if name == "" {
		return b.r.errorf("empty table name")
	}
	decl := &tableDecl{name: name}
	if raw, ok := tok.extras[tokenColumns]; ok {
		if err := b.r.decode(raw, &decl.columns); err != nil {
			return err
		}
		if len(decl.columns) == 0 {
			return b.r.errorf("table %s declares no columns", name)
		}
	}
	if raw, ok := tok.extras[tokenKeys]; ok {
		if err := b.r.decode(raw, &decl.keys); err != nil {
			return err
		}
	}
	if decl.columns != nil {
		for _, key := range decl.keys {
			idx := indexOf(decl.columns, key)
			if idx < 0 {
				return b.r.errorf("key %s is not a column of %s", key, name)
			}
			decl.keyIdx = append(decl.keyIdx, idx)
		}
	}
	b.tables[name] = decl
	b.table = decl
	b.old = nil
	return nil
}

// checkWidth ensures that a full row matches the declared columns.
func (b *BatchReader) checkWidth(what string, vals []types.Value) error {
	if b.table == nil {
		return b.r.errorf("%s record before any table", what)
	}
	if b.table.columns != nil && len(vals) != len(b.table.columns) {
		return b.r.errorf("%s record has %d values, table %s has %d columns",
			what, len(vals), b.table.name, len(b.table.columns))
	}
	return nil
}

// checkKeys ensures that a key tuple matches the declared keys.
func (b *BatchReader) checkKeys(what string, vals []types.Value) error {
	if b.table == nil {
		return b.r.errorf("%s record before any table", what)
	}
	if b.table.keys != nil && len(vals) != len(b.table.keys) {
		return b.r.errorf("%s record has %d key values, table %s has %d keys",
			what, len(vals), b.table.name, len(b.table.keys))
	}
	return nil
}

// record builds a ChangeRecord from a row token. The pending old
// values are attached to the record and then cleared.
func (b *BatchReader) record(tok *token) (*types.ChangeRecord, error) {
	vals, err := b.r.values(tok.value)
	if err != nil {
		return nil, err
	}
	old := b.old
	b.old = nil

	rec := &types.ChangeRecord{
		Channel:       b.channel,
		OldData:       old,
		TransactionID: b.txID,
	}
	switch tok.name {
	case tokenInsert:
		if err := b.checkWidth(tok.name, vals); err != nil {
			return nil, err
		}
		rec.Event = types.EventInsert
		rec.RowData = vals
		rec.PKData = b.table.project(vals)
	case tokenUpdate:
		if err := b.checkWidth(tok.name, vals); err != nil {
			return nil, err
		}
		rec.Event = types.EventUpdate
		rec.RowData = vals
		if raw, ok := tok.extras[tokenPK]; ok {
			if rec.PKData, err = b.r.values(raw); err != nil {
				return nil, err
			}
			if err := b.checkKeys(tok.name, rec.PKData); err != nil {
				return nil, err
			}
		} else if old != nil {
			rec.PKData = b.table.project(old)
		} else {
			rec.PKData = b.table.project(vals)
		}
	case tokenDelete:
		if err := b.checkKeys(tok.name, vals); err != nil {
			return nil, err
		}
		rec.Event = types.EventDelete
		rec.PKData = vals
	}
	rec.Table = b.table.name
	return rec, nil
}

// drain consumes the remaining records of the batch.
func (b *BatchReader) drain(ctx context.Context) error {
	for {
		_, ok, err := b.Next(ctx)
		if err != nil || !ok {
			return err
		}
	}
}

// project extracts the key values from a full row, or returns nil if
// the keys are unknown.
func (d *tableDecl) project(row []types.Value) []types.Value {
	if d.keyIdx == nil {
		return nil
	}
	ret := make([]types.Value, len(d.keyIdx))
	for i, idx := range d.keyIdx {
		ret[i] = row[idx]
	}
	return ret
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
