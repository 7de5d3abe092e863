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

// Package logfmt contains logrus formatting helpers.
package logfmt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

const (
	detailKey = "detail"
	sqlKey    = "sql"
)

// Wrap adds a detail field containing the stack trace to entries that
// carry an ErrorKey. Database errors from the staging or target
// drivers also have their subfields added under a sql key.
//
// https://github.com/sirupsen/logrus/issues/895
func Wrap(f log.Formatter) log.Formatter {
	return &detailer{f}
}

type detailer struct {
	log.Formatter
}

// sqlDetail represents a driver error in a way that plays nicely with
// the various formatters.
type sqlDetail struct {
	Severity       string `json:"severity,omitempty"`
	Code           string `json:"code,omitempty"`
	Number         uint16 `json:"number,omitempty"`
	Message        string `json:"message,omitempty"`
	Detail         string `json:"detail,omitempty"`
	Hint           string `json:"hint,omitempty"`
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName,omitempty"`
	ColumnName     string `json:"columnName,omitempty"`
	ConstraintName string `json:"constraintName,omitempty"`
}

func (s *sqlDetail) String() string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetIndent("", " ")
	_ = enc.Encode(s)
	return sb.String()
}

func detailOf(err error) (*sqlDetail, bool) {
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) {
		return &sqlDetail{
			Severity:       pgErr.Severity,
			Code:           pgErr.Code,
			Message:        pgErr.Message,
			Detail:         pgErr.Detail,
			Hint:           pgErr.Hint,
			SchemaName:     pgErr.SchemaName,
			TableName:      pgErr.TableName,
			ColumnName:     pgErr.ColumnName,
			ConstraintName: pgErr.ConstraintName,
		}, true
	}
	if myErr := (*mysql.MySQLError)(nil); errors.As(err, &myErr) {
		ret := &sqlDetail{Number: myErr.Number, Message: myErr.Message}
		if myErr.SQLState != [5]byte{} {
			ret.Code = string(myErr.SQLState[:])
		}
		return ret, true
	}
	return nil, false
}

// Format implements log.Formatter.
func (d *detailer) Format(e *log.Entry) ([]byte, error) {
	if e.Data != nil {
		if err, ok := e.Data[log.ErrorKey].(error); ok {
			// Don't overwrite anywhere there may already be a detail key.
			if _, existing := e.Data[detailKey]; !existing {
				e.Data[detailKey] = fmt.Sprintf("%+v", err)
			}
			if s, ok := detailOf(err); ok {
				e.Data[sqlKey] = s
			}
		}
	}
	return d.Formatter.Format(e)
}
