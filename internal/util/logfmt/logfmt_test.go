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

package logfmt

import (
	"bytes"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := log.New()
	l.SetOutput(&buf)
	l.SetFormatter(Wrap(&log.JSONFormatter{}))
	l.AddHook(CountingHook{})
	return l, &buf
}

func TestDetail(t *testing.T) {
	myErr := &mysql.MySQLError{
		Number:   1062,
		SQLState: [5]byte{'2', '3', '0', '0', '0'},
		Message:  "Duplicate entry",
	}
	tcs := []struct {
		name    string
		err     error
		sqlCode string
	}{
		{name: "plain", err: errors.New("plain")},
		{
			name:    "postgres",
			err:     errors.WithStack(&pgconn.PgError{Code: "23505", Message: "duplicate key"}),
			sqlCode: "23505",
		},
		{
			name:    "mysql",
			err:     errors.Wrap(myErr, "insert"),
			sqlCode: "23000",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)
			r := require.New(t)
			l, buf := newLogger()
			l.WithError(tc.err).Error("failed")

			out := buf.String()
			a.Contains(out, `"detail"`)
			// The stack trace from pkg/errors is included.
			a.Contains(out, "logfmt_test.go")
			if tc.sqlCode == "" {
				a.NotContains(out, `"sql"`)
				return
			}
			r.Contains(out, `"sql"`)
			s, ok := detailOf(tc.err)
			r.True(ok)
			a.Equal(tc.sqlCode, s.Code)
		})
	}
}

func TestCountingHook(t *testing.T) {
	a := assert.New(t)
	l, buf := newLogger()
	l.Warn("one")
	a.Contains(buf.String(), "one")
	a.Len(CountingHook{}.Levels(), len(log.AllLevels))
	a.NoError(CountingHook{}.Fire(&log.Entry{Level: log.InfoLevel}))
}
