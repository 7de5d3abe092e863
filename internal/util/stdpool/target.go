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

package stdpool

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
)

type targetOpener func(
	ctx *stopper.Context, connectString string, u *url.URL, options ...Option,
) (*types.TargetPool, error)

// targetOpeners are keyed by lower-cased URL scheme.
var targetOpeners = map[string]targetOpener{
	"file":   OpenSQLiteAsTarget,
	"mysql":  OpenMySQLAsTarget,
	"sqlite": OpenSQLiteAsTarget,

	"pg":         openPgxTarget,
	"pgx":        openPgxTarget,
	"postgres":   openPgxTarget,
	"postgresql": openPgxTarget,
}

func openPgxTarget(
	ctx *stopper.Context, connectString string, _ *url.URL, options ...Option,
) (*types.TargetPool, error) {
	return OpenPgxAsTarget(ctx, connectString, options...)
}

// OpenTarget selects a driver based on the connection string's scheme
// and opens the target database. The product-specific Dialect is
// populated in the returned pool.
func OpenTarget(
	ctx *stopper.Context, connectString string, options ...Option,
) (*types.TargetPool, error) {
	u, err := url.Parse(connectString)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse connection string")
	}
	open, ok := targetOpeners[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, errors.Errorf("unknown URL scheme: %s", u.Scheme)
	}
	return open(ctx, connectString, u, options...)
}
