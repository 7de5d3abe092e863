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
	"fmt"
	"regexp"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// The staging stores rely on INSERT ... ON CONFLICT DO UPDATE and
// UPDATE ... RETURNING.
var minVersions = map[types.Product]string{
	types.ProductCockroachDB: "v23.1.0",
	types.ProductPostgreSQL:  "v12.0.0",
}

// For example:
//
//	CockroachDB CCL v23.1.17 (aarch64-apple-darwin21.2, ....)
//	CockroachDB CCL v24.1.0-alpha.5-dev-d45a65e08d45 (....)
//	PostgreSQL 16.2 (Debian 16.2-1.pgdg120+2) on x86_64-pc-linux-gnu, ...
//	PostgreSQL 17beta1 on x86_64-pc-linux-gnu, ...
var (
	roachVerPattern = regexp.MustCompile(`^CockroachDB.* (v\d+\.\d+\.\d+(-[^ ]+)?) `)
	pgVerPattern    = regexp.MustCompile(`^PostgreSQL (\d+)(?:\.(\d+))?`)
)

// productSemver extracts a semantic version from the string reported
// by the server's version() function.
func productSemver(product types.Product, version string) (string, bool) {
	var ret string
	switch product {
	case types.ProductCockroachDB:
		found := roachVerPattern.FindStringSubmatch(version)
		if found == nil {
			return "", false
		}
		ret = found[1]
	case types.ProductPostgreSQL:
		found := pgVerPattern.FindStringSubmatch(version)
		if found == nil {
			return "", false
		}
		minor := found[2]
		if minor == "" {
			minor = "0"
		}
		ret = fmt.Sprintf("v%s.%s.0", found[1], minor)
	default:
		return "", false
	}
	return ret, semver.IsValid(ret)
}

// checkMinVersion returns an error if the server is older than the
// oldest version known to support the SQL used by the stores.
func checkMinVersion(product types.Product, version string) error {
	minVersion, ok := minVersions[product]
	if !ok {
		return nil
	}
	found, ok := productSemver(product, version)
	if !ok {
		return errors.Errorf("could not extract semver from %q", version)
	}
	if semver.Compare(found, minVersion) < 0 {
		return errors.Errorf("%s %s is not supported; %s or later is required",
			product, found, minVersion)
	}
	return nil
}
