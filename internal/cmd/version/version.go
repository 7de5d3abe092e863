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

// Package version contains a command to print the build's
// bill-of-materials.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// BuildVersion is set by the go linker at build time
var BuildVersion = "<unknown>"

// Command returns a command to print the build's bill-of-materials.
func Command() *cobra.Command {
	var deps bool
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Short: "print the build's bill-of-materials",
		Use:   "version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return write(cmd.OutOrStdout(), deps)
		},
	}
	cmd.Flags().BoolVar(&deps, "deps", false, "also print the module dependencies")
	return cmd
}

func write(out io.Writer, deps bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "trigsync\t%s\n", BuildVersion)
	fmt.Fprintf(w, "runtime\t%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return w.Flush()
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.time", "vcs.modified":
			fmt.Fprintf(w, "%s\t%s\n", s.Key, s.Value)
		}
	}
	if deps {
		for _, m := range bi.Deps {
			for m.Replace != nil {
				m = m.Replace
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Path, m.Version, m.Sum)
		}
	}
	return w.Flush()
}
