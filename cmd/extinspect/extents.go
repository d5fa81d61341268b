// Copyright 2019 The gVisor Authors.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/ext"
)

// Extents implements subcommands.Command for the "extents" command.
type Extents struct {
	offset uint64
	length uint64
}

// Name implements subcommands.Command.
func (*Extents) Name() string {
	return "extents"
}

// Synopsis implements subcommands.Command.
func (*Extents) Synopsis() string {
	return "maps a byte range of a file to device offsets"
}

// Usage implements subcommands.Command.
func (*Extents) Usage() string {
	return `extents [flags] <image> <path>

Prints one line per contiguous range: file offset, device offset and length
in bytes. Holes and unwritten extents are marked "zero".
`
}

// SetFlags implements subcommands.Command.
func (e *Extents) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&e.offset, "offset", 0, "byte offset to start at.")
	f.Uint64Var(&e.length, "length", 0, "number of bytes to map, 0 for all.")
}

// Execute implements subcommands.Command.Execute.
func (e *Extents) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withItem(ctx, f, args, true, func(_ *Config, _ *ext.Volume, it *ext.Item) error {
		length := e.length
		if length == 0 {
			length = it.Attributes().Size
		}
		exts, err := it.Extents(ctx, e.offset, length)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "LOGICAL\tPHYSICAL\tLENGTH\t\t")
		for _, x := range exts {
			kind := ""
			if x.Zero {
				kind = "zero"
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\t\n", x.Logical, x.Physical, x.Length, kind)
		}
		return w.Flush()
	})
}
