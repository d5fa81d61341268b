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

// Groups implements subcommands.Command for the "groups" command.
type Groups struct {
	first uint64
	count uint64
}

// Name implements subcommands.Command.
func (*Groups) Name() string {
	return "groups"
}

// Synopsis implements subcommands.Command.
func (*Groups) Synopsis() string {
	return "prints the block group descriptors of an image"
}

// Usage implements subcommands.Command.
func (*Groups) Usage() string {
	return "groups [flags] <image>\n"
}

// SetFlags implements subcommands.Command.
func (g *Groups) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&g.first, "first", 0, "first group to print.")
	f.Uint64Var(&g.count, "count", 0, "number of groups to print, 0 for all.")
}

// Execute implements subcommands.Command.Execute.
func (g *Groups) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withVolume(ctx, f, args, 1, func(_ *Config, v *ext.Volume) error {
		end := v.BlockGroupCount()
		if g.count != 0 && g.first+g.count < end {
			end = g.first + g.count
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "GROUP\tBLOCK BITMAP\tINODE BITMAP\tINODE TABLE\tFREE BLOCKS\tFREE INODES\tDIRS\tUNUSED\tFLAGS\t")
		for i := g.first; i < end; i++ {
			d, ok := v.BlockGroup(i)
			if !ok {
				break
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%#x\t\n",
				i, d.BlockBitmap(), d.InodeBitmap(), d.InodeTable(),
				d.FreeBlocksCount(), d.FreeInodesCount(), d.UsedDirsCount(),
				d.ItableUnused(), uint16(d.Flags))
		}
		return w.Flush()
	})
}
