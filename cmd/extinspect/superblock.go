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

// Superblock implements subcommands.Command for the "superblock" command.
type Superblock struct{}

// Name implements subcommands.Command.
func (*Superblock) Name() string {
	return "superblock"
}

// Synopsis implements subcommands.Command.
func (*Superblock) Synopsis() string {
	return "prints the superblock of an image"
}

// Usage implements subcommands.Command.
func (*Superblock) Usage() string {
	return "superblock <image>\n"
}

// SetFlags implements subcommands.Command.
func (*Superblock) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Superblock) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withVolume(ctx, f, args, 1, func(_ *Config, v *ext.Volume) error {
		s := v.Summary()
		printSummary(os.Stdout, &s)

		sb := v.SuperBlock()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
		fmt.Fprintf(w, "First data block:\t%d\n", sb.FirstDataBlock)
		fmt.Fprintf(w, "Blocks per group:\t%d\n", sb.BlocksPerGroup)
		fmt.Fprintf(w, "Inodes per group:\t%d\n", sb.InodesPerGroup)
		fmt.Fprintf(w, "Block groups:\t%d\n", v.BlockGroupCount())
		fmt.Fprintf(w, "Inode size:\t%d\n", sb.InodeSize)
		fmt.Fprintf(w, "First inode:\t%d\n", sb.FirstInode)
		fmt.Fprintf(w, "Descriptor size:\t%d\n", sb.BlockGroupDescriptorSize())
		fmt.Fprintf(w, "Reserved blocks:\t%d\n", sb.ReservedBlocksCount())
		fmt.Fprintf(w, "Mount count:\t%d/%d\n", sb.MountCount, sb.MaxMountCount)
		if sb.JournalInode != nil && *sb.JournalInode != 0 {
			fmt.Fprintf(w, "Journal inode:\t%d\n", *sb.JournalInode)
		}
		if sb.FirstMetaBG != nil && s.Incompat.MetaBG() {
			fmt.Fprintf(w, "First meta block group:\t%d\n", *sb.FirstMetaBG)
		}
		if sb.MountOptions != "" {
			fmt.Fprintf(w, "Mount options:\t%s\n", sb.MountOptions)
		}
		return w.Flush()
	})
}
