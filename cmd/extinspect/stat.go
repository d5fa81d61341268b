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

// Stat implements subcommands.Command for the "stat" command.
type Stat struct {
	follow bool
}

// Name implements subcommands.Command.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.
func (*Stat) Synopsis() string {
	return "prints the attributes of a file in an image"
}

// Usage implements subcommands.Command.
func (*Stat) Usage() string {
	return "stat [flags] <image> <path>\n"
}

// SetFlags implements subcommands.Command.
func (s *Stat) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.follow, "L", false, "follow a final symlink.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withItem(ctx, f, args, s.follow, func(_ *Config, _ *ext.Volume, it *ext.Item) error {
		a := it.Attributes()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
		fmt.Fprintf(w, "Inode:\t%d\n", a.Ino)
		fmt.Fprintf(w, "Type:\t%v\n", a.Type)
		fmt.Fprintf(w, "Mode:\t%v\n", a.Mode)
		fmt.Fprintf(w, "Uid/Gid:\t%d/%d\n", a.UID, a.GID)
		fmt.Fprintf(w, "Size:\t%d\n", a.Size)
		fmt.Fprintf(w, "Allocated:\t%d\n", a.AllocSize)
		fmt.Fprintf(w, "Links:\t%d\n", a.Links)
		fmt.Fprintf(w, "Generation:\t%d\n", a.Generation)
		fmt.Fprintf(w, "Flags:\t%#x\n", uint32(a.Flags))
		fmt.Fprintf(w, "Access:\t%s\n", formatTime(a.AccessTime))
		fmt.Fprintf(w, "Modify:\t%s\n", formatTime(a.ModifyTime))
		fmt.Fprintf(w, "Change:\t%s\n", formatTime(a.ChangeTime))
		if a.CreationTime != nil {
			fmt.Fprintf(w, "Birth:\t%s\n", formatTime(*a.CreationTime))
		}
		return w.Flush()
	})
}
