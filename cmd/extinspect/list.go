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

// List implements subcommands.Command for the "ls" command.
type List struct {
	long     bool
	pageSize int
}

// Name implements subcommands.Command.
func (*List) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.
func (*List) Synopsis() string {
	return "lists a directory in an image"
}

// Usage implements subcommands.Command.
func (*List) Usage() string {
	return "ls [flags] <image> <path>\n"
}

// SetFlags implements subcommands.Command.
func (l *List) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.long, "l", false, "print inode, type and size.")
	f.IntVar(&l.pageSize, "page", 256, "entries fetched per enumeration call.")
}

// Execute implements subcommands.Command.Execute.
func (l *List) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withItem(ctx, f, args, true, func(_ *Config, v *ext.Volume, dir *ext.Item) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
		var cookie, verifier uint64
		for {
			page, ver, err := dir.Enumerate(ctx, cookie, verifier, l.pageSize)
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}
			for _, e := range page {
				if err := l.print(ctx, w, v, e); err != nil {
					return err
				}
			}
			cookie, verifier = page[len(page)-1].Cookie, ver
		}
		return w.Flush()
	})
}

func (l *List) print(ctx context.Context, w *tabwriter.Writer, v *ext.Volume, e ext.DirEntry) error {
	if !l.long {
		_, err := fmt.Fprintln(w, e.Name)
		return err
	}
	child, err := v.Item(ctx, e.Inode)
	if err != nil {
		return fmt.Errorf("%s: %v", e.Name, err)
	}
	defer child.DecRef()
	a := child.Attributes()
	_, err = fmt.Fprintf(w, "%d\t%v\t%d\t%s\n", e.Inode, a.Mode, a.Size, e.Name)
	return err
}
