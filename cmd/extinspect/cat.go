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
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/ext"
)

// catChunk is the size of a single read from the image.
const catChunk = 1 << 16

// Cat implements subcommands.Command for the "cat" command.
type Cat struct {
	offset int64
	length int64
}

// Name implements subcommands.Command.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.
func (*Cat) Synopsis() string {
	return "copies a file out of an image to stdout"
}

// Usage implements subcommands.Command.
func (*Cat) Usage() string {
	return "cat [flags] <image> <path>\n"
}

// SetFlags implements subcommands.Command.
func (c *Cat) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.offset, "offset", 0, "byte offset to start at.")
	f.Int64Var(&c.length, "length", -1, "number of bytes to copy, -1 for all.")
}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withItem(ctx, f, args, true, func(_ *Config, _ *ext.Volume, it *ext.Item) error {
		_, err := copyItem(ctx, os.Stdout, it, c.offset, c.length)
		return err
	})
}

// copyItem writes up to length bytes of it from off on to w. A negative
// length copies to the end of the file.
func copyItem(ctx context.Context, w io.Writer, it *ext.Item, off, length int64) (int64, error) {
	buf := make([]byte, catChunk)
	var done int64
	for length < 0 || done < length {
		p := buf
		if length >= 0 && length-done < int64(len(p)) {
			p = p[:length-done]
		}
		n, err := it.ReadAt(ctx, p, off+done)
		if n > 0 {
			if _, werr := w.Write(p[:n]); werr != nil {
				return done, werr
			}
			done += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return done, fmt.Errorf("read at %d: %v", off+done, err)
		}
	}
	return done, nil
}
