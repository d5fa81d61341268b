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

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/ext"
)

// Readlink implements subcommands.Command for the "readlink" command.
type Readlink struct{}

// Name implements subcommands.Command.
func (*Readlink) Name() string {
	return "readlink"
}

// Synopsis implements subcommands.Command.
func (*Readlink) Synopsis() string {
	return "prints the target of a symlink in an image"
}

// Usage implements subcommands.Command.
func (*Readlink) Usage() string {
	return "readlink <image> <path>\n"
}

// SetFlags implements subcommands.Command.
func (*Readlink) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Readlink) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withItem(ctx, f, args, false, func(_ *Config, _ *ext.Volume, it *ext.Item) error {
		target, err := it.Readlink(ctx)
		if err != nil {
			return err
		}
		fmt.Println(target)
		return nil
	})
}
