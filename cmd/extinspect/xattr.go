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
	"path"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/ext"
	"gvisor.dev/extfs/pkg/log"
)

// Xattr implements subcommands.Command for the "xattr" command.
type Xattr struct {
	get    string
	values bool
}

// Name implements subcommands.Command.
func (*Xattr) Name() string {
	return "xattr"
}

// Synopsis implements subcommands.Command.
func (*Xattr) Synopsis() string {
	return "lists or reads the extended attributes of a file in an image"
}

// Usage implements subcommands.Command.
func (*Xattr) Usage() string {
	return `xattr [flags] <image> <path>

Transient attributes from the configuration file are applied first.
`
}

// SetFlags implements subcommands.Command.
func (x *Xattr) SetFlags(f *flag.FlagSet) {
	f.StringVar(&x.get, "get", "", "print the raw value of this attribute only.")
	f.BoolVar(&x.values, "values", false, "print quoted values next to names.")
}

// Execute implements subcommands.Command.Execute.
func (x *Xattr) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withItem(ctx, f, args, false, func(conf *Config, _ *ext.Volume, it *ext.Item) error {
		if err := applyTransientXattrs(ctx, conf, f.Arg(1), it); err != nil {
			return err
		}
		if x.get != "" {
			v, err := it.GetXattr(ctx, x.get)
			if err != nil {
				return fmt.Errorf("%s: %v", x.get, err)
			}
			_, err = os.Stdout.Write(v)
			return err
		}
		names, err := it.ListXattrs(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			if !x.values {
				fmt.Println(name)
				continue
			}
			v, err := it.GetXattr(ctx, name)
			if err != nil {
				return fmt.Errorf("%s: %v", name, err)
			}
			fmt.Printf("%s=%s\n", name, strconv.Quote(string(v)))
		}
		return nil
	})
}

// applyTransientXattrs applies the configured transient attributes of p
// to it.
func applyTransientXattrs(ctx context.Context, conf *Config, p string, it *ext.Item) error {
	p = path.Clean("/" + p)
	for _, tx := range conf.TransientXattrs {
		if path.Clean("/"+tx.Path) != p {
			continue
		}
		var err error
		if tx.Remove {
			err = it.RemoveTransientXattr(ctx, tx.Name)
		} else {
			err = it.SetTransientXattr(tx.Name, []byte(tx.Value))
		}
		if err != nil {
			return fmt.Errorf("transient xattr %s on %s: %v", tx.Name, tx.Path, err)
		}
		log.Debugf("Applied transient xattr %s on %s (remove=%t)", tx.Name, tx.Path, tx.Remove)
	}
	return nil
}
