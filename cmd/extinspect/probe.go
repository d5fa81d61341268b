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
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/ext"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct{}

// Name implements subcommands.Command.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.
func (*Probe) Synopsis() string {
	return "reports whether an image holds an ext filesystem"
}

// Usage implements subcommands.Command.
func (*Probe) Usage() string {
	return "probe <image>\n"
}

// SetFlags implements subcommands.Command.
func (*Probe) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Probe) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*Config)
	im, err := openImage(ctx, conf, f.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	defer im.Close()

	s, ok, err := ext.Probe(ctx, ext.NewDeviceReader(im.f, ext.ReadModeOrdinary))
	if err != nil {
		fatalf("error probing %q: %v", im.path, err)
	}
	if !ok {
		fmt.Printf("%s: not an ext filesystem\n", im.path)
		return subcommands.ExitFailure
	}
	printSummary(os.Stdout, &s)
	if s.Unsupported != 0 {
		fmt.Printf("%s: cannot be mounted, unsupported features: %v\n", im.path, s.Unsupported)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printSummary(out io.Writer, s *ext.Summary) {
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "UUID:\t%s\n", s.UUID)
	fmt.Fprintf(w, "Volume name:\t%q\n", s.VolumeName)
	fmt.Fprintf(w, "Last mounted on:\t%q\n", s.LastMounted)
	fmt.Fprintf(w, "Revision:\t%d\n", s.Revision)
	fmt.Fprintf(w, "Creator OS:\t%v\n", s.CreatorOS)
	fmt.Fprintf(w, "Block size:\t%d\n", s.BlockSize)
	fmt.Fprintf(w, "Blocks:\t%d (%d free)\n", s.BlocksCount, s.FreeBlocksCount)
	fmt.Fprintf(w, "Inodes:\t%d (%d free)\n", s.InodesCount, s.FreeInodesCount)
	fmt.Fprintf(w, "Compatible features:\t%v\n", s.Compat)
	fmt.Fprintf(w, "Incompatible features:\t%v\n", s.Incompat)
	fmt.Fprintf(w, "Read-only compatible features:\t%v\n", s.ROCompat)
	fmt.Fprintf(w, "Mount time:\t%s\n", formatTime(s.MountTime))
	fmt.Fprintf(w, "Write time:\t%s\n", formatTime(s.WriteTime))
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.Unix() == 0 {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
