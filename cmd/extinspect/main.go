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

// Binary extinspect prints the structures and contents of an ext2/3/4
// image without mounting it.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/log"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Probe), "volume")
	subcommands.Register(new(Superblock), "volume")
	subcommands.Register(new(Groups), "volume")
	subcommands.Register(new(Stat), "files")
	subcommands.Register(new(List), "files")
	subcommands.Register(new(Cat), "files")
	subcommands.Register(new(Extents), "files")
	subcommands.Register(new(Readlink), "files")
	subcommands.Register(new(Xattr), "files")

	flags := registerFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := newConfig(flag.CommandLine, flags)
	if err != nil {
		fatalf("%v", err)
	}
	setupLogging(conf, flag.Arg(0), flag.Arg(1), time.Now())

	log.Infof("extinspect %s %s, PID %d", runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Infof("Args: %v", os.Args)
	log.Debugf("Config: %+v", *conf)

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	status := subcommands.Execute(ctx, conf)
	stop()
	if status != subcommands.ExitSuccess {
		log.Debugf("Exiting with status: %v", status)
	}
	os.Exit(int(status))
}

func newEmitter(format string, w io.Writer) log.Emitter {
	switch format {
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: w}}
	default:
		return log.GoogleEmitter{Emitter: &log.Writer{Next: w}}
	}
}

// setupLogging points the global logger at stderr and, if configured, at
// the log file of this run.
func setupLogging(conf *Config, command, image string, start time.Time) {
	log.SetLevel(conf.level())
	emitters := log.MultiEmitter{newEmitter(conf.LogFormat, os.Stderr)}
	f, err := log.OpenFile(conf.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.FilePattern{
		Image:   image,
		Command: command,
		Start:   start,
	})
	if err != nil {
		fatalf("error opening log file: %v", err)
	}
	if f != nil {
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if len(emitters) == 1 {
		log.SetTarget(emitters[0])
	} else {
		log.SetTarget(&emitters)
	}
}

// fatalf logs to the global logger, which always includes stderr, and
// exits.
func fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	os.Exit(128)
}
