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
	"time"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/ext"
	"gvisor.dev/extfs/pkg/log"
)

// lockRetryDelay is the polling interval while waiting for the image lock.
const lockRetryDelay = 50 * time.Millisecond

// image is an ext image opened read-only under a shared lock, so that
// tools taking an exclusive lock to modify it wait for us.
type image struct {
	path string
	f    *os.File
	lock *flock.Flock
}

func openImage(ctx context.Context, conf *Config, path string) (*image, error) {
	// Open first: taking the lock creates missing files.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening image: %v", err)
	}
	lock := flock.NewFlock(path)
	lockCtx, cancel := context.WithTimeout(ctx, conf.LockTimeout.Duration)
	defer cancel()
	ok, err := lock.TryRLockContext(lockCtx, lockRetryDelay)
	if err != nil || !ok {
		f.Close()
		if err == nil {
			err = lockCtx.Err()
		}
		return nil, fmt.Errorf("error acquiring shared lock on %q: %v", path, err)
	}
	log.Debugf("Opened %q under a shared lock", path)
	return &image{path: path, f: f, lock: lock}, nil
}

func (im *image) Close() {
	im.f.Close()
	if err := im.lock.Unlock(); err != nil {
		log.Warningf("Error unlocking %q: %v", im.path, err)
	}
}

// mount opens the volume on the image.
func (im *image) mount(ctx context.Context, conf *Config) (*ext.Volume, error) {
	v, err := ext.Open(ctx, im.f, ext.Options{
		MetadataReads:   conf.MetadataReads,
		ReadConcurrency: conf.ReadConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("error mounting %q: %v", im.path, err)
	}
	return v, nil
}

// withVolume runs fn on the mounted volume of the image named by the first
// argument.
func withVolume(ctx context.Context, f *flag.FlagSet, args []any, nargs int, fn func(*Config, *ext.Volume) error) subcommands.ExitStatus {
	if f.NArg() != nargs {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*Config)
	im, err := openImage(ctx, conf, f.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	defer im.Close()
	v, err := im.mount(ctx, conf)
	if err != nil {
		fatalf("%v", err)
	}
	defer v.Close()

	err = fn(conf, v)
	if items, blocks := v.CacheStats(); items != 0 || blocks != 0 {
		log.Debugf("Cache after command: %d items, %d inode table blocks", items, blocks)
	}
	if err != nil {
		fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// withItem runs fn on the item at the path given as second argument. If
// follow is set, a final symlink is followed.
func withItem(ctx context.Context, f *flag.FlagSet, args []any, follow bool, fn func(*Config, *ext.Volume, *ext.Item) error) subcommands.ExitStatus {
	return withVolume(ctx, f, args, 2, func(conf *Config, v *ext.Volume) error {
		walk := v.LookupPath
		if follow {
			walk = v.ResolvePath
		}
		it, err := walk(ctx, f.Arg(1))
		if err != nil {
			return fmt.Errorf("%s: %v", f.Arg(1), err)
		}
		defer it.DecRef()
		return fn(conf, v, it)
	})
}
