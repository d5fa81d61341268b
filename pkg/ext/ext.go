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

// Package ext implements readonly ext(2/3/4) filesystems.
//
// A Volume is opened over a device once; it decodes the superblock and the
// block group descriptor table and then hands out reference counted Items,
// one per inode. All structure decoding lives in package disklayout; this
// package does the block I/O, caching and block mapping around it.
package ext

import (
	"time"

	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/log"
)

const (
	// maxSymlinkTraversals is the symlink budget of a single path walk.
	maxSymlinkTraversals = linux.MaxSymlinkTraversals

	// defaultReadConcurrency bounds parallel directory block reads when
	// Options.ReadConcurrency is unset.
	defaultReadConcurrency = 8

	// warnInterval is the minimum gap between two corruption warnings of
	// one volume.
	warnInterval = time.Second
)

// Options configures a Volume.
type Options struct {
	// MetadataReads switches the device to block aligned reads once the
	// volume is mounted.
	MetadataReads bool

	// ReadConcurrency is the number of directory blocks read in parallel.
	// Zero means defaultReadConcurrency.
	ReadConcurrency int

	// Logger receives corruption warnings. If nil, warnings go to the
	// global logger, at most one per second.
	Logger log.Logger
}

func (o *Options) readConcurrency() int {
	if o.ReadConcurrency <= 0 {
		return defaultReadConcurrency
	}
	return o.ReadConcurrency
}

func (o *Options) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.BasicRateLimitedLogger(warnInterval)
}
