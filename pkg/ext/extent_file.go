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

package ext

import (
	"context"
	"sort"
	"strconv"

	"golang.org/x/sync/singleflight"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
	"gvisor.dev/extfs/pkg/log"
	"gvisor.dev/extfs/pkg/sync"
)

// maxExtentDepth is the deepest extent tree Linux builds.
const maxExtentDepth = 5

// blockRun maps length file blocks starting at fileBlock to the physical
// blocks starting at physical.
type blockRun struct {
	fileBlock uint64
	physical  uint64
	length    uint64

	// zero marks an unwritten extent: allocated, but reads as zeros.
	zero bool
}

// blockMapper resolves file blocks to physical blocks.
type blockMapper interface {
	// runs returns the runs overlapping file blocks [first, first+n) in
	// ascending order. Holes are not reported. Runs are not clipped to the
	// requested range.
	runs(ctx context.Context, first, n uint64) ([]blockRun, error)
}

// readBlockFunc reads one filesystem block.
type readBlockFunc func(ctx context.Context, blk uint64) ([]byte, error)

// extentFile maps the blocks of an inode with the extents flag.
type extentFile struct {
	read readBlockFunc
	warn log.Logger

	// root is the root node. It lives in the 60 byte inode data region.
	// Immutable.
	root *disklayout.ExtentLevel

	// mu protects levels.
	mu sync.Mutex

	// levels caches decoded interior and leaf nodes by physical block.
	levels map[uint64]*disklayout.ExtentLevel

	// loads collapses concurrent fetches of the same node.
	loads singleflight.Group
}

var _ blockMapper = (*extentFile)(nil)

// newExtentFile decodes the root node held in data.
func newExtentFile(data []byte, read readBlockFunc, warn log.Logger) (*extentFile, error) {
	root, err := disklayout.DecodeExtentLevel(data)
	if err != nil {
		return nil, err
	}
	if root.Header.Depth > maxExtentDepth {
		warn.Warningf("ext fs: extent tree depth %d exceeds %d", root.Header.Depth, maxExtentDepth)
		return nil, linuxerr.EIO
	}
	return &extentFile{
		read:   read,
		warn:   warn,
		root:   root,
		levels: make(map[uint64]*disklayout.ExtentLevel),
	}, nil
}

// runs implements blockMapper.runs.
func (f *extentFile) runs(ctx context.Context, first, n uint64) ([]blockRun, error) {
	if n == 0 {
		return nil, nil
	}
	return f.findExtentsCovering(ctx, f.root, first, n)
}

// level returns the node stored in blk, which must have the given depth.
// Decoded nodes are cached; failures are not.
func (f *extentFile) level(ctx context.Context, blk uint64, depth uint16) (*disklayout.ExtentLevel, error) {
	f.mu.Lock()
	l, ok := f.levels[blk]
	f.mu.Unlock()
	if !ok {
		v, err := sharedLoad(ctx, &f.loads, strconv.FormatUint(blk, 10), func(ctx context.Context) (any, error) {
			buf, err := f.read(ctx, blk)
			if err != nil {
				return nil, err
			}
			l, err := disklayout.DecodeExtentLevel(buf)
			if err != nil {
				return nil, err
			}
			f.mu.Lock()
			f.levels[blk] = l
			f.mu.Unlock()
			return l, nil
		})
		if err != nil {
			return nil, err
		}
		l = v.(*disklayout.ExtentLevel)
	}
	if l.Header.Depth != depth {
		f.warn.Warningf("ext fs: extent node %d has depth %d, want %d", blk, l.Header.Depth, depth)
		return nil, linuxerr.EIO
	}
	return l, nil
}

// findExtentsCovering returns the leaf extents under level that overlap file
// blocks [first, first+length).
//
// It binary searches for the last entry starting at or before first and scans
// forward until an entry starts past the range. Interior entries are
// resolved recursively. Lower levels are exhaustive for their subrange, so
// once a child past the starting one contributes nothing, no later sibling
// can either.
func (f *extentFile) findExtentsCovering(ctx context.Context, level *disklayout.ExtentLevel, first, length uint64) ([]blockRun, error) {
	last := first + length - 1
	n := level.Len()
	start := sort.Search(n, func(i int) bool {
		return uint64(level.FileBlock(i)) > first
	}) - 1
	if start < 0 {
		// The range begins in a hole before the first entry.
		start = 0
	}

	var out []blockRun
	for i := start; i < n; i++ {
		fileBlock := uint64(level.FileBlock(i))
		if fileBlock > last {
			break
		}
		if level.Header.Depth == 0 {
			e := &level.Leaves[i]
			if fileBlock+uint64(e.Len()) <= first {
				continue
			}
			out = append(out, blockRun{
				fileBlock: fileBlock,
				physical:  e.StartBlock(),
				length:    uint64(e.Len()),
				zero:      e.Unwritten(),
			})
			continue
		}
		child, err := f.level(ctx, level.Indexes[i].ChildBlock(), level.Header.Depth-1)
		if err != nil {
			return nil, err
		}
		sub, err := f.findExtentsCovering(ctx, child, first, length)
		if err != nil {
			return nil, err
		}
		if len(sub) == 0 && i != start {
			break
		}
		out = append(out, sub...)
	}
	return out, nil
}
