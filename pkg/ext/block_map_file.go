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
	"fmt"

	"golang.org/x/sync/singleflight"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
	"gvisor.dev/extfs/pkg/sync"
)

const (
	// numDirectBlks is the number of direct blocks in ext block map inodes.
	numDirectBlks = 12

	// numIndirectLevels is the number of indirection roots after the direct
	// blocks: single, double and triple.
	numIndirectLevels = 3
)

// indirectKey identifies an indirect block within one file: depth is the
// number of further indirections below it (0 means its pointers are data
// blocks) and start is the first file block it covers.
type indirectKey struct {
	depth int
	start uint64
}

// indirectBlock is a decoded indirect block.
type indirectBlock struct {
	ptrs []uint32
}

// blockMapFile is a type of regular file which uses direct/indirect block
// addressing to store file data. This was deprecated in ext4.
type blockMapFile struct {
	read readBlockFunc

	// perBlock is the number of block pointers in one indirect block.
	perBlock uint64

	// direct holds the 12 direct pointers. roots holds the single, double
	// and triple indirect block pointers. Immutable.
	direct [numDirectBlks]uint32
	roots  [numIndirectLevels]uint32

	// mu protects arena.
	mu sync.Mutex

	// arena holds every indirect block fetched so far. Nodes are never
	// evicted while the file is cached.
	arena map[indirectKey]*indirectBlock

	// loads collapses concurrent fetches of the same indirect block.
	loads singleflight.Group
}

var _ blockMapper = (*blockMapFile)(nil)

// newBlockMapFile decodes the block pointers held in the inode data region.
func newBlockMapFile(data []byte, blockSize uint64, read readBlockFunc) *blockMapFile {
	f := &blockMapFile{
		read:     read,
		perBlock: blockSize / 4,
		arena:    make(map[indirectKey]*indirectBlock),
	}
	var ptrs [numDirectBlks + numIndirectLevels]uint32
	binary.Unmarshal(data[:disklayout.InodeDataSize], binary.LittleEndian, &ptrs)
	copy(f.direct[:], ptrs[:numDirectBlks])
	copy(f.roots[:], ptrs[numDirectBlks:])
	return f
}

// coverage returns the number of file blocks an indirect block of the given
// depth covers.
func (f *blockMapFile) coverage(depth int) uint64 {
	c := f.perBlock
	for ; depth > 0; depth-- {
		c *= f.perBlock
	}
	return c
}

// maxBlocks returns the number of addressable file blocks.
func (f *blockMapFile) maxBlocks() uint64 {
	n := uint64(numDirectBlks)
	for depth := 0; depth < numIndirectLevels; depth++ {
		n += f.coverage(depth)
	}
	return n
}

// physicalBlock returns the physical block holding file block logical, or 0
// for a hole. Blocks past the triple indirect range are EOVERFLOW.
func (f *blockMapFile) physicalBlock(ctx context.Context, logical uint64) (uint64, error) {
	if logical < numDirectBlks {
		return uint64(f.direct[logical]), nil
	}
	start := uint64(numDirectBlks)
	for depth := 0; depth < numIndirectLevels; depth++ {
		span := f.coverage(depth)
		if logical < start+span {
			return f.resolve(ctx, f.roots[depth], depth, start, logical)
		}
		start += span
	}
	return 0, linuxerr.EOVERFLOW
}

// resolve walks down from the indirect block phys, of the given depth and
// first covered file block start, to the pointer for logical.
func (f *blockMapFile) resolve(ctx context.Context, phys uint32, depth int, start, logical uint64) (uint64, error) {
	for {
		if logical < start {
			panic(fmt.Sprintf("file block %d precedes indirect block start %d", logical, start))
		}
		if phys == 0 {
			return 0, nil
		}
		node, err := f.node(ctx, indirectKey{depth: depth, start: start}, phys)
		if err != nil {
			return 0, err
		}
		per := uint64(1)
		if depth > 0 {
			per = f.coverage(depth - 1)
		}
		idx := (logical - start) / per
		if idx >= uint64(len(node.ptrs)) {
			return 0, linuxerr.EOVERFLOW
		}
		if depth == 0 {
			return uint64(node.ptrs[idx]), nil
		}
		phys = node.ptrs[idx]
		start += idx * per
		depth--
	}
}

// node returns the indirect block for key, fetching block phys on a miss.
func (f *blockMapFile) node(ctx context.Context, key indirectKey, phys uint32) (*indirectBlock, error) {
	f.mu.Lock()
	n, ok := f.arena[key]
	f.mu.Unlock()
	if ok {
		return n, nil
	}
	v, err := sharedLoad(ctx, &f.loads, fmt.Sprintf("%d/%d", key.depth, key.start), func(ctx context.Context) (any, error) {
		buf, err := f.read(ctx, uint64(phys))
		if err != nil {
			return nil, err
		}
		n := &indirectBlock{ptrs: make([]uint32, f.perBlock)}
		binary.Unmarshal(buf[:f.perBlock*4], binary.LittleEndian, n.ptrs)
		f.mu.Lock()
		f.arena[key] = n
		f.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*indirectBlock), nil
}

// runs implements blockMapper.runs. Physically contiguous blocks are merged
// into one run.
func (f *blockMapFile) runs(ctx context.Context, first, n uint64) ([]blockRun, error) {
	if max := f.maxBlocks(); first+n > max {
		if first >= max {
			return nil, linuxerr.EOVERFLOW
		}
		n = max - first
	}
	var out []blockRun
	for b := first; b < first+n; b++ {
		phys, err := f.physicalBlock(ctx, b)
		if err != nil {
			return nil, err
		}
		if phys == 0 {
			continue
		}
		if len(out) > 0 {
			r := &out[len(out)-1]
			if r.fileBlock+r.length == b && r.physical+r.length == phys {
				r.length++
				continue
			}
		}
		out = append(out, blockRun{fileBlock: b, physical: phys, length: 1})
	}
	return out, nil
}
