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
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
)

// These consts are for mocking the block map tree.
const (
	mockBMBlkSize  = 16
	mockBMDiskSize = 2500

	// mockBMBlocks is the number of file blocks a full mock file has:
	// 12 direct, 4 single, 16 double and 64 triple indirect.
	mockBMBlocks = numDirectBlks + 4 + 16 + 64
)

// blkNumGen is a number generator which gives block numbers for building the
// block map file on disk. It gives unique numbers in a random order which
// facilitates in creating an extremely fragmented filesystem. Block 0 is
// never returned since a zero pointer is a hole.
type blkNumGen struct {
	nums []uint32
}

func newBlkNumGen(rng *rand.Rand) *blkNumGen {
	lim := uint32(mockBMDiskSize / mockBMBlkSize)
	g := &blkNumGen{}
	for i := uint32(1); i < lim; i++ {
		g.nums = append(g.nums, i)
	}
	rng.Shuffle(len(g.nums), func(i, j int) {
		g.nums[i], g.nums[j] = g.nums[j], g.nums[i]
	})
	return g
}

// next returns the next random block number.
func (g *blkNumGen) next() uint32 {
	ret := g.nums[0]
	g.nums = g.nums[1:]
	return ret
}

// writeIndirect fills the indirect block blk of the given depth with fresh
// pointers and appends the data blocks it maps, in file order, to mapped.
func writeIndirect(disk []byte, blk uint32, depth int, g *blkNumGen, mapped []uint64) []uint64 {
	for off := blk * mockBMBlkSize; off < (blk+1)*mockBMBlkSize; off += 4 {
		child := g.next()
		binary.LittleEndian.PutUint32(disk[off:], child)
		if depth == 0 {
			mapped = append(mapped, uint64(child))
		} else {
			mapped = writeIndirect(disk, child, depth-1, g, mapped)
		}
	}
	return mapped
}

// blockMapSetUp creates a mock disk and a block map file. It initializes the
// block map file with 12 direct blocks, 1 indirect block, 1 double indirect
// block and 1 triple indirect block (basically fill it till the rim). It
// returns the physical block of every file block.
func blockMapSetUp(t *testing.T, seed int64) (*blockMapFile, *mockDisk, []uint64) {
	t.Helper()
	disk := &mockDisk{data: make([]byte, mockBMDiskSize), blkSize: mockBMBlkSize}
	g := newBlkNumGen(rand.New(rand.NewSource(seed)))
	var ptrs [numDirectBlks + numIndirectLevels]uint32
	var mapped []uint64
	for i := 0; i < numDirectBlks; i++ {
		ptrs[i] = g.next()
		mapped = append(mapped, uint64(ptrs[i]))
	}
	for depth := 0; depth < numIndirectLevels; depth++ {
		ptrs[numDirectBlks+depth] = g.next()
		mapped = writeIndirect(disk.data, ptrs[numDirectBlks+depth], depth, g, mapped)
	}
	data := binary.Marshal(nil, binary.LittleEndian, &ptrs)
	if len(data) != disklayout.InodeDataSize {
		t.Fatalf("block pointers take %d bytes, want %d", len(data), disklayout.InodeDataSize)
	}
	return newBlockMapFile(data, mockBMBlkSize, disk.readBlock), disk, mapped
}

// TestBlockMapResolve resolves every block of a fully populated, fragmented
// block map file.
func TestBlockMapResolve(t *testing.T) {
	f, _, want := blockMapSetUp(t, 1)
	ctx := context.Background()
	if len(want) != mockBMBlocks {
		t.Fatalf("mock file has %d blocks, want %d", len(want), mockBMBlocks)
	}
	if got := f.maxBlocks(); got != mockBMBlocks {
		t.Errorf("maxBlocks = %d, want %d", got, mockBMBlocks)
	}
	for b := range want {
		got, err := f.physicalBlock(ctx, uint64(b))
		if err != nil {
			t.Fatalf("physicalBlock(%d) failed: %v", b, err)
		}
		if got != want[b] {
			t.Errorf("physicalBlock(%d) = %d, want %d", b, got, want[b])
		}
	}
	if _, err := f.physicalBlock(ctx, mockBMBlocks); !linuxerr.Equals(linuxerr.EOVERFLOW, err) {
		t.Errorf("physicalBlock(%d) got error %v, want EOVERFLOW", mockBMBlocks, err)
	}
}

// TestBlockMapRuns stress tests runs from all possible positions in the block
// map structure.
func TestBlockMapRuns(t *testing.T) {
	f, _, want := blockMapSetUp(t, 2)
	ctx := context.Background()
	for from := 0; from < len(want); from++ {
		runs, err := f.runs(ctx, uint64(from), uint64(len(want)-from))
		if err != nil {
			t.Fatalf("runs(%d) failed: %v", from, err)
		}
		var got []uint64
		for _, r := range runs {
			if r.fileBlock != uint64(from+len(got)) {
				t.Fatalf("runs(%d): run at file block %d, want %d", from, r.fileBlock, from+len(got))
			}
			for i := uint64(0); i < r.length; i++ {
				got = append(got, r.physical+i)
			}
		}
		if diff := cmp.Diff(want[from:], got); diff != "" {
			t.Fatalf("runs(%d) mapping mismatch (-want +got):\n%s", from, diff)
		}
	}
}

func TestBlockMapCachesIndirectBlocks(t *testing.T) {
	f, disk, _ := blockMapSetUp(t, 3)
	ctx := context.Background()
	if _, err := f.runs(ctx, 0, mockBMBlocks); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	// 1 single, 1+4 double and 1+4+16 triple indirect blocks.
	const indirect = 27
	if disk.reads != indirect {
		t.Errorf("first walk read %d blocks, want %d", disk.reads, indirect)
	}
	if _, err := f.runs(ctx, 0, mockBMBlocks); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if disk.reads != indirect {
		t.Errorf("second walk read %d blocks in total, want %d", disk.reads, indirect)
	}
}

func TestBlockMapMergesAndSkipsHoles(t *testing.T) {
	var ptrs [numDirectBlks + numIndirectLevels]uint32
	for i := 0; i < 4; i++ {
		ptrs[i] = uint32(50 + i)
	}
	ptrs[6] = 80
	ptrs[7] = 81
	ptrs[8] = 90
	data := binary.Marshal(nil, binary.LittleEndian, &ptrs)
	disk := &mockDisk{data: make([]byte, 1024*100), blkSize: 1024}
	f := newBlockMapFile(data, 1024, disk.readBlock)

	got, err := f.runs(context.Background(), 0, 20)
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	want := []blockRun{
		{fileBlock: 0, physical: 50, length: 4},
		{fileBlock: 6, physical: 80, length: 2},
		{fileBlock: 8, physical: 90, length: 1},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(blockRun{})); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
	if disk.reads != 0 {
		t.Errorf("zero indirect pointers caused %d reads", disk.reads)
	}
}

func TestBlockMapLimits(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, disklayout.InodeDataSize)
	disk := &mockDisk{data: make([]byte, 1024), blkSize: 1024}
	f := newBlockMapFile(data, 1024, disk.readBlock)

	// With 1K blocks an indirect block holds 256 pointers.
	const max = 12 + 256 + 256*256 + 256*256*256
	if got := f.maxBlocks(); got != max {
		t.Errorf("maxBlocks = %d, want %d", got, max)
	}
	if phys, err := f.physicalBlock(ctx, max-1); err != nil || phys != 0 {
		t.Errorf("physicalBlock(%d) = %d, %v, want a hole", max-1, phys, err)
	}
	if _, err := f.physicalBlock(ctx, max); !linuxerr.Equals(linuxerr.EOVERFLOW, err) {
		t.Errorf("physicalBlock(%d) got error %v, want EOVERFLOW", max, err)
	}
	if _, err := f.runs(ctx, max, 1); !linuxerr.Equals(linuxerr.EOVERFLOW, err) {
		t.Errorf("runs(%d) got error %v, want EOVERFLOW", max, err)
	}
	got, err := f.runs(ctx, max-2, 10)
	if err != nil {
		t.Fatalf("runs clipped to the last blocks failed: %v", err)
	}
	if diff := cmp.Diff([]blockRun(nil), got, cmp.AllowUnexported(blockRun{}), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
}

// TestBlockMapLastBlock pins the end of the mappable range: the last triple
// indirect slot, block 11+p+p²+p³, resolves and the next block overflows.
func TestBlockMapLastBlock(t *testing.T) {
	f, _, want := blockMapSetUp(t, 5)
	ctx := context.Background()
	last := uint64(numDirectBlks + 4 + 4*4 + 4*4*4 - 1)
	got, err := f.physicalBlock(ctx, last)
	if err != nil {
		t.Fatalf("physicalBlock(%d) failed: %v", last, err)
	}
	if got != want[last] {
		t.Errorf("physicalBlock(%d) = %d, want %d", last, got, want[last])
	}
	if _, err := f.physicalBlock(ctx, last+1); !linuxerr.Equals(linuxerr.EOVERFLOW, err) {
		t.Errorf("physicalBlock(%d) got error %v, want EOVERFLOW", last+1, err)
	}
}

// TestBlockMapSharedLoadCancel checks that cancelling one of two callers
// waiting on the same indirect block fails only that caller.
func TestBlockMapSharedLoadCancel(t *testing.T) {
	f, disk, want := blockMapSetUp(t, 6)
	started := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool
	f.read = func(ctx context.Context, blk uint64) ([]byte, error) {
		if blocked.CompareAndSwap(false, true) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return disk.readBlock(ctx, blk)
	}

	type result struct {
		phys uint64
		err  error
	}
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan result, 1)
	go func() {
		phys, err := f.physicalBlock(ctxA, numDirectBlks)
		resA <- result{phys, err}
	}()
	<-started

	resB := make(chan result, 1)
	go func() {
		phys, err := f.physicalBlock(context.Background(), numDirectBlks)
		resB <- result{phys, err}
	}()
	// Give B time to join the load A started.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if r := <-resA; r.err != context.Canceled {
		t.Errorf("cancelled caller got %d, %v, want %v", r.phys, r.err, context.Canceled)
	}
	close(release)
	r := <-resB
	if r.err != nil {
		t.Fatalf("live caller failed: %v", r.err)
	}
	if r.phys != want[numDirectBlks] {
		t.Errorf("live caller got block %d, want %d", r.phys, want[numDirectBlks])
	}
}

func TestBlockMapResolveBeforeStartPanics(t *testing.T) {
	f, _, _ := blockMapSetUp(t, 4)
	defer func() {
		if recover() == nil {
			t.Errorf("resolve of a block before the indirect block start did not panic")
		}
	}()
	f.resolve(context.Background(), 1, 0, numDirectBlks, numDirectBlks-1)
}
