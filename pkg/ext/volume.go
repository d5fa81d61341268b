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
	"io"
	"time"

	"github.com/google/uuid"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
	"gvisor.dev/extfs/pkg/log"
)

// maxLogBlockSize caps the block size at 64KiB, the largest Linux mounts.
const maxLogBlockSize = 6

// Summary is what a host needs to recognize a volume.
type Summary struct {
	UUID            uuid.UUID
	VolumeName      string
	BlockSize       uint64
	BlocksCount     uint64
	FreeBlocksCount uint64
	InodesCount     uint32
	FreeInodesCount uint32
	Revision        uint32
	CreatorOS       disklayout.CreatorOS
	Compat          disklayout.CompatFeatures
	Incompat        disklayout.IncompatFeatures
	ROCompat        disklayout.ROCompatFeatures
	LastMounted     string
	MountTime       time.Time
	WriteTime       time.Time

	// Unsupported holds the incompatible features this package cannot
	// read. A volume with any of them fails to open.
	Unsupported disklayout.IncompatFeatures
}

func summarize(sb *disklayout.SuperBlock) Summary {
	return Summary{
		UUID:            sb.UUID,
		VolumeName:      sb.VolumeName,
		BlockSize:       sb.BlockSize(),
		BlocksCount:     sb.BlocksCount(),
		FreeBlocksCount: sb.FreeBlocksCount(),
		InodesCount:     sb.InodesCount,
		FreeInodesCount: sb.FreeInodesCount,
		Revision:        sb.Revision,
		CreatorOS:       sb.CreatorOS,
		Compat:          sb.Compat,
		Incompat:        sb.Incompat,
		ROCompat:        sb.ROCompat,
		LastMounted:     sb.LastMounted,
		MountTime:       time.Unix(sb.MountTime, 0),
		WriteTime:       time.Unix(sb.WriteTime, 0),
		Unsupported:     sb.Incompat.Unsupported(disklayout.ReadOnlyIncompatFeatures),
	}
}

// Volume is a mounted ext filesystem. It is safe for concurrent use.
type Volume struct {
	// dev is the device. It is replaced once, before the Volume is
	// returned from Open, when metadata reads are requested.
	dev BlockReader

	// sb is the decoded superblock. Immutable.
	sb *disklayout.SuperBlock

	// bgt is the block group descriptor table. Immutable.
	bgt *disklayout.BlockGroupTable

	blockSize uint64
	opts      Options
	warn      log.Logger
	cache     *volumeCache
}

// readSuperBlock reads and decodes the primary superblock.
func readSuperBlock(ctx context.Context, dev BlockReader) (*disklayout.SuperBlock, error) {
	buf, err := dev.ReadAt(ctx, disklayout.SuperBlockOffset, disklayout.SuperBlockSize)
	if err != nil {
		return nil, err
	}
	return disklayout.DecodeSuperBlock(buf)
}

// Probe reports whether dev holds an ext filesystem, without mounting it.
// Read failures are returned; a device with another format is (_, false,
// nil).
func Probe(ctx context.Context, dev BlockReader) (Summary, bool, error) {
	buf, err := dev.ReadAt(ctx, disklayout.SuperBlockOffset, disklayout.SuperBlockSize)
	if err != nil {
		return Summary{}, false, err
	}
	if !disklayout.HasSuperBlockMagic(buf) {
		return Summary{}, false, nil
	}
	sb, err := disklayout.DecodeSuperBlock(buf)
	if err != nil {
		return Summary{}, false, nil
	}
	return summarize(sb), true, nil
}

// Open mounts the filesystem on dev.
func Open(ctx context.Context, dev io.ReaderAt, opts Options) (*Volume, error) {
	r := NewDeviceReader(dev, ReadModeOrdinary)
	v, err := OpenReader(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	if opts.MetadataReads {
		v.dev = NewDeviceReader(dev, ReadModeMetadata).WithBlockSize(v.blockSize)
	}
	return v, nil
}

// OpenReader mounts the filesystem read through r. Options.MetadataReads
// is ignored: r is used as is.
func OpenReader(ctx context.Context, r BlockReader, opts Options) (*Volume, error) {
	sb, err := readSuperBlock(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := checkSuperBlock(sb); err != nil {
		return nil, err
	}
	v := &Volume{
		dev:       r,
		sb:        sb,
		blockSize: sb.BlockSize(),
		opts:      opts,
		warn:      opts.logger(),
		cache:     newVolumeCache(),
	}
	buf, err := v.readBlockGroupTable(ctx)
	if err != nil {
		return nil, err
	}
	if v.bgt, err = disklayout.DecodeBlockGroupTable(buf, sb); err != nil {
		return nil, err
	}
	log.Infof("ext fs: mounted %v (%q): %d blocks of %d bytes, %d groups, incompat %v",
		sb.UUID, sb.VolumeName, sb.BlocksCount(), v.blockSize, v.bgt.Len(), sb.Incompat)
	return v, nil
}

// checkSuperBlock rejects geometry this package cannot work with.
func checkSuperBlock(sb *disklayout.SuperBlock) error {
	if u := sb.Incompat.Unsupported(disklayout.ReadOnlyIncompatFeatures); u != 0 {
		log.Warningf("ext fs: unsupported incompatible features: %v", u)
		return linuxerr.EINVAL
	}
	if sb.LogBlockSize > maxLogBlockSize {
		log.Warningf("ext fs: block size 2^(10+%d) too large", sb.LogBlockSize)
		return linuxerr.EINVAL
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		log.Warningf("ext fs: zero blocks (%d) or inodes (%d) per group", sb.BlocksPerGroup, sb.InodesPerGroup)
		return linuxerr.EIO
	}
	is := uint64(sb.InodeSize)
	if is < disklayout.OldInodeSize || is > sb.BlockSize() || is&(is-1) != 0 {
		log.Warningf("ext fs: invalid inode size %d", sb.InodeSize)
		return linuxerr.EIO
	}
	if sb.BlocksCount() <= uint64(sb.FirstDataBlock) {
		log.Warningf("ext fs: %d blocks, first data block %d", sb.BlocksCount(), sb.FirstDataBlock)
		return linuxerr.EIO
	}
	return nil
}

// readBlockGroupTable reads the descriptor table into one buffer. Without
// meta_bg the table is contiguous and read at once. With meta_bg, the
// descriptors of each meta group live in the first block of that group,
// after the superblock backup if there is one.
func (v *Volume) readBlockGroupTable(ctx context.Context) ([]byte, error) {
	sb := v.sb
	length := disklayout.BlockGroupTableLength(sb)
	if !sb.Incompat.MetaBG() || sb.FirstMetaBG == nil {
		return v.dev.ReadAt(ctx, int64(sb.BlockGroupTableOffset()), int(length))
	}

	perBlock := v.blockSize / uint64(sb.BlockGroupDescriptorSize())
	tableBlocks := length / v.blockSize
	firstMeta := uint64(*sb.FirstMetaBG)
	buf := make([]byte, 0, length)
	if firstMeta > 0 {
		n := min(firstMeta, tableBlocks)
		b, err := v.dev.ReadAt(ctx, int64(sb.BlockGroupTableOffset()), int(n*v.blockSize))
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	for i := firstMeta; i < tableBlocks; i++ {
		g := i * perBlock
		blk := sb.GroupFirstBlock(g)
		if sb.HasSuperBlockBackup(g) {
			blk++
		}
		b, err := v.readBlock(ctx, blk)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// readBlock reads block blk of the volume.
func (v *Volume) readBlock(ctx context.Context, blk uint64) ([]byte, error) {
	return v.readBlocks(ctx, blk, 1)
}

// readBlocks reads n contiguous blocks starting at blk.
func (v *Volume) readBlocks(ctx context.Context, blk, n uint64) ([]byte, error) {
	if blk+n > v.sb.BlocksCount() || blk+n < blk {
		v.warn.Warningf("ext fs: blocks [%d, %d) past end of volume (%d blocks)", blk, blk+n, v.sb.BlocksCount())
		return nil, linuxerr.EIO
	}
	return v.dev.ReadAt(ctx, int64(blk*v.blockSize), int(n*v.blockSize))
}

// SuperBlock returns the decoded superblock. It must not be modified.
func (v *Volume) SuperBlock() *disklayout.SuperBlock {
	return v.sb
}

// Summary returns the recognition summary of the volume.
func (v *Volume) Summary() Summary {
	return summarize(v.sb)
}

// BlockSize returns the filesystem block size in bytes.
func (v *Volume) BlockSize() uint64 {
	return v.blockSize
}

// BlockGroupCount returns the number of block groups.
func (v *Volume) BlockGroupCount() uint64 {
	return v.bgt.Len()
}

// BlockGroup returns the descriptor of block group i.
func (v *Volume) BlockGroup(i uint64) (disklayout.BlockGroupDescriptor, bool) {
	return v.bgt.Get(i)
}

// Root returns the root directory. The caller must DecRef it.
func (v *Volume) Root(ctx context.Context) (*Item, error) {
	return v.Item(ctx, disklayout.RootDirInode)
}

// Item returns the object with inode number ino. The caller must DecRef it.
// ino must be in [1, InodesCount].
func (v *Volume) Item(ctx context.Context, ino uint32) (*Item, error) {
	if ino == 0 || ino > v.sb.InodesCount {
		return nil, linuxerr.EINVAL
	}
	if it := v.cache.get(ino); it != nil {
		return it, nil
	}

	group, off := disklayout.InodeLocation(v.sb, ino)
	desc, ok := v.bgt.Get(group)
	if !ok {
		v.warn.Warningf("ext fs: inode %d in group %d of %d", ino, group, v.bgt.Len())
		return nil, linuxerr.EIO
	}
	if err := desc.ValidateInodeTable(v.sb.BlocksCount()); err != nil {
		return nil, err
	}
	tableBlock := desc.InodeTable() + off/v.blockSize
	data, err := v.cache.tableBlock(ctx, tableBlock, v.readBlock)
	if err != nil {
		return nil, err
	}
	start := off % v.blockSize
	in, err := disklayout.DecodeInode(data[start:start+uint64(v.sb.InodeSize)], v.sb.CreatorOS)
	if err != nil {
		v.warn.Warningf("ext fs: inode %d: %v", ino, err)
		return nil, err
	}
	return v.cache.insert(newItem(v, ino, tableBlock, in), data), nil
}

// Close drops every cached item and table block. Items still referenced
// remain usable.
func (v *Volume) Close() {
	v.cache.purge()
}

// CacheStats returns the number of cached items and inode table blocks.
func (v *Volume) CacheStats() (items, tableBlocks int) {
	return v.cache.cachedItems(), len(v.cache.cachedBlocks())
}
