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

package disklayout

import (
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/log"
)

const (
	// BlockGroupDescriptorSize32 is the descriptor size without the 64-bit
	// feature.
	BlockGroupDescriptorSize32 = 32

	// BlockGroupDescriptorSize64 is the minimum descriptor size with the
	// 64-bit feature.
	BlockGroupDescriptorSize64 = 64
)

// BGFlags is the block group flag set.
type BGFlags uint16

// These are the different block group flags.
const (
	// BgInodeUninit indicates that inode table and bitmap are not initialized.
	BgInodeUninit BGFlags = 0x1

	// BgBlockUninit indicates that block bitmap is not initialized.
	BgBlockUninit BGFlags = 0x2

	// BgInodeZeroed indicates that inode table is zeroed.
	BgInodeZeroed BGFlags = 0x4
)

// InodeUninit returns true if the inode table and bitmap are uninitialized.
func (f BGFlags) InodeUninit() bool { return f&BgInodeUninit != 0 }

// BlockUninit returns true if the block bitmap is uninitialized.
func (f BGFlags) BlockUninit() bool { return f&BgBlockUninit != 0 }

// InodeZeroed returns true if the inode table has been zeroed.
func (f BGFlags) InodeZeroed() bool { return f&BgInodeZeroed != 0 }

// blockGroupLo mirrors the first 32 bytes of struct ext4_group_desc.
type blockGroupLo struct {
	BlockBitmapLo         uint32
	InodeBitmapLo         uint32
	InodeTableLo          uint32
	FreeBlocksCountLo     uint16
	FreeInodesCountLo     uint16
	UsedDirsCountLo       uint16
	Flags                 uint16
	ExcludeBitmapLo       uint32
	BlockBitmapChecksumLo uint16
	InodeBitmapChecksumLo uint16
	ItableUnusedLo        uint16
	Checksum              uint16
}

// blockGroupHi mirrors the second 32 bytes of struct ext4_group_desc, which
// only exist with the 64-bit feature.
type blockGroupHi struct {
	BlockBitmapHi         uint32
	InodeBitmapHi         uint32
	InodeTableHi          uint32
	FreeBlocksCountHi     uint16
	FreeInodesCountHi     uint16
	UsedDirsCountHi       uint16
	ItableUnusedHi        uint16
	ExcludeBitmapHi       uint32
	BlockBitmapChecksumHi uint16
	InodeBitmapChecksumHi uint16
	_                     uint32
}

// BlockGroupDescriptor describes one block group. The upper halves are nil
// unless the volume has the 64-bit feature.
//
// See https://www.kernel.org/doc/html/latest/filesystems/ext4/globals.html#block-group-descriptors.
type BlockGroupDescriptor struct {
	BlockBitmapLo         uint32
	InodeBitmapLo         uint32
	InodeTableLo          uint32
	FreeBlocksCountLo     uint16
	FreeInodesCountLo     uint16
	UsedDirsCountLo       uint16
	Flags                 BGFlags
	ExcludeBitmapLo       uint32
	BlockBitmapChecksumLo uint16
	InodeBitmapChecksumLo uint16
	ItableUnusedLo        uint16
	Checksum              uint16

	BlockBitmapHi         *uint32
	InodeBitmapHi         *uint32
	InodeTableHi          *uint32
	FreeBlocksCountHi     *uint16
	FreeInodesCountHi     *uint16
	UsedDirsCountHi       *uint16
	ItableUnusedHi        *uint16
	ExcludeBitmapHi       *uint32
	BlockBitmapChecksumHi *uint16
	InodeBitmapChecksumHi *uint16
}

func join64(lo uint32, hi *uint32) uint64 {
	if hi == nil {
		return uint64(lo)
	}
	return binary.Join64(lo, *hi)
}

func join32(lo uint16, hi *uint16) uint32 {
	if hi == nil {
		return uint32(lo)
	}
	return binary.Join32(lo, *hi)
}

// BlockBitmap returns the block number of the block bitmap.
func (d *BlockGroupDescriptor) BlockBitmap() uint64 { return join64(d.BlockBitmapLo, d.BlockBitmapHi) }

// InodeBitmap returns the block number of the inode bitmap.
func (d *BlockGroupDescriptor) InodeBitmap() uint64 { return join64(d.InodeBitmapLo, d.InodeBitmapHi) }

// InodeTable returns the block number of the first inode table block.
func (d *BlockGroupDescriptor) InodeTable() uint64 { return join64(d.InodeTableLo, d.InodeTableHi) }

// ExcludeBitmap returns the block number of the snapshot exclusion bitmap.
func (d *BlockGroupDescriptor) ExcludeBitmap() uint64 {
	return join64(d.ExcludeBitmapLo, d.ExcludeBitmapHi)
}

// FreeBlocksCount returns the number of free blocks in the group.
func (d *BlockGroupDescriptor) FreeBlocksCount() uint32 {
	return join32(d.FreeBlocksCountLo, d.FreeBlocksCountHi)
}

// FreeInodesCount returns the number of free inodes in the group.
func (d *BlockGroupDescriptor) FreeInodesCount() uint32 {
	return join32(d.FreeInodesCountLo, d.FreeInodesCountHi)
}

// UsedDirsCount returns the number of directories in the group.
func (d *BlockGroupDescriptor) UsedDirsCount() uint32 {
	return join32(d.UsedDirsCountLo, d.UsedDirsCountHi)
}

// ItableUnused returns the number of unused entries at the end of the inode
// table.
func (d *BlockGroupDescriptor) ItableUnused() uint32 {
	return join32(d.ItableUnusedLo, d.ItableUnusedHi)
}

// BlockBitmapChecksum returns the block bitmap checksum.
func (d *BlockGroupDescriptor) BlockBitmapChecksum() uint32 {
	return join32(d.BlockBitmapChecksumLo, d.BlockBitmapChecksumHi)
}

// InodeBitmapChecksum returns the inode bitmap checksum.
func (d *BlockGroupDescriptor) InodeBitmapChecksum() uint32 {
	return join32(d.InodeBitmapChecksumLo, d.InodeBitmapChecksumHi)
}

// ValidateInodeTable checks that the inode table lies on the device.
func (d *BlockGroupDescriptor) ValidateInodeTable(deviceBlocks uint64) error {
	if t := d.InodeTable(); t == 0 || t >= deviceBlocks {
		log.Warningf("ext fs: inode table at block %d outside device of %d blocks", t, deviceBlocks)
		return linuxerr.EIO
	}
	return nil
}

// BlockGroupTable gives indexed access to the descriptors of a table read in
// one piece.
type BlockGroupTable struct {
	buf      []byte
	descSize int
	count    uint64
	is64Bit  bool
}

// BlockGroupTableLength returns the number of bytes to read for the table
// of sb: count descriptors rounded up to whole blocks.
func BlockGroupTableLength(sb *SuperBlock) uint64 {
	n := sb.BlockGroupCount() * uint64(sb.BlockGroupDescriptorSize())
	bs := sb.BlockSize()
	return (n + bs - 1) / bs * bs
}

// DecodeBlockGroupTable wraps buf, which must start at
// sb.BlockGroupTableOffset(). It returns EIO if buf cannot hold every
// descriptor.
func DecodeBlockGroupTable(buf []byte, sb *SuperBlock) (*BlockGroupTable, error) {
	t := &BlockGroupTable{
		buf:      buf,
		descSize: sb.BlockGroupDescriptorSize(),
		count:    sb.BlockGroupCount(),
		is64Bit:  sb.Incompat.Is64Bit(),
	}
	if need := t.count * uint64(t.descSize); uint64(len(buf)) < need {
		log.Warningf("ext fs: block group table has %d bytes, need %d", len(buf), need)
		return nil, linuxerr.EIO
	}
	return t, nil
}

// Len returns the number of descriptors.
func (t *BlockGroupTable) Len() uint64 {
	return t.count
}

// DescriptorSize returns the size of each descriptor in bytes.
func (t *BlockGroupTable) DescriptorSize() int {
	return t.descSize
}

// Get decodes descriptor i. It returns false if i is out of range.
func (t *BlockGroupTable) Get(i uint64) (BlockGroupDescriptor, bool) {
	if i >= t.count {
		return BlockGroupDescriptor{}, false
	}
	off := i * uint64(t.descSize)
	var lo blockGroupLo
	binary.Unmarshal(t.buf[off:off+BlockGroupDescriptorSize32], binary.LittleEndian, &lo)
	d := BlockGroupDescriptor{
		BlockBitmapLo:         lo.BlockBitmapLo,
		InodeBitmapLo:         lo.InodeBitmapLo,
		InodeTableLo:          lo.InodeTableLo,
		FreeBlocksCountLo:     lo.FreeBlocksCountLo,
		FreeInodesCountLo:     lo.FreeInodesCountLo,
		UsedDirsCountLo:       lo.UsedDirsCountLo,
		Flags:                 BGFlags(lo.Flags),
		ExcludeBitmapLo:       lo.ExcludeBitmapLo,
		BlockBitmapChecksumLo: lo.BlockBitmapChecksumLo,
		InodeBitmapChecksumLo: lo.InodeBitmapChecksumLo,
		ItableUnusedLo:        lo.ItableUnusedLo,
		Checksum:              lo.Checksum,
	}
	if !t.is64Bit {
		return d, true
	}
	var hi blockGroupHi
	off += BlockGroupDescriptorSize32
	binary.Unmarshal(t.buf[off:off+BlockGroupDescriptorSize32], binary.LittleEndian, &hi)
	d.BlockBitmapHi = ptr(hi.BlockBitmapHi)
	d.InodeBitmapHi = ptr(hi.InodeBitmapHi)
	d.InodeTableHi = ptr(hi.InodeTableHi)
	d.FreeBlocksCountHi = ptr(hi.FreeBlocksCountHi)
	d.FreeInodesCountHi = ptr(hi.FreeInodesCountHi)
	d.UsedDirsCountHi = ptr(hi.UsedDirsCountHi)
	d.ItableUnusedHi = ptr(hi.ItableUnusedHi)
	d.ExcludeBitmapHi = ptr(hi.ExcludeBitmapHi)
	d.BlockBitmapChecksumHi = ptr(hi.BlockBitmapChecksumHi)
	d.InodeBitmapChecksumHi = ptr(hi.InodeBitmapChecksumHi)
	return d, true
}
