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

// Extents were introduced in ext4 and provide huge performance gains in terms
// data locality and reduced metadata block usage. Extents are organized in
// extent trees. The root node is contained in the inode's data region.
//
// Terminology:
//   - Physical Block:
//       Filesystem data block which is addressed normally wrt the entire
//       filesystem (addressed with 48 bits).
//
//   - File Block:
//       Data block containing *only* file data and addressed wrt to the file
//       with only 32 bits. The (i)th file block contains file data from
//       byte (i * sb.BlockSize()) to ((i+1) * sb.BlockSize()).

const (
	// ExtentHeaderSize is the size of the header of an extent tree node.
	ExtentHeaderSize = 12

	// ExtentEntrySize is the size of an entry in an extent tree node.
	// This size is the same for both leaf and internal nodes.
	ExtentEntrySize = 12

	// ExtentMagic is the magic number which must be present in the header.
	ExtentMagic = 0xf30a

	// ExtentInitMaxLength is the longest initialized extent. Stored lengths
	// above it mark unwritten extents.
	ExtentInitMaxLength = 32768
)

// ExtentHeader emulates the ext4_extent_header struct in ext4. Each extent
// tree node begins with this and is followed by `NumEntries` number of:
//   - Extent         if `Depth` == 0
//   - ExtentIdx      otherwise
type ExtentHeader struct {
	// Magic in the extent magic number, must be 0xf30a.
	Magic uint16

	// NumEntries indicates the number of valid entries following the header.
	NumEntries uint16

	// MaxEntries that could follow the header. Used while adding entries.
	MaxEntries uint16

	// Depth is the distance of this node from the leaves. Leaves have depth
	// 0.
	Depth uint16

	Generation uint32
}

// ExtentIdx emulates the ext4_extent_idx struct in ext4. Only present in
// internal nodes. Sorted in ascending order based on FirstFileBlock since
// Linux does a binary search on this. This points to a block containing the
// child node.
type ExtentIdx struct {
	FirstFileBlock uint32
	ChildBlockLo   uint32
	ChildBlockHi   uint16
	Unused         uint16
}

// ChildBlock returns the physical block number of the child node.
func (ei *ExtentIdx) ChildBlock() uint64 {
	return binary.Join48(ei.ChildBlockLo, ei.ChildBlockHi)
}

// Extent represents the ext4_extent struct in ext4. Only present in leaf
// nodes. Sorted in ascending order based on FirstFileBlock since Linux does a
// binary search on this. This points to an array of data blocks containing the
// file data. It covers `Len()` data blocks starting from `StartBlock()`.
type Extent struct {
	FirstFileBlock uint32
	Length         uint16
	StartBlockHi   uint16
	StartBlockLo   uint32
}

// StartBlock returns the physical block number of the first data block this
// extent covers.
func (e *Extent) StartBlock() uint64 {
	return binary.Join48(e.StartBlockLo, e.StartBlockHi)
}

// Unwritten returns true if the extent is allocated but reads as zeros.
func (e *Extent) Unwritten() bool {
	return e.Length > ExtentInitMaxLength
}

// Len returns the number of blocks covered by the extent.
func (e *Extent) Len() uint32 {
	if e.Unwritten() {
		return uint32(e.Length) - ExtentInitMaxLength
	}
	return uint32(e.Length)
}

// ExtentLevel is a decoded extent tree node. Exactly one of Leaves and
// Indexes is populated, depending on Header.Depth.
//
// Note: This struct itself does not represent an on-disk struct.
type ExtentLevel struct {
	Header  ExtentHeader
	Leaves  []Extent
	Indexes []ExtentIdx
}

// Len returns the number of entries of the level.
func (l *ExtentLevel) Len() int {
	return int(l.Header.NumEntries)
}

// FileBlock returns the first file block of entry i.
func (l *ExtentLevel) FileBlock(i int) uint32 {
	if l.Header.Depth == 0 {
		return l.Leaves[i].FirstFileBlock
	}
	return l.Indexes[i].FirstFileBlock
}

// DecodeExtentLevel decodes the node in buf: the inode data region for the
// root, or a whole block for deeper nodes. A bad magic, or more entries than
// the node allows or buf holds, is EIO.
func DecodeExtentLevel(buf []byte) (*ExtentLevel, error) {
	if len(buf) < ExtentHeaderSize {
		log.Warningf("ext fs: extent node truncated to %d bytes", len(buf))
		return nil, linuxerr.EIO
	}
	var l ExtentLevel
	binary.Unmarshal(buf[:ExtentHeaderSize], binary.LittleEndian, &l.Header)
	if l.Header.Magic != ExtentMagic {
		log.Warningf("ext fs: bad extent node magic %#x", l.Header.Magic)
		return nil, linuxerr.EIO
	}
	n := int(l.Header.NumEntries)
	if n > int(l.Header.MaxEntries) || ExtentHeaderSize+n*ExtentEntrySize > len(buf) {
		log.Warningf("ext fs: extent node has %d entries, max %d, room for %d",
			n, l.Header.MaxEntries, (len(buf)-ExtentHeaderSize)/ExtentEntrySize)
		return nil, linuxerr.EIO
	}
	entries := buf[ExtentHeaderSize : ExtentHeaderSize+n*ExtentEntrySize]
	if l.Header.Depth == 0 {
		l.Leaves = make([]Extent, n)
		binary.Unmarshal(entries, binary.LittleEndian, l.Leaves)
	} else {
		l.Indexes = make([]ExtentIdx, n)
		binary.Unmarshal(entries, binary.LittleEndian, l.Indexes)
	}
	return &l, nil
}
