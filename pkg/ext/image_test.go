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
	"bytes"
	"context"
	"testing"

	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/ext/disklayout"
)

// Geometry of the images built by imageBuilder: one block group of 1K
// blocks with a 256 byte inode table starting at block 5.
const (
	testBlockSize   = 1024
	testBlocks      = 512
	testInodes      = 64
	testInodeSize   = 256
	testInodeTable  = 5
	testFirstData   = 32
	testUUIDString  = "5ad8fb0a-6bd3-4d3c-9c1f-34cbd2f8e60b"
	testVolumeLabel = "testvol"
)

// imageBuilder writes a small ext4 image in memory.
type imageBuilder struct {
	t        *testing.T
	disk     []byte
	next     uint64
	incompat disklayout.IncompatFeatures
	compat   disklayout.CompatFeatures
	roCompat disklayout.ROCompatFeatures
}

func newImageBuilder(t *testing.T) *imageBuilder {
	return &imageBuilder{
		t:        t,
		disk:     make([]byte, testBlocks*testBlockSize),
		next:     testFirstData,
		incompat: disklayout.IncompatFileType | disklayout.IncompatExtents,
	}
}

// alloc returns the first of n fresh contiguous blocks.
func (b *imageBuilder) alloc(n uint64) uint64 {
	blk := b.next
	b.next += n
	if b.next > testBlocks {
		b.t.Fatalf("test image out of blocks")
	}
	return blk
}

func (b *imageBuilder) block(blk uint64) []byte {
	return b.disk[blk*testBlockSize : (blk+1)*testBlockSize]
}

func put16(buf []byte, off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }
func put32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }

// writeMetadata writes the superblock and the block group descriptor table.
func (b *imageBuilder) writeMetadata() {
	sb := b.disk[disklayout.SuperBlockOffset : disklayout.SuperBlockOffset+disklayout.SuperBlockSize]
	put32(sb, 0x00, testInodes)
	put32(sb, 0x04, testBlocks)
	put32(sb, 0x0C, uint32(testBlocks-b.next))
	put32(sb, 0x14, 1)
	put32(sb, 0x18, 0)
	put32(sb, 0x20, 8192)
	put32(sb, 0x24, 8192)
	put32(sb, 0x28, testInodes)
	put16(sb, 0x38, disklayout.SuperBlockMagic)
	put32(sb, 0x4C, disklayout.RevisionDynamic)
	put32(sb, 0x54, 11)
	put16(sb, 0x58, testInodeSize)
	put32(sb, 0x5C, uint32(b.compat))
	put32(sb, 0x60, uint32(b.incompat))
	put32(sb, 0x64, uint32(b.roCompat))
	id := [16]byte{0x5a, 0xd8, 0xfb, 0x0a, 0x6b, 0xd3, 0x4d, 0x3c, 0x9c, 0x1f, 0x34, 0xcb, 0xd2, 0xf8, 0xe6, 0x0b}
	copy(sb[0x68:], id[:])
	copy(sb[0x78:], testVolumeLabel)

	bgd := b.block(2)
	put32(bgd, 0x00, 3)
	put32(bgd, 0x04, 4)
	put32(bgd, 0x08, testInodeTable)
}

// inodeRecord returns the table record of ino.
func (b *imageBuilder) inodeRecord(ino uint32) []byte {
	off := testInodeTable*testBlockSize + int(ino-1)*testInodeSize
	return b.disk[off : off+testInodeSize]
}

// writeInode writes the fixed part of an inode.
func (b *imageBuilder) writeInode(ino uint32, mode linux.FileMode, size uint64, flags disklayout.InodeFlags, data []byte) []byte {
	rec := b.inodeRecord(ino)
	put16(rec, 0x00, uint16(mode))
	put32(rec, 0x04, uint32(size))
	put32(rec, 0x08, 1700000000)
	put32(rec, 0x0C, 1700000001)
	put32(rec, 0x10, 1700000002)
	put16(rec, 0x1A, 1)
	put32(rec, 0x20, uint32(flags))
	copy(rec[0x28:0x28+disklayout.InodeDataSize], data)
	put32(rec, 0x6C, uint32(size>>32))
	return rec
}

// extentRoot encodes a depth 0 root node holding exts.
func extentRoot(exts ...disklayout.Extent) []byte {
	h := disklayout.ExtentHeader{
		Magic:      disklayout.ExtentMagic,
		NumEntries: uint16(len(exts)),
		MaxEntries: 4,
	}
	buf := binary.Marshal(nil, binary.LittleEndian, &h)
	for i := range exts {
		buf = binary.Marshal(buf, binary.LittleEndian, &exts[i])
	}
	return buf
}

// file writes a regular file whose content is stored in one extent.
func (b *imageBuilder) file(ino uint32, content []byte) {
	n := (uint64(len(content)) + testBlockSize - 1) / testBlockSize
	var root []byte
	if n > 0 {
		blk := b.alloc(n)
		copy(b.disk[blk*testBlockSize:], content)
		root = extentRoot(disklayout.Extent{Length: uint16(n), StartBlockLo: uint32(blk)})
	} else {
		root = extentRoot()
	}
	b.writeInode(ino, linux.ModeRegular|0644, uint64(len(content)), disklayout.InodeExtents, root)
}

type testDirent struct {
	name  string
	inode uint32
	ft    disklayout.FileType
}

// dirBlock encodes ents into one directory block.
func dirBlock(ents []testDirent) []byte {
	return dirRecords(testBlockSize, ents)
}

// dirRecords encodes ents into size bytes. The last record is stretched to
// the end.
func dirRecords(size int, ents []testDirent) []byte {
	buf := make([]byte, size)
	pos := 0
	for i, e := range ents {
		recLen := (disklayout.DirentHeaderSize + len(e.name) + 3) &^ 3
		if i == len(ents)-1 {
			recLen = size - pos
		}
		put32(buf, pos, e.inode)
		put16(buf, pos+4, uint16(recLen))
		buf[pos+6] = uint8(len(e.name))
		buf[pos+7] = uint8(e.ft)
		copy(buf[pos+disklayout.DirentHeaderSize:], e.name)
		pos += recLen
	}
	return buf
}

// dir writes a directory with one block per element of blocks.
func (b *imageBuilder) dir(ino uint32, blocks ...[]testDirent) {
	n := uint64(len(blocks))
	blk := b.alloc(n)
	for i, ents := range blocks {
		copy(b.block(blk+uint64(i)), dirBlock(ents))
	}
	root := extentRoot(disklayout.Extent{Length: uint16(n), StartBlockLo: uint32(blk)})
	b.writeInode(ino, linux.ModeDirectory|0755, n*testBlockSize, disklayout.InodeExtents, root)
}

// symlink writes a fast symlink.
func (b *imageBuilder) symlink(ino uint32, target string) {
	b.writeInode(ino, linux.ModeSymlink|0777, uint64(len(target)), 0, []byte(target))
}

// open mounts the image.
func (b *imageBuilder) open(opts Options) *Volume {
	b.t.Helper()
	b.writeMetadata()
	v, err := Open(context.Background(), bytes.NewReader(b.disk), opts)
	if err != nil {
		b.t.Fatalf("Open failed: %v", err)
	}
	return v
}

// standardImage builds:
//
//	/            (2)
//	/hello       (12) "hello, world\n"
//	/sub/        (13)
//	/sub/deep    (14) 3000 bytes
//	/link        (15) -> sub/deep
//	/abs         (16) -> /hello
//	/loop        (17) -> loop
//	/dangling    (18) -> nowhere
func standardImage(t *testing.T) (*imageBuilder, map[string][]byte) {
	b := newImageBuilder(t)
	deep := bytes.Repeat([]byte("0123456789abcdef"), 3000/16+1)[:3000]
	files := map[string][]byte{
		"hello":    []byte("hello, world\n"),
		"sub/deep": deep,
	}
	b.dir(2, []testDirent{
		{".", 2, disklayout.FileTypeDirectory},
		{"..", 2, disklayout.FileTypeDirectory},
		{"hello", 12, disklayout.FileTypeRegular},
		{"sub", 13, disklayout.FileTypeDirectory},
		{"link", 15, disklayout.FileTypeSymlink},
		{"abs", 16, disklayout.FileTypeSymlink},
		{"loop", 17, disklayout.FileTypeSymlink},
		{"dangling", 18, disklayout.FileTypeSymlink},
	})
	b.file(12, files["hello"])
	b.dir(13, []testDirent{
		{".", 13, disklayout.FileTypeDirectory},
		{"..", 2, disklayout.FileTypeDirectory},
		{"deep", 14, disklayout.FileTypeRegular},
	})
	b.file(14, deep)
	b.symlink(15, "sub/deep")
	b.symlink(16, "/hello")
	b.symlink(17, "loop")
	b.symlink(18, "nowhere")
	return b, files
}

type testXattr struct {
	index disklayout.XattrNameIndex
	name  string
	value []byte

	// valueInode, if set, holds the value instead; value is then only used
	// for its length.
	valueInode uint32
}

// writeXattrTable writes an entry table for attrs into base starting at
// start, terminated by a zero entry, with the values packed at the end of
// base. Value offsets are relative to the start of base.
func writeXattrTable(base []byte, start int, attrs []testXattr) {
	pos := start
	valueEnd := len(base)
	for _, a := range attrs {
		off := 0
		if a.valueInode == 0 {
			valueEnd -= (len(a.value) + 3) &^ 3
			copy(base[valueEnd:], a.value)
			off = valueEnd
		}
		base[pos] = uint8(len(a.name))
		base[pos+1] = uint8(a.index)
		put16(base, pos+2, uint16(off))
		put32(base, pos+4, a.valueInode)
		put32(base, pos+8, uint32(len(a.value)))
		copy(base[pos+disklayout.XattrEntryHeaderSize:], a.name)
		pos = (pos + disklayout.XattrEntryHeaderSize + len(a.name) + 3) &^ 3
	}
	put32(base, pos, 0)
}

// inodeExtraSize is the extra field size given to inodes with in-inode
// attributes.
const inodeExtraSize = 32

// inodeXattrs writes attrs into the in-inode attribute region of ino.
func (b *imageBuilder) inodeXattrs(ino uint32, attrs ...testXattr) {
	rec := b.inodeRecord(ino)
	put16(rec, disklayout.OldInodeSize, inodeExtraSize)
	region := rec[disklayout.OldInodeSize+inodeExtraSize:]
	put32(region, 0, disklayout.XattrMagic)
	writeXattrTable(region[4:], 0, attrs)
}

// xattrBlock writes attrs into n fresh blocks and points the file ACL of
// ino at them.
func (b *imageBuilder) xattrBlock(ino uint32, n uint64, attrs ...testXattr) uint64 {
	blk := b.alloc(n)
	buf := b.disk[blk*testBlockSize : (blk+n)*testBlockSize]
	put32(buf, 0, disklayout.XattrMagic)
	put32(buf, 4, 1)
	put32(buf, 8, uint32(n))
	writeXattrTable(buf, disklayout.XattrHeaderSize, attrs)
	put32(b.inodeRecord(ino), 0x68, uint32(blk))
	return blk
}
