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

	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
)

// inlineDataXattr holds the part of inline data that does not fit in the
// inode data region.
const inlineDataXattr = "system.data"

// FileExtent maps a byte range of a file to the device.
type FileExtent struct {
	// Logical is the byte offset in the file.
	Logical uint64

	// Physical is the byte offset on the device. It is 0 for holes.
	Physical uint64

	// Length is the length of the range in bytes.
	Length uint64

	// Zero is set for holes and unwritten extents, which read as zeros.
	Zero bool
}

// blockMapper returns the block mapper of the item, building it on first
// use.
func (it *Item) blockMapper() (blockMapper, error) {
	it.mapperOnce.Do(func() {
		if it.inode.Flags.Extents() {
			it.mapper, it.mapperErr = newExtentFile(it.inode.Data[:], it.vol.readBlock, it.vol.warn)
			return
		}
		it.mapper = newBlockMapFile(it.inode.Data[:], it.vol.blockSize, it.vol.readBlock)
	})
	return it.mapper, it.mapperErr
}

// hasContent reports whether the item's data is a byte stream this package
// can map.
func (it *Item) hasContent() bool {
	switch it.Type() {
	case disklayout.FileTypeRegular, disklayout.FileTypeDirectory, disklayout.FileTypeSymlink:
		return true
	default:
		return false
	}
}

// Extents returns the device ranges backing bytes [off, off+n) of the file,
// clipped to the file size, in ascending order and without gaps. Holes are
// reported as Zero extents. Inline data and fast symlink targets have no
// device range and are EOPNOTSUPP.
func (it *Item) Extents(ctx context.Context, off, n uint64) ([]FileExtent, error) {
	if !it.hasContent() {
		return nil, linuxerr.EINVAL
	}
	if it.inlineData() || it.isFastSymlink() {
		return nil, linuxerr.EOPNOTSUPP
	}
	size := it.inode.Size()
	if n == 0 || off >= size {
		return nil, nil
	}
	end := off + n
	if end > size || end < off {
		end = size
	}
	m, err := it.blockMapper()
	if err != nil {
		return nil, err
	}
	bs := it.vol.blockSize
	first := off / bs
	last := (end - 1) / bs
	runs, err := m.runs(ctx, first, last-first+1)
	if err != nil {
		return nil, err
	}

	var out []FileExtent
	pos := off
	for _, r := range runs {
		runStart := r.fileBlock * bs
		runEnd := (r.fileBlock + r.length) * bs
		if runEnd <= pos {
			continue
		}
		if runStart >= end {
			break
		}
		from := max(runStart, pos)
		to := min(runEnd, end)
		if from > pos {
			out = append(out, FileExtent{Logical: pos, Length: from - pos, Zero: true})
		}
		out = append(out, FileExtent{
			Logical:  from,
			Physical: r.physical*bs + (from - runStart),
			Length:   to - from,
			Zero:     r.zero,
		})
		pos = to
	}
	if pos < end {
		out = append(out, FileExtent{Logical: pos, Length: end - pos, Zero: true})
	}
	return out, nil
}

// ReadAt reads file content into p starting at byte off. It follows
// io.ReaderAt: a read that stops at the end of the file returns io.EOF.
func (it *Item) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if it.Type() == disklayout.FileTypeDirectory {
		return 0, linuxerr.EISDIR
	}
	if !it.hasContent() {
		return 0, linuxerr.EINVAL
	}
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := it.inode.Size()
	if uint64(off) >= size {
		return 0, io.EOF
	}
	want := len(p)
	if rem := size - uint64(off); uint64(want) > rem {
		want = int(rem)
	}

	if it.isFastSymlink() {
		copy(p[:want], it.inode.Data[off:size])
	} else if it.inlineData() {
		data, err := it.inlineBytes()
		if err != nil {
			return 0, err
		}
		if uint64(len(data)) < size {
			it.vol.warn.Warningf("ext fs: inode %d inline data has %d of %d bytes", it.ino, len(data), size)
			return 0, linuxerr.EIO
		}
		copy(p[:want], data[off:])
	} else if err := it.readMapped(ctx, p[:want], uint64(off)); err != nil {
		return 0, err
	}
	if want < len(p) {
		return want, io.EOF
	}
	return want, nil
}

// readMapped fills dst with the mapped content starting at byte off.
func (it *Item) readMapped(ctx context.Context, dst []byte, off uint64) error {
	extents, err := it.Extents(ctx, off, uint64(len(dst)))
	if err != nil {
		return err
	}
	for _, e := range extents {
		d := dst[e.Logical-off : e.Logical-off+e.Length]
		if e.Zero {
			clear(d)
			continue
		}
		buf, err := it.vol.dev.ReadAt(ctx, int64(e.Physical), int(e.Length))
		if err != nil {
			return err
		}
		copy(d, buf)
	}
	return nil
}

// inlineBytes returns the inline content: the inode data region followed by
// the value of the system.data attribute.
func (it *Item) inlineBytes() ([]byte, error) {
	size := it.inode.Size()
	data := it.inode.Data[:]
	if size <= disklayout.InodeDataSize {
		return data[:size], nil
	}
	out := append([]byte(nil), data...)
	if x := it.inode.Xattrs; x != nil {
		if e, ok := x.Lookup(inlineDataXattr); ok {
			v, err := x.Value(e)
			if err != nil {
				return nil, err
			}
			out = append(out, v...)
		}
	}
	if uint64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}
