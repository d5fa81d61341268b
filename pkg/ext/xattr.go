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

	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
)

// xattrValue locates one on-disk attribute.
type xattrValue struct {
	set   *disklayout.XattrSet
	entry *disklayout.XattrEntry
}

func checkXattrName(name string) error {
	if len(name) == 0 {
		return linuxerr.EINVAL
	}
	if len(name) > linux.XATTR_NAME_MAX {
		return linuxerr.ERANGE
	}
	return nil
}

// diskXattrs returns the on-disk attributes by full name, merging the
// in-inode set with the xattr block. In-inode entries win.
func (it *Item) diskXattrs(ctx context.Context) (map[string]xattrValue, error) {
	it.mu.Lock()
	m := it.xattrs
	it.mu.Unlock()
	if m != nil {
		return m, nil
	}

	m = make(map[string]xattrValue)
	if set := it.inode.Xattrs; set != nil {
		addXattrs(m, set)
	}
	if blk := it.inode.FileACL(); blk != 0 {
		set, err := it.readXattrBlock(ctx, blk)
		if err != nil {
			return nil, err
		}
		addXattrs(m, set)
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	if it.xattrs == nil {
		it.xattrs = m
	}
	return it.xattrs, nil
}

func addXattrs(m map[string]xattrValue, set *disklayout.XattrSet) {
	for i := range set.Entries {
		name, ok := set.Entries[i].FullName()
		if !ok {
			continue
		}
		if _, ok := m[name]; !ok {
			m[name] = xattrValue{set: set, entry: &set.Entries[i]}
		}
	}
}

// readXattrBlock reads the attribute set starting at block blk. The header
// says how many contiguous blocks the set spans, which is capped at what a
// maximal value needs plus the header block.
func (it *Item) readXattrBlock(ctx context.Context, blk uint64) (*disklayout.XattrSet, error) {
	buf, err := it.vol.readBlock(ctx, blk)
	if err != nil {
		return nil, err
	}
	h, err := disklayout.DecodeXattrHeader(buf)
	if err != nil {
		it.vol.warn.Warningf("ext fs: inode %d xattr block %d: %v", it.ino, blk, err)
		return nil, err
	}
	bs := it.vol.blockSize
	if limit := (linux.XATTR_SIZE_MAX+bs-1)/bs + 1; uint64(h.Blocks) > limit {
		it.vol.warn.Warningf("ext fs: inode %d xattr block %d spans %d blocks, limit %d", it.ino, blk, h.Blocks, limit)
		return nil, linuxerr.EIO
	}
	if h.Blocks > 1 {
		if buf, err = it.vol.readBlocks(ctx, blk, uint64(h.Blocks)); err != nil {
			return nil, err
		}
	}
	return disklayout.DecodeXattrBlock(buf)
}

// xattrBytes returns the bytes of x, reading the value inode if it has one.
func (it *Item) xattrBytes(ctx context.Context, x xattrValue) ([]byte, error) {
	if x.entry.ValueInode == 0 {
		return x.set.Value(x.entry)
	}
	ea, err := it.vol.Item(ctx, x.entry.ValueInode)
	if err != nil {
		return nil, err
	}
	defer ea.DecRef()
	if !ea.inode.Flags.EAInode() {
		it.vol.warn.Warningf("ext fs: inode %d xattr value inode %d lacks the EA_INODE flag", it.ino, ea.ino)
		return nil, linuxerr.EIO
	}
	if ea.inode.Size() < uint64(x.entry.ValueSize) {
		it.vol.warn.Warningf("ext fs: xattr value inode %d has %d of %d bytes", ea.ino, ea.inode.Size(), x.entry.ValueSize)
		return nil, linuxerr.EIO
	}
	buf := make([]byte, x.entry.ValueSize)
	if len(buf) == 0 {
		return buf, nil
	}
	if n, err := ea.ReadAt(ctx, buf, 0); n < len(buf) {
		return nil, err
	}
	return buf, nil
}

// GetXattr returns the value of attribute name. Transient attributes shadow
// on-disk ones. A missing attribute is ENODATA.
func (it *Item) GetXattr(ctx context.Context, name string) ([]byte, error) {
	if err := checkXattrName(name); err != nil {
		return nil, err
	}
	it.mu.Lock()
	v, ok := it.transient[name]
	it.mu.Unlock()
	if ok {
		if v == nil {
			return nil, linuxerr.ENODATA
		}
		return append([]byte(nil), v...), nil
	}

	m, err := it.diskXattrs(ctx)
	if err != nil {
		return nil, err
	}
	x, ok := m[name]
	if !ok {
		return nil, linuxerr.ENODATA
	}
	b, err := it.xattrBytes(ctx, x)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// ListXattrs returns the names of all attributes, sorted.
func (it *Item) ListXattrs(ctx context.Context) ([]string, error) {
	m, err := it.diskXattrs(ctx)
	if err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	names := make([]string, 0, len(m)+len(it.transient))
	for name := range m {
		if v, ok := it.transient[name]; ok && v == nil {
			continue
		}
		names = append(names, name)
	}
	for name, v := range it.transient {
		if _, ok := m[name]; !ok && v != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SetTransientXattr sets an attribute in memory only. It shadows any on-disk
// value until removed or the item is evicted.
func (it *Item) SetTransientXattr(name string, value []byte) error {
	if err := checkXattrName(name); err != nil {
		return err
	}
	if len(value) > linux.XATTR_SIZE_MAX {
		return linuxerr.E2BIG
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.transient == nil {
		it.transient = make(map[string][]byte)
	}
	it.transient[name] = append([]byte{}, value...)
	return nil
}

// RemoveTransientXattr hides attribute name in memory only. It returns
// ENODATA if the attribute is not visible.
func (it *Item) RemoveTransientXattr(ctx context.Context, name string) error {
	if err := checkXattrName(name); err != nil {
		return err
	}
	m, err := it.diskXattrs(ctx)
	if err != nil {
		return err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	v, ok := it.transient[name]
	_, onDisk := m[name]
	switch {
	case ok && v == nil:
		return linuxerr.ENODATA
	case !ok && !onDisk:
		return linuxerr.ENODATA
	case onDisk:
		if it.transient == nil {
			it.transient = make(map[string][]byte)
		}
		it.transient[name] = nil
	default:
		delete(it.transient, name)
	}
	return nil
}
