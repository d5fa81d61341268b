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
	"time"

	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/ext/disklayout"
	"gvisor.dev/extfs/pkg/sync"
)

// Item is one decoded inode. Items are reference counted; every Item
// returned by this package carries a reference that the caller must drop
// with DecRef.
type Item struct {
	vol *Volume

	// ino is the inode number. Immutable.
	ino uint32

	// tableBlock is the inode table block holding the record. Immutable.
	tableBlock uint64

	// inode is the decoded record. Immutable.
	inode *disklayout.Inode

	// refs and entry are protected by vol.cache.mu.
	refs  int64
	entry *tableBlockEntry

	// mapperOnce guards mapper, which is built on first use.
	mapperOnce sync.Once
	mapper     blockMapper
	mapperErr  error

	// mu protects the fields below. It is never held across I/O except by
	// the loaders that populate them, and never together with another
	// item's mu.
	mu sync.Mutex

	// dir is the cached directory listing, or nil.
	dir *dirListing

	// xattrs is the merged on-disk attribute set, or nil until loaded.
	xattrs map[string]xattrValue

	// transient holds attribute overrides that are never written back. A nil
	// value hides the attribute.
	transient map[string][]byte
}

func newItem(v *Volume, ino uint32, tableBlock uint64, in *disklayout.Inode) *Item {
	return &Item{
		vol:        v,
		ino:        ino,
		tableBlock: tableBlock,
		inode:      in,
	}
}

// DecRef drops the caller's reference.
func (it *Item) DecRef() {
	it.vol.cache.decRef(it)
}

// IncRef takes an extra reference.
func (it *Item) IncRef() {
	c := it.vol.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incRefLocked(it)
}

// Ino returns the inode number.
func (it *Item) Ino() uint32 {
	return it.ino
}

// Inode returns the decoded record. It must not be modified.
func (it *Item) Inode() *disklayout.Inode {
	return it.inode
}

// Type returns the file type.
func (it *Item) Type() disklayout.FileType {
	return it.inode.FileType()
}

// Attributes are the POSIX attributes of an item.
type Attributes struct {
	Ino        uint32
	Type       disklayout.FileType
	Mode       linux.FileMode
	UID        uint32
	GID        uint32
	Flags      disklayout.InodeFlags
	Size       uint64
	AllocSize  uint64
	Links      uint16
	Generation uint32
	AccessTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time

	// CreationTime is nil if the inode does not record it.
	CreationTime *time.Time
}

func toTime(ts disklayout.Timestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// Attributes returns the attributes of it.
func (it *Item) Attributes() Attributes {
	in := it.inode
	sb := it.vol.sb
	a := Attributes{
		Ino:        it.ino,
		Type:       in.FileType(),
		Mode:       in.Mode,
		UID:        in.UID(),
		GID:        in.GID(),
		Flags:      in.Flags,
		Size:       in.Size(),
		AllocSize:  in.AllocatedBytes(sb.ROCompat.HugeFile(), it.vol.blockSize),
		Links:      in.LinksCount,
		Generation: in.Generation,
		AccessTime: toTime(in.AccessTime),
		ModifyTime: toTime(in.ModifyTime),
		ChangeTime: toTime(in.ChangeTime),
	}
	if in.CreationTime != nil {
		t := toTime(*in.CreationTime)
		a.CreationTime = &t
	}
	return a
}

// inlineData reports whether the item keeps its content in the inode.
func (it *Item) inlineData() bool {
	return it.inode.Flags.InlineData() && it.vol.sb.Incompat.InlineData()
}

// blockCount returns the number of file blocks covering the item's size.
func (it *Item) blockCount() uint64 {
	bs := it.vol.blockSize
	return (it.inode.Size() + bs - 1) / bs
}
