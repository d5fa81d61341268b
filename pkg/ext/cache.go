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
	"strconv"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"
	"gvisor.dev/extfs/pkg/sync"
)

// tableBlockEntry is one cached inode table block together with the items
// decoded from it.
type tableBlockEntry struct {
	block uint64
	data  []byte

	// refs is the number of items in items with a non-zero reference count.
	// The entry and all of its items are evicted when it drops to 0.
	refs int

	items map[uint32]*Item
}

func lessTableBlock(a, b *tableBlockEntry) bool {
	return a.block < b.block
}

// volumeCache indexes decoded items by inode number and by the inode table
// block that backs them.
//
// Lock order: volumeCache.mu is a leaf; it is never held across I/O.
type volumeCache struct {
	mu sync.Mutex

	// items maps inode numbers to decoded items. Protected by mu.
	items map[uint32]*Item

	// blocks holds the table block entries ordered by block number.
	// Protected by mu.
	blocks *btree.BTreeG[*tableBlockEntry]

	// loads collapses concurrent reads of the same table block.
	loads singleflight.Group
}

func newVolumeCache() *volumeCache {
	return &volumeCache{
		items:  make(map[uint32]*Item),
		blocks: btree.NewG(16, lessTableBlock),
	}
}

// get returns the cached item for ino with an extra reference, or nil.
func (c *volumeCache) get(ino uint32) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[ino]
	if !ok {
		return nil
	}
	c.incRefLocked(it)
	return it
}

// tableBlock returns the contents of inode table block blk, reading it with
// read on a miss. A failed read leaves the cache untouched.
func (c *volumeCache) tableBlock(ctx context.Context, blk uint64, read func(context.Context, uint64) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.blocks.Get(&tableBlockEntry{block: blk}); ok {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	v, err := sharedLoad(ctx, &c.loads, strconv.FormatUint(blk, 10), func(ctx context.Context) (any, error) {
		return read(ctx, blk)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// insert adds it, decoded from table block data, with one reference. If a
// concurrent caller inserted the same inode first, that item is returned
// instead with an extra reference.
func (c *volumeCache) insert(it *Item, data []byte) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[it.ino]; ok {
		c.incRefLocked(existing)
		return existing
	}
	e, ok := c.blocks.Get(&tableBlockEntry{block: it.tableBlock})
	if !ok {
		e = &tableBlockEntry{
			block: it.tableBlock,
			data:  data,
			items: make(map[uint32]*Item),
		}
		c.blocks.ReplaceOrInsert(e)
	}
	e.items[it.ino] = it
	it.entry = e
	c.items[it.ino] = it
	c.incRefLocked(it)
	return it
}

// Preconditions: c.mu must be locked.
func (c *volumeCache) incRefLocked(it *Item) {
	it.refs++
	if it.refs == 1 {
		it.entry.refs++
	}
}

// decRef drops a reference on it. Once no item of its table block is
// referenced, the block and all of its items are evicted together.
func (c *volumeCache) decRef(it *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it.refs--
	if it.refs < 0 {
		panic("ext.Item.DecRef() called without holding a reference")
	}
	if it.refs > 0 {
		return
	}
	e := it.entry
	if e.refs--; e.refs > 0 {
		return
	}
	for ino, old := range e.items {
		if c.items[ino] == old {
			delete(c.items, ino)
		}
	}
	if cur, ok := c.blocks.Get(e); ok && cur == e {
		c.blocks.Delete(e)
	}
}

// purge forgets every entry. Referenced items stay valid but are no longer
// returned by get.
func (c *volumeCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint32]*Item)
	c.blocks.Clear(false)
}

// cachedBlocks returns the cached table block numbers in ascending order.
func (c *volumeCache) cachedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks := make([]uint64, 0, c.blocks.Len())
	c.blocks.Ascend(func(e *tableBlockEntry) bool {
		blocks = append(blocks, e.block)
		return true
	})
	return blocks
}

// cachedItems returns the number of cached items.
func (c *volumeCache) cachedItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// sharedLoad runs load once for all concurrent callers of key. The load runs
// without the caller's cancellation, so a cancelled caller only stops its own
// wait and the remaining callers still get the result.
func sharedLoad(ctx context.Context, g *singleflight.Group, key string, load func(context.Context) (any, error)) (any, error) {
	lctx := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return load(lctx)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
