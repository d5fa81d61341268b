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

	"golang.org/x/sync/errgroup"
	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
	"gvisor.dev/extfs/pkg/rand"
)

// inlineDirParentSize is the size of the parent inode number that starts an
// inline directory.
const inlineDirParentSize = 4

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string
	Inode uint32

	// Type is FileTypeUnknown on volumes without the filetype feature.
	Type disklayout.FileType

	// Cookie resumes an enumeration right after this entry.
	Cookie uint64
}

// dirListing is the cached, name sorted listing of a directory. Immutable.
type dirListing struct {
	entries []DirEntry

	// verifier identifies this snapshot of the listing.
	verifier uint64
}

// lookup binary searches for name.
func (l *dirListing) lookup(name string) (DirEntry, bool) {
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Name >= name
	})
	if i < len(l.entries) && l.entries[i].Name == name {
		return l.entries[i], true
	}
	return DirEntry{}, false
}

func newDirListing(entries []DirEntry) *dirListing {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	for i := range entries {
		entries[i].Cookie = uint64(i + 1)
	}
	return &dirListing{entries: entries, verifier: rand.Uint64()}
}

// listing returns the cached listing, reading the directory on a miss.
func (it *Item) listing(ctx context.Context) (*dirListing, error) {
	if it.Type() != disklayout.FileTypeDirectory {
		return nil, linuxerr.ENOTDIR
	}
	it.mu.Lock()
	l := it.dir
	it.mu.Unlock()
	if l != nil {
		return l, nil
	}

	var entries []DirEntry
	var err error
	if it.inlineData() {
		entries, err = it.readInlineDirectory()
	} else {
		entries, err = it.readDirectory(ctx)
	}
	if err != nil {
		return nil, err
	}
	l = newDirListing(entries)

	it.mu.Lock()
	defer it.mu.Unlock()
	if it.dir == nil {
		it.dir = l
	}
	return it.dir, nil
}

// InvalidateDirectory drops the cached listing. The next enumeration gets a
// new verifier, so cookies handed out before are rejected with ESTALE.
func (it *Item) InvalidateDirectory() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.dir = nil
}

// readDirectory reads all directory blocks concurrently and returns the live
// entries in disk order. Hash tree interior blocks decode as unused records
// and drop out.
func (it *Item) readDirectory(ctx context.Context) ([]DirEntry, error) {
	m, err := it.blockMapper()
	if err != nil {
		return nil, err
	}
	runs, err := m.runs(ctx, 0, it.blockCount())
	if err != nil {
		return nil, err
	}
	var blocks []uint64
	for _, r := range runs {
		if r.zero {
			continue
		}
		for i := uint64(0); i < r.length; i++ {
			blocks = append(blocks, r.physical+i)
		}
	}

	hasFileType := it.vol.sb.Incompat.FileType()
	results := make([][]disklayout.DirectoryEntry, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(it.vol.opts.readConcurrency())
	for i, blk := range blocks {
		i, blk := i, blk
		g.Go(func() error {
			buf, err := it.vol.readBlock(gctx, blk)
			if err != nil {
				return err
			}
			ents, err := disklayout.DecodeDirectoryBlock(buf, hasFileType)
			if err != nil {
				it.vol.warn.Warningf("ext fs: directory %d block %d: %v", it.ino, blk, err)
				return err
			}
			results[i] = ents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []DirEntry
	for _, ents := range results {
		entries = appendLive(entries, ents)
	}
	return entries, nil
}

// readInlineDirectory decodes a directory stored as inline data. It starts
// with the parent inode number, followed by records without "." and "..".
func (it *Item) readInlineDirectory() ([]DirEntry, error) {
	data, err := it.inlineBytes()
	if err != nil {
		return nil, err
	}
	if len(data) < inlineDirParentSize {
		it.vol.warn.Warningf("ext fs: inline directory %d has %d bytes", it.ino, len(data))
		return nil, linuxerr.EIO
	}
	entries := []DirEntry{
		{Name: ".", Inode: it.ino, Type: disklayout.FileTypeDirectory},
		{Name: "..", Inode: binary.LittleEndian.Uint32(data), Type: disklayout.FileTypeDirectory},
	}
	hasFileType := it.vol.sb.Incompat.FileType()

	// The records in the data region and in system.data are separate
	// blocks: neither spans the boundary.
	head := data[inlineDirParentSize:min(len(data), disklayout.InodeDataSize)]
	ents, err := disklayout.DecodeDirectoryBlock(head, hasFileType)
	if err != nil {
		return nil, err
	}
	entries = appendLive(entries, ents)
	if len(data) > disklayout.InodeDataSize {
		ents, err := disklayout.DecodeDirectoryBlock(data[disklayout.InodeDataSize:], hasFileType)
		if err != nil {
			return nil, err
		}
		entries = appendLive(entries, ents)
	}
	return entries, nil
}

func appendLive(entries []DirEntry, ents []disklayout.DirectoryEntry) []DirEntry {
	for i := range ents {
		if !ents[i].Live() {
			continue
		}
		entries = append(entries, DirEntry{
			Name:  ents[i].Name,
			Inode: ents[i].Inode,
			Type:  ents[i].FileType,
		})
	}
	return entries
}

// Lookup finds name in the directory. A missing name is (_, false, nil).
func (it *Item) Lookup(ctx context.Context, name string) (DirEntry, bool, error) {
	if len(name) > linux.NAME_MAX {
		return DirEntry{}, false, linuxerr.ENAMETOOLONG
	}
	l, err := it.listing(ctx)
	if err != nil {
		return DirEntry{}, false, err
	}
	e, ok := l.lookup(name)
	return e, ok, nil
}

// Enumerate returns up to max entries following cookie, sorted by name, and
// the verifier of the listing they come from. Cookie 0 starts from the
// beginning and ignores verifier; any other cookie must come with the
// verifier returned alongside it, or ESTALE is returned. max <= 0 means no
// limit.
func (it *Item) Enumerate(ctx context.Context, cookie, verifier uint64, max int) ([]DirEntry, uint64, error) {
	l, err := it.listing(ctx)
	if err != nil {
		return nil, 0, err
	}
	if cookie != 0 && verifier != l.verifier {
		return nil, l.verifier, linuxerr.ESTALE
	}
	if cookie > uint64(len(l.entries)) {
		return nil, l.verifier, linuxerr.EINVAL
	}
	rest := l.entries[cookie:]
	if max > 0 && len(rest) > max {
		rest = rest[:max]
	}
	return append([]DirEntry(nil), rest...), l.verifier, nil
}
