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
	"fmt"
	"strings"
)

// CompatFeatures is the compatible feature set of a superblock. An
// implementation that does not understand a bit in this set may still read
// and write the filesystem.
type CompatFeatures uint32

// Compatible feature bits, as defined in fs/ext4/ext4.h.
const (
	CompatDirPrealloc   CompatFeatures = 0x1
	CompatImagicInodes  CompatFeatures = 0x2
	CompatHasJournal    CompatFeatures = 0x4
	CompatExtAttr       CompatFeatures = 0x8
	CompatResizeInode   CompatFeatures = 0x10
	CompatDirIndex      CompatFeatures = 0x20
	CompatLazyBG        CompatFeatures = 0x40
	CompatExcludeBitmap CompatFeatures = 0x100
	CompatSparseSuper2  CompatFeatures = 0x200
	CompatFastCommit    CompatFeatures = 0x400
	CompatStableInodes  CompatFeatures = 0x800
	CompatOrphanFile    CompatFeatures = 0x1000
)

// IncompatFeatures is the incompatible feature set of a superblock. An
// implementation must refuse to mount a filesystem with a bit it does not
// understand in this set.
type IncompatFeatures uint32

// Incompatible feature bits.
const (
	IncompatCompression IncompatFeatures = 0x1
	IncompatFileType    IncompatFeatures = 0x2
	IncompatRecover     IncompatFeatures = 0x4
	IncompatJournalDev  IncompatFeatures = 0x8
	IncompatMetaBG      IncompatFeatures = 0x10
	IncompatExtents     IncompatFeatures = 0x40
	Incompat64Bit       IncompatFeatures = 0x80
	IncompatMMP         IncompatFeatures = 0x100
	IncompatFlexBG      IncompatFeatures = 0x200
	IncompatEAInode     IncompatFeatures = 0x400
	IncompatDirData     IncompatFeatures = 0x1000
	IncompatCsumSeed    IncompatFeatures = 0x2000
	IncompatLargeDir    IncompatFeatures = 0x4000
	IncompatInlineData  IncompatFeatures = 0x8000
	IncompatEncrypt     IncompatFeatures = 0x10000
	IncompatCasefold    IncompatFeatures = 0x20000
)

// ReadOnlyIncompatFeatures lists the incompatible features a read-only
// reader can cope with. Journal recovery is not performed, so a volume that
// needs recovery is readable but may show stale metadata.
const ReadOnlyIncompatFeatures = IncompatFileType | IncompatRecover |
	IncompatMetaBG | IncompatExtents | Incompat64Bit | IncompatMMP |
	IncompatFlexBG | IncompatEAInode | IncompatCsumSeed | IncompatLargeDir |
	IncompatInlineData | IncompatCasefold

// ROCompatFeatures is the read-only compatible feature set of a superblock.
// Unknown bits here only prevent read/write mounts.
type ROCompatFeatures uint32

// Read-only compatible feature bits.
const (
	ROCompatSparseSuper   ROCompatFeatures = 0x1
	ROCompatLargeFile     ROCompatFeatures = 0x2
	ROCompatBtreeDir      ROCompatFeatures = 0x4
	ROCompatHugeFile      ROCompatFeatures = 0x8
	ROCompatGDTCsum       ROCompatFeatures = 0x10
	ROCompatDirNlink      ROCompatFeatures = 0x20
	ROCompatExtraIsize    ROCompatFeatures = 0x40
	ROCompatHasSnapshot   ROCompatFeatures = 0x80
	ROCompatQuota         ROCompatFeatures = 0x100
	ROCompatBigalloc      ROCompatFeatures = 0x200
	ROCompatMetadataCsum  ROCompatFeatures = 0x400
	ROCompatReplica       ROCompatFeatures = 0x800
	ROCompatReadOnly      ROCompatFeatures = 0x1000
	ROCompatProject       ROCompatFeatures = 0x2000
	ROCompatSharedBlocks  ROCompatFeatures = 0x4000
	ROCompatVerity        ROCompatFeatures = 0x8000
	ROCompatOrphanPresent ROCompatFeatures = 0x10000
)

type featureName struct {
	bit  uint32
	name string
}

var compatNames = []featureName{
	{uint32(CompatDirPrealloc), "dir_prealloc"},
	{uint32(CompatImagicInodes), "imagic_inodes"},
	{uint32(CompatHasJournal), "has_journal"},
	{uint32(CompatExtAttr), "ext_attr"},
	{uint32(CompatResizeInode), "resize_inode"},
	{uint32(CompatDirIndex), "dir_index"},
	{uint32(CompatLazyBG), "lazy_bg"},
	{uint32(CompatExcludeBitmap), "exclude_bitmap"},
	{uint32(CompatSparseSuper2), "sparse_super2"},
	{uint32(CompatFastCommit), "fast_commit"},
	{uint32(CompatStableInodes), "stable_inodes"},
	{uint32(CompatOrphanFile), "orphan_file"},
}

var incompatNames = []featureName{
	{uint32(IncompatCompression), "compression"},
	{uint32(IncompatFileType), "filetype"},
	{uint32(IncompatRecover), "needs_recovery"},
	{uint32(IncompatJournalDev), "journal_dev"},
	{uint32(IncompatMetaBG), "meta_bg"},
	{uint32(IncompatExtents), "extent"},
	{uint32(Incompat64Bit), "64bit"},
	{uint32(IncompatMMP), "mmp"},
	{uint32(IncompatFlexBG), "flex_bg"},
	{uint32(IncompatEAInode), "ea_inode"},
	{uint32(IncompatDirData), "dirdata"},
	{uint32(IncompatCsumSeed), "metadata_csum_seed"},
	{uint32(IncompatLargeDir), "large_dir"},
	{uint32(IncompatInlineData), "inline_data"},
	{uint32(IncompatEncrypt), "encrypt"},
	{uint32(IncompatCasefold), "casefold"},
}

var roCompatNames = []featureName{
	{uint32(ROCompatSparseSuper), "sparse_super"},
	{uint32(ROCompatLargeFile), "large_file"},
	{uint32(ROCompatBtreeDir), "btree_dir"},
	{uint32(ROCompatHugeFile), "huge_file"},
	{uint32(ROCompatGDTCsum), "uninit_bg"},
	{uint32(ROCompatDirNlink), "dir_nlink"},
	{uint32(ROCompatExtraIsize), "extra_isize"},
	{uint32(ROCompatHasSnapshot), "snapshot"},
	{uint32(ROCompatQuota), "quota"},
	{uint32(ROCompatBigalloc), "bigalloc"},
	{uint32(ROCompatMetadataCsum), "metadata_csum"},
	{uint32(ROCompatReplica), "replica"},
	{uint32(ROCompatReadOnly), "read-only"},
	{uint32(ROCompatProject), "project"},
	{uint32(ROCompatSharedBlocks), "shared_blocks"},
	{uint32(ROCompatVerity), "verity"},
	{uint32(ROCompatOrphanPresent), "orphan_present"},
}

// featureString renders the set bits of v using the names table. Bits
// without a name are rendered in hex.
func featureString(v uint32, names []featureName) string {
	if v == 0 {
		return "(none)"
	}
	var parts []string
	for _, n := range names {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
			v &^= n.bit
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("%#x", v))
	}
	return strings.Join(parts, " ")
}

// Has returns true if every bit of f is set.
func (c CompatFeatures) Has(f CompatFeatures) bool { return c&f == f }

// String implements fmt.Stringer.
func (c CompatFeatures) String() string { return featureString(uint32(c), compatNames) }

// HasJournal returns true if the volume has a journal.
func (c CompatFeatures) HasJournal() bool { return c.Has(CompatHasJournal) }

// ResizeInode returns true if blocks are reserved for growing the descriptor
// table.
func (c CompatFeatures) ResizeInode() bool { return c.Has(CompatResizeInode) }

// DirPrealloc returns true if directory preallocation hints are in use.
func (c CompatFeatures) DirPrealloc() bool { return c.Has(CompatDirPrealloc) }

// DirIndex returns true if hashed b-tree directories may be present.
func (c CompatFeatures) DirIndex() bool { return c.Has(CompatDirIndex) }

// OrphanFile returns true if the volume tracks orphans in an orphan file.
func (c CompatFeatures) OrphanFile() bool { return c.Has(CompatOrphanFile) }

// Has returns true if every bit of f is set.
func (i IncompatFeatures) Has(f IncompatFeatures) bool { return i&f == f }

// String implements fmt.Stringer.
func (i IncompatFeatures) String() string { return featureString(uint32(i), incompatNames) }

// FileType returns true if directory entries carry a file type byte.
func (i IncompatFeatures) FileType() bool { return i.Has(IncompatFileType) }

// Is64Bit returns true if the volume uses 64-bit block numbers.
func (i IncompatFeatures) Is64Bit() bool { return i.Has(Incompat64Bit) }

// MetaBG returns true if meta block groups are in use.
func (i IncompatFeatures) MetaBG() bool { return i.Has(IncompatMetaBG) }

// MMP returns true if multiple mount protection is enabled.
func (i IncompatFeatures) MMP() bool { return i.Has(IncompatMMP) }

// FlexBG returns true if flexible block groups are enabled.
func (i IncompatFeatures) FlexBG() bool { return i.Has(IncompatFlexBG) }

// CsumSeed returns true if the checksum seed is stored in the superblock.
func (i IncompatFeatures) CsumSeed() bool { return i.Has(IncompatCsumSeed) }

// Encrypt returns true if the volume may contain encrypted inodes.
func (i IncompatFeatures) Encrypt() bool { return i.Has(IncompatEncrypt) }

// Casefold returns true if the volume supports casefolded directories.
func (i IncompatFeatures) Casefold() bool { return i.Has(IncompatCasefold) }

// InlineData returns true if small files may be stored inside their inode.
func (i IncompatFeatures) InlineData() bool { return i.Has(IncompatInlineData) }

// Unsupported returns the bits of i outside the supported set.
func (i IncompatFeatures) Unsupported(supported IncompatFeatures) IncompatFeatures {
	return i &^ supported
}

// Has returns true if every bit of f is set.
func (r ROCompatFeatures) Has(f ROCompatFeatures) bool { return r&f == f }

// String implements fmt.Stringer.
func (r ROCompatFeatures) String() string { return featureString(uint32(r), roCompatNames) }

// HugeFile returns true if inode block counts may be in filesystem blocks.
func (r ROCompatFeatures) HugeFile() bool { return r.Has(ROCompatHugeFile) }

// MetadataCsum returns true if metadata checksums are enabled.
func (r ROCompatFeatures) MetadataCsum() bool { return r.Has(ROCompatMetadataCsum) }

// Quota returns true if quota inodes are recorded in the superblock.
func (r ROCompatFeatures) Quota() bool { return r.Has(ROCompatQuota) }

// Project returns true if project quotas are enabled.
func (r ROCompatFeatures) Project() bool { return r.Has(ROCompatProject) }

// HasSnapshot returns true if snapshot fields are in use.
func (r ROCompatFeatures) HasSnapshot() bool { return r.Has(ROCompatHasSnapshot) }
