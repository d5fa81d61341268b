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
	"github.com/google/uuid"
	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/log"
)

const (
	// SuperBlockOffset is the byte offset of the primary superblock. The
	// first 1024 bytes of the device are reserved for boot loaders.
	SuperBlockOffset = 1024

	// SuperBlockSize is the on-disk size of the superblock.
	SuperBlockSize = 1024

	// SuperBlockMagic is the value of the magic field of a valid superblock.
	SuperBlockMagic = linux.EXT_SUPER_MAGIC

	// RevisionOriginal is the revision of ext2 filesystems without the dynamic
	// superblock region.
	RevisionOriginal = 0

	// RevisionDynamic enables the dynamic superblock region.
	RevisionDynamic = 1

	// OriginalFirstInode and OriginalInodeSize are the fixed values used by
	// RevisionOriginal filesystems.
	OriginalFirstInode = 11
	OriginalInodeSize  = 128

	// RootDirInode is the inode number of the root directory.
	RootDirInode = 2
)

// CreatorOS identifies the operating system that formatted the volume. It
// selects the layout of the OS dependent inode fields.
type CreatorOS uint32

// Creator OS values.
const (
	OSLinux   CreatorOS = 0
	OSHurd    CreatorOS = 1
	OSMasix   CreatorOS = 2
	OSFreeBSD CreatorOS = 3
	OSLites   CreatorOS = 4
)

// String implements fmt.Stringer.
func (o CreatorOS) String() string {
	switch o {
	case OSLinux:
		return "Linux"
	case OSHurd:
		return "Hurd"
	case OSMasix:
		return "Masix"
	case OSFreeBSD:
		return "FreeBSD"
	case OSLites:
		return "Lites"
	default:
		return "unknown"
	}
}

// superBlockRaw mirrors struct ext4_super_block field for field. It is
// exactly SuperBlockSize bytes long.
type superBlockRaw struct {
	InodesCount           uint32
	BlocksCountLo         uint32
	ReservedBlocksCountLo uint32
	FreeBlocksCountLo     uint32
	FreeInodesCount       uint32
	FirstDataBlock        uint32
	LogBlockSize          uint32
	LogClusterSize        uint32
	BlocksPerGroup        uint32
	ClustersPerGroup      uint32
	InodesPerGroup        uint32
	MountTime             uint32
	WriteTime             uint32
	MountCount            uint16
	MaxMountCount         int16
	Magic                 uint16
	State                 uint16
	Errors                uint16
	MinorRevision         uint16
	LastCheck             uint32
	CheckInterval         uint32
	CreatorOS             uint32
	Revision              uint32
	DefResUID             uint16
	DefResGID             uint16

	// Dynamic region, offset 0x54.
	FirstInode           uint32
	InodeSize            uint16
	BlockGroupNumber     uint16
	Compat               uint32
	Incompat             uint32
	ROCompat             uint32
	UUID                 [16]byte
	VolumeName           [16]byte
	LastMounted          [64]byte
	AlgorithmUsageBitmap uint32
	PreallocBlocks       uint8
	PreallocDirBlocks    uint8
	ReservedGDTBlocks    uint16
	JournalUUID          [16]byte
	JournalInode         uint32
	JournalDevice        uint32
	LastOrphan           uint32
	HashSeed             [4]uint32
	DefHashVersion       uint8
	JournalBackupType    uint8
	DescSize             uint16
	DefaultMountOpts     uint32
	FirstMetaBG          uint32
	MkfsTime             uint32
	JournalBlocks        [17]uint32

	// 64-bit support, offset 0x150.
	BlocksCountHi         uint32
	ReservedBlocksCountHi uint32
	FreeBlocksCountHi     uint32
	MinExtraIsize         uint16
	WantExtraIsize        uint16
	Flags                 uint32
	RAIDStride            uint16
	MMPInterval           uint16
	MMPBlock              uint64
	RAIDStripeWidth       uint32
	LogGroupsPerFlex      uint8
	ChecksumType          uint8
	EncryptionLevel       uint8
	_                     uint8
	KBytesWritten         uint64
	SnapshotInode         uint32
	SnapshotID            uint32
	SnapshotReserved      uint64
	SnapshotList          uint32
	ErrorCount            uint32
	FirstErrorTime        uint32
	FirstErrorInode       uint32
	FirstErrorBlock       uint64
	FirstErrorFunction    [32]byte
	FirstErrorLine        uint32
	LastErrorTime         uint32
	LastErrorInode        uint32
	LastErrorLine         uint32
	LastErrorBlock        uint64
	LastErrorFunction     [32]byte
	MountOptions          [64]byte
	UserQuotaInode        uint32
	GroupQuotaInode       uint32
	OverheadClusters      uint32
	BackupBlockGroups     [2]uint32
	EncryptAlgorithms     [4]uint8
	EncryptSalt           [16]byte
	LostFoundInode        uint32
	ProjectQuotaInode     uint32
	ChecksumSeed          uint32
	WriteTimeHi           uint8
	MountTimeHi           uint8
	MkfsTimeHi            uint8
	LastCheckHi           uint8
	FirstErrorTimeHi      uint8
	LastErrorTimeHi       uint8
	FirstErrorCode        uint8
	LastErrorCode         uint8
	Encoding              uint16
	EncodingFlags         uint16
	OrphanFileInode       uint32
	_                     [94]uint32
	Checksum              uint32
}

// ErrorRecord describes the first or last error recorded by the kernel.
type ErrorRecord struct {
	Time     int64
	Inode    uint32
	Block    uint64
	Function string
	Line     uint32
	Code     uint8
}

// SuperBlock is the decoded superblock. Fields that are only present for
// particular revisions or feature sets are pointers and are nil when absent.
type SuperBlock struct {
	InodesCount           uint32
	BlocksCountLo         uint32
	ReservedBlocksCountLo uint32
	FreeBlocksCountLo     uint32
	FreeInodesCount       uint32
	FirstDataBlock        uint32
	LogBlockSize          uint32
	LogClusterSize        uint32
	BlocksPerGroup        uint32
	ClustersPerGroup      uint32
	InodesPerGroup        uint32
	MountTime             int64
	WriteTime             int64
	MountCount            uint16
	MaxMountCount         int16
	Magic                 uint16
	State                 uint16
	Errors                uint16
	MinorRevision         uint16
	LastCheck             int64
	CheckInterval         uint32
	CreatorOS             CreatorOS
	Revision              uint32
	DefaultReservedUID    uint16
	DefaultReservedGID    uint16

	// The following fields take fixed defaults for RevisionOriginal.
	FirstInode       uint32
	InodeSize        uint16
	BlockGroupNumber uint16
	Compat           CompatFeatures
	Incompat         IncompatFeatures
	ROCompat         ROCompatFeatures

	// The remaining fields are nil or zero for RevisionOriginal.
	UUID                  uuid.UUID
	VolumeName            string
	LastMounted           string
	AlgorithmUsageBitmap  uint32
	PreallocBlocks        *uint8
	PreallocDirBlocks     *uint8
	ReservedGDTBlocks     *uint16
	JournalUUID           *uuid.UUID
	JournalInode          *uint32
	JournalDevice         *uint32
	LastOrphan            *uint32
	HashSeed              *[4]uint32
	DefaultHashVersion    *uint8
	JournalBackupType     *uint8
	DescriptorSize        *uint16
	DefaultMountOptions   uint32
	FirstMetaBG           *uint32
	MkfsTime              int64
	JournalBlocks         *[17]uint32
	BlocksCountHi         *uint32
	ReservedBlocksCountHi *uint32
	FreeBlocksCountHi     *uint32
	MinExtraInodeSize     *uint16
	WantExtraInodeSize    *uint16
	Flags                 uint32
	RAIDStride            uint16
	MMPInterval           *uint16
	MMPBlock              *uint64
	RAIDStripeWidth       uint32
	LogGroupsPerFlex      *uint8
	ChecksumType          *uint8
	KBytesWritten         uint64
	SnapshotInode         *uint32
	SnapshotID            *uint32
	SnapshotReserved      *uint64
	SnapshotList          *uint32
	ErrorCount            uint32
	FirstError            *ErrorRecord
	LastError             *ErrorRecord
	MountOptions          string
	UserQuotaInode        *uint32
	GroupQuotaInode       *uint32
	OverheadClusters      uint32
	BackupBlockGroups     *[2]uint32
	EncryptAlgorithms     *[4]uint8
	EncryptSalt           *[16]byte
	LostFoundInode        uint32
	ProjectQuotaInode     *uint32
	ChecksumSeed          *uint32
	Encoding              *uint16
	EncodingFlags         *uint16
	OrphanFileInode       *uint32
	Checksum              *uint32
}

// ptr returns a pointer to a copy of v.
func ptr[T any](v T) *T {
	return &v
}

// joinTime widens a 32-bit on-disk timestamp with its 8 high bits.
func joinTime(lo uint32, hi uint8) int64 {
	return int64(hi)<<32 | int64(lo)
}

// DecodeSuperBlock decodes the SuperBlockSize bytes read from
// SuperBlockOffset. It returns EIO if buf is truncated or the magic does not
// match.
func DecodeSuperBlock(buf []byte) (*SuperBlock, error) {
	if len(buf) < SuperBlockSize {
		log.Warningf("ext fs: superblock truncated to %d bytes", len(buf))
		return nil, linuxerr.EIO
	}
	var raw superBlockRaw
	binary.Unmarshal(buf[:SuperBlockSize], binary.LittleEndian, &raw)
	if raw.Magic != SuperBlockMagic {
		log.Warningf("ext fs: bad superblock magic %#x", raw.Magic)
		return nil, linuxerr.EIO
	}

	sb := &SuperBlock{
		InodesCount:           raw.InodesCount,
		BlocksCountLo:         raw.BlocksCountLo,
		ReservedBlocksCountLo: raw.ReservedBlocksCountLo,
		FreeBlocksCountLo:     raw.FreeBlocksCountLo,
		FreeInodesCount:       raw.FreeInodesCount,
		FirstDataBlock:        raw.FirstDataBlock,
		LogBlockSize:          raw.LogBlockSize,
		LogClusterSize:        raw.LogClusterSize,
		BlocksPerGroup:        raw.BlocksPerGroup,
		ClustersPerGroup:      raw.ClustersPerGroup,
		InodesPerGroup:        raw.InodesPerGroup,
		MountTime:             int64(raw.MountTime),
		WriteTime:             int64(raw.WriteTime),
		MountCount:            raw.MountCount,
		MaxMountCount:         raw.MaxMountCount,
		Magic:                 raw.Magic,
		State:                 raw.State,
		Errors:                raw.Errors,
		MinorRevision:         raw.MinorRevision,
		LastCheck:             int64(raw.LastCheck),
		CheckInterval:         raw.CheckInterval,
		CreatorOS:             CreatorOS(raw.CreatorOS),
		Revision:              raw.Revision,
		DefaultReservedUID:    raw.DefResUID,
		DefaultReservedGID:    raw.DefResGID,
		FirstInode:            OriginalFirstInode,
		InodeSize:             OriginalInodeSize,
	}
	if sb.Revision == RevisionOriginal {
		return sb, nil
	}
	sb.decodeDynamic(&raw)
	return sb, nil
}

// decodeDynamic fills in the dynamic region. Every gate only consults fields
// that precede the gated field on disk.
func (sb *SuperBlock) decodeDynamic(raw *superBlockRaw) {
	sb.FirstInode = raw.FirstInode
	sb.InodeSize = raw.InodeSize
	sb.BlockGroupNumber = raw.BlockGroupNumber
	sb.Compat = CompatFeatures(raw.Compat)
	sb.Incompat = IncompatFeatures(raw.Incompat)
	sb.ROCompat = ROCompatFeatures(raw.ROCompat)
	sb.UUID = uuid.UUID(raw.UUID)
	sb.VolumeName = binary.CString(raw.VolumeName[:])
	sb.LastMounted = binary.CString(raw.LastMounted[:])
	sb.AlgorithmUsageBitmap = raw.AlgorithmUsageBitmap

	if sb.Compat.DirPrealloc() {
		sb.PreallocBlocks = ptr(raw.PreallocBlocks)
		sb.PreallocDirBlocks = ptr(raw.PreallocDirBlocks)
	}
	if sb.Compat.ResizeInode() {
		sb.ReservedGDTBlocks = ptr(raw.ReservedGDTBlocks)
	}
	if sb.Compat.HasJournal() {
		sb.JournalUUID = ptr(uuid.UUID(raw.JournalUUID))
		sb.JournalInode = ptr(raw.JournalInode)
		sb.JournalDevice = ptr(raw.JournalDevice)
	}
	sb.LastOrphan = ptr(raw.LastOrphan)
	if sb.Compat.DirIndex() {
		sb.HashSeed = ptr(raw.HashSeed)
		sb.DefaultHashVersion = ptr(raw.DefHashVersion)
	}
	if sb.Compat.HasJournal() {
		sb.JournalBackupType = ptr(raw.JournalBackupType)
	}
	if sb.Incompat.Is64Bit() {
		sb.DescriptorSize = ptr(raw.DescSize)
	}
	sb.DefaultMountOptions = raw.DefaultMountOpts
	if sb.Incompat.MetaBG() {
		sb.FirstMetaBG = ptr(raw.FirstMetaBG)
	}
	sb.MkfsTime = joinTime(raw.MkfsTime, raw.MkfsTimeHi)
	if sb.Compat.HasJournal() {
		sb.JournalBlocks = ptr(raw.JournalBlocks)
	}
	if sb.Incompat.Is64Bit() {
		sb.BlocksCountHi = ptr(raw.BlocksCountHi)
		sb.ReservedBlocksCountHi = ptr(raw.ReservedBlocksCountHi)
		sb.FreeBlocksCountHi = ptr(raw.FreeBlocksCountHi)
	}
	if sb.ROCompat.Has(ROCompatExtraIsize) {
		sb.MinExtraInodeSize = ptr(raw.MinExtraIsize)
		sb.WantExtraInodeSize = ptr(raw.WantExtraIsize)
	}
	sb.Flags = raw.Flags
	sb.RAIDStride = raw.RAIDStride
	if sb.Incompat.MMP() {
		sb.MMPInterval = ptr(raw.MMPInterval)
		sb.MMPBlock = ptr(raw.MMPBlock)
	}
	sb.RAIDStripeWidth = raw.RAIDStripeWidth
	if sb.Incompat.FlexBG() {
		sb.LogGroupsPerFlex = ptr(raw.LogGroupsPerFlex)
	}
	if sb.ROCompat.MetadataCsum() {
		sb.ChecksumType = ptr(raw.ChecksumType)
	}
	sb.KBytesWritten = raw.KBytesWritten
	if sb.ROCompat.HasSnapshot() {
		sb.SnapshotInode = ptr(raw.SnapshotInode)
		sb.SnapshotID = ptr(raw.SnapshotID)
		sb.SnapshotReserved = ptr(raw.SnapshotReserved)
		sb.SnapshotList = ptr(raw.SnapshotList)
	}
	sb.ErrorCount = raw.ErrorCount
	if sb.ErrorCount > 0 {
		sb.FirstError = &ErrorRecord{
			Time:     joinTime(raw.FirstErrorTime, raw.FirstErrorTimeHi),
			Inode:    raw.FirstErrorInode,
			Block:    raw.FirstErrorBlock,
			Function: binary.CString(raw.FirstErrorFunction[:]),
			Line:     raw.FirstErrorLine,
			Code:     raw.FirstErrorCode,
		}
		sb.LastError = &ErrorRecord{
			Time:     joinTime(raw.LastErrorTime, raw.LastErrorTimeHi),
			Inode:    raw.LastErrorInode,
			Block:    raw.LastErrorBlock,
			Function: binary.CString(raw.LastErrorFunction[:]),
			Line:     raw.LastErrorLine,
			Code:     raw.LastErrorCode,
		}
	}
	sb.MountOptions = binary.CString(raw.MountOptions[:])
	if sb.ROCompat.Quota() {
		sb.UserQuotaInode = ptr(raw.UserQuotaInode)
		sb.GroupQuotaInode = ptr(raw.GroupQuotaInode)
	}
	sb.OverheadClusters = raw.OverheadClusters
	if sb.Compat.Has(CompatSparseSuper2) {
		sb.BackupBlockGroups = ptr(raw.BackupBlockGroups)
	}
	if sb.Incompat.Encrypt() {
		sb.EncryptAlgorithms = ptr(raw.EncryptAlgorithms)
		sb.EncryptSalt = ptr(raw.EncryptSalt)
	}
	sb.LostFoundInode = raw.LostFoundInode
	if sb.ROCompat.Project() {
		sb.ProjectQuotaInode = ptr(raw.ProjectQuotaInode)
	}
	if sb.Incompat.CsumSeed() {
		sb.ChecksumSeed = ptr(raw.ChecksumSeed)
	}
	sb.WriteTime = joinTime(raw.WriteTime, raw.WriteTimeHi)
	sb.MountTime = joinTime(raw.MountTime, raw.MountTimeHi)
	sb.LastCheck = joinTime(raw.LastCheck, raw.LastCheckHi)
	if sb.Incompat.Casefold() {
		sb.Encoding = ptr(raw.Encoding)
		sb.EncodingFlags = ptr(raw.EncodingFlags)
	}
	if sb.Compat.OrphanFile() {
		sb.OrphanFileInode = ptr(raw.OrphanFileInode)
	}
	if sb.ROCompat.MetadataCsum() {
		sb.Checksum = ptr(raw.Checksum)
	}
}

// BlockSize returns the size of a filesystem block in bytes.
func (sb *SuperBlock) BlockSize() uint64 {
	return 1 << (10 + sb.LogBlockSize)
}

// ClusterSize returns the allocation cluster size in bytes. It equals the
// block size unless the bigalloc feature is enabled.
func (sb *SuperBlock) ClusterSize() uint64 {
	if !sb.ROCompat.Has(ROCompatBigalloc) {
		return sb.BlockSize()
	}
	return 1 << (10 + sb.LogClusterSize)
}

// BlocksCount returns the total number of blocks on the volume.
func (sb *SuperBlock) BlocksCount() uint64 {
	if sb.BlocksCountHi == nil {
		return uint64(sb.BlocksCountLo)
	}
	return binary.Join64(sb.BlocksCountLo, *sb.BlocksCountHi)
}

// FreeBlocksCount returns the number of free blocks.
func (sb *SuperBlock) FreeBlocksCount() uint64 {
	if sb.FreeBlocksCountHi == nil {
		return uint64(sb.FreeBlocksCountLo)
	}
	return binary.Join64(sb.FreeBlocksCountLo, *sb.FreeBlocksCountHi)
}

// ReservedBlocksCount returns the number of blocks reserved for the
// superuser.
func (sb *SuperBlock) ReservedBlocksCount() uint64 {
	if sb.ReservedBlocksCountHi == nil {
		return uint64(sb.ReservedBlocksCountLo)
	}
	return binary.Join64(sb.ReservedBlocksCountLo, *sb.ReservedBlocksCountHi)
}

// BlockGroupCount returns the number of block groups, rounding up for a
// partial last group. Blocks before FirstDataBlock belong to no group, so
// they are left out of the count as Linux does; a plain
// ceil(blocks/blocksPerGroup) overcounts 1K-block volumes by one group.
func (sb *SuperBlock) BlockGroupCount() uint64 {
	if sb.BlocksPerGroup == 0 {
		return 0
	}
	blocks := sb.BlocksCount() - uint64(sb.FirstDataBlock)
	return (blocks + uint64(sb.BlocksPerGroup) - 1) / uint64(sb.BlocksPerGroup)
}

// BlockGroupDescriptorSize returns the size in bytes of one entry of the
// block group descriptor table.
func (sb *SuperBlock) BlockGroupDescriptorSize() int {
	if !sb.Incompat.Is64Bit() {
		return BlockGroupDescriptorSize32
	}
	if sb.DescriptorSize == nil || *sb.DescriptorSize < BlockGroupDescriptorSize64 {
		return BlockGroupDescriptorSize64
	}
	return int(*sb.DescriptorSize)
}

// BlockGroupTableOffset returns the byte offset of the block group
// descriptor table: the first block boundary after the superblock.
func (sb *SuperBlock) BlockGroupTableOffset() uint64 {
	bs := sb.BlockSize()
	end := uint64(SuperBlockOffset + SuperBlockSize)
	return (end + bs - 1) / bs * bs
}

// superBlockMagicOffset is the offset of the magic within the superblock.
const superBlockMagicOffset = 0x38

// HasSuperBlockMagic returns true if buf, read from SuperBlockOffset,
// carries the ext superblock magic. It decodes nothing else.
func HasSuperBlockMagic(buf []byte) bool {
	return len(buf) >= superBlockMagicOffset+2 &&
		binary.LittleEndian.Uint16(buf[superBlockMagicOffset:]) == SuperBlockMagic
}

// GroupFirstBlock returns the first block of block group g.
func (sb *SuperBlock) GroupFirstBlock(g uint64) uint64 {
	return uint64(sb.FirstDataBlock) + g*uint64(sb.BlocksPerGroup)
}

// HasSuperBlockBackup returns true if block group g starts with a copy of
// the superblock and, outside meta_bg, the descriptor table.
func (sb *SuperBlock) HasSuperBlockBackup(g uint64) bool {
	if g == 0 {
		return true
	}
	if sb.BackupBlockGroups != nil {
		return g == uint64(sb.BackupBlockGroups[0]) || g == uint64(sb.BackupBlockGroups[1])
	}
	if g == 1 || !sb.ROCompat.Has(ROCompatSparseSuper) {
		return true
	}
	if g%2 == 0 {
		return false
	}
	return isPowerOf(g, 3) || isPowerOf(g, 5) || isPowerOf(g, 7)
}

func isPowerOf(n, base uint64) bool {
	for n%base == 0 {
		n /= base
	}
	return n == 1
}
