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
	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/log"
)

const (
	// OldInodeSize is the inode size in ext2/ext3 and the size of the fixed
	// inode region in ext4.
	OldInodeSize = 128

	// inodeExtraMaxSize is the size of the largest extra region understood.
	inodeExtraMaxSize = 32

	// InodeDataSize is the size of the inline block map / extent root region.
	InodeDataSize = 60
)

// InodeFlags is the inode flag set (i_flags).
type InodeFlags uint32

// Inode flag bits, as defined in fs/ext4/ext4.h.
const (
	InodeSecureRM     InodeFlags = 0x1
	InodeUnRM         InodeFlags = 0x2
	InodeCompress     InodeFlags = 0x4
	InodeSync         InodeFlags = 0x8
	InodeImmutable    InodeFlags = 0x10
	InodeAppend       InodeFlags = 0x20
	InodeNoDump       InodeFlags = 0x40
	InodeNoAtime      InodeFlags = 0x80
	InodeEncrypt      InodeFlags = 0x800
	InodeIndex        InodeFlags = 0x1000
	InodeJournalData  InodeFlags = 0x4000
	InodeDirSync      InodeFlags = 0x10000
	InodeTopDir       InodeFlags = 0x20000
	InodeHugeFile     InodeFlags = 0x40000
	InodeExtents      InodeFlags = 0x80000
	InodeVerity       InodeFlags = 0x100000
	InodeEAInode      InodeFlags = 0x200000
	InodeInlineData   InodeFlags = 0x10000000
	InodeProjInherit  InodeFlags = 0x20000000
	InodeCasefold     InodeFlags = 0x40000000
	InodeUserVisible  InodeFlags = 0x705BDFFF
	InodeUserSettable InodeFlags = 0x604BC0FF
)

// Has returns true if every bit of f is set.
func (i InodeFlags) Has(f InodeFlags) bool { return i&f == f }

// Extents returns true if the inode uses an extent tree.
func (i InodeFlags) Extents() bool { return i.Has(InodeExtents) }

// Index returns true if the directory is hash indexed.
func (i InodeFlags) Index() bool { return i.Has(InodeIndex) }

// HugeFile returns true if the block count is in filesystem blocks.
func (i InodeFlags) HugeFile() bool { return i.Has(InodeHugeFile) }

// InlineData returns true if the content is stored inside the inode.
func (i InodeFlags) InlineData() bool { return i.Has(InodeInlineData) }

// EAInode returns true if the inode holds a large xattr value.
func (i InodeFlags) EAInode() bool { return i.Has(InodeEAInode) }

// FileType is the type of a filesystem object. The values match the file
// type byte stored in directory entries.
type FileType uint8

// File types.
const (
	FileTypeUnknown FileType = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeCharDevice
	FileTypeBlockDevice
	FileTypeFIFO
	FileTypeSocket
	FileTypeSymlink
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeCharDevice:
		return "char device"
	case FileTypeBlockDevice:
		return "block device"
	case FileTypeFIFO:
		return "fifo"
	case FileTypeSocket:
		return "socket"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Mode returns the mode file type bits for t.
func (t FileType) Mode() linux.FileMode {
	switch t {
	case FileTypeRegular:
		return linux.ModeRegular
	case FileTypeDirectory:
		return linux.ModeDirectory
	case FileTypeCharDevice:
		return linux.ModeCharacterDevice
	case FileTypeBlockDevice:
		return linux.ModeBlockDevice
	case FileTypeFIFO:
		return linux.ModeNamedPipe
	case FileTypeSocket:
		return linux.ModeSocket
	case FileTypeSymlink:
		return linux.ModeSymlink
	default:
		return 0
	}
}

// fileTypeOrder lists the mode type markers by descending value. The markers
// share bits, so the first one fully present in a mode wins.
var fileTypeOrder = []struct {
	marker linux.FileMode
	ft     FileType
}{
	{linux.ModeSocket, FileTypeSocket},
	{linux.ModeSymlink, FileTypeSymlink},
	{linux.ModeRegular, FileTypeRegular},
	{linux.ModeBlockDevice, FileTypeBlockDevice},
	{linux.ModeDirectory, FileTypeDirectory},
	{linux.ModeCharacterDevice, FileTypeCharDevice},
	{linux.ModeNamedPipe, FileTypeFIFO},
}

// FileTypeFromMode derives the file type from the high bits of mode.
func FileTypeFromMode(mode linux.FileMode) FileType {
	for _, o := range fileTypeOrder {
		if mode&o.marker == o.marker {
			return o.ft
		}
	}
	return FileTypeUnknown
}

// Timestamp is a decoded inode timestamp.
type Timestamp struct {
	Sec  int64
	Nsec uint32
}

// decodeTimestamp combines the 32-bit seconds field with its extra field:
// the low two bits of extra extend the seconds, the rest are nanoseconds.
func decodeTimestamp(sec uint32, extra *uint32) Timestamp {
	// Seconds are signed, as in the kernel, so pre-1970 times decode.
	t := Timestamp{Sec: int64(int32(sec))}
	if extra != nil {
		t.Sec += int64(*extra&0x3) << 32
		t.Nsec = *extra >> 2
	}
	return t
}

// inodeRaw mirrors the fixed 128 bytes of struct ext4_inode.
type inodeRaw struct {
	Mode         uint16
	UIDLo        uint16
	SizeLo       uint32
	AccessTime   uint32
	ChangeTime   uint32
	ModifyTime   uint32
	DeletionTime uint32
	GIDLo        uint16
	LinksCount   uint16
	BlocksLo     uint32
	Flags        uint32
	OSD1         uint32
	Data         [InodeDataSize]byte
	Generation   uint32
	FileACLLo    uint32
	SizeHi       uint32
	FragmentAddr uint32
	OSD2         [12]byte
}

// inodeExtraRaw mirrors the extra inode region starting at byte 128.
type inodeExtraRaw struct {
	ExtraSize         uint16
	ChecksumHi        uint16
	ChangeTimeExtra   uint32
	ModifyTimeExtra   uint32
	AccessTimeExtra   uint32
	CreationTime      uint32
	CreationTimeExtra uint32
	VersionHi         uint32
	ProjectID         uint32
}

type osdLinux struct {
	BlocksHi   uint16
	FileACLHi  uint16
	UIDHi      uint16
	GIDHi      uint16
	ChecksumLo uint16
	_          uint16
}

type osdHurd struct {
	_      uint16
	ModeHi uint16
	UIDHi  uint16
	GIDHi  uint16
	Author uint32
}

type osdMasix struct {
	_         uint16
	FileACLHi uint16
	_         [2]uint32
}

// OSDependent is the normalized form of the 12-byte creator OS dependent
// union. Fields the creator OS does not define are nil.
type OSDependent struct {
	OS         CreatorOS
	BlocksHi   *uint16
	FileACLHi  *uint16
	UIDHi      *uint16
	GIDHi      *uint16
	ChecksumLo *uint16
	ModeHi     *uint16
	Author     *uint32
}

// decodeOSD interprets the union for os. It returns nil for creator OSes
// without a defined layout.
func decodeOSD(buf []byte, os CreatorOS) *OSDependent {
	switch os {
	case OSLinux:
		var l osdLinux
		binary.Unmarshal(buf, binary.LittleEndian, &l)
		return &OSDependent{
			OS:         os,
			BlocksHi:   ptr(l.BlocksHi),
			FileACLHi:  ptr(l.FileACLHi),
			UIDHi:      ptr(l.UIDHi),
			GIDHi:      ptr(l.GIDHi),
			ChecksumLo: ptr(l.ChecksumLo),
		}
	case OSHurd:
		var h osdHurd
		binary.Unmarshal(buf, binary.LittleEndian, &h)
		return &OSDependent{
			OS:     os,
			ModeHi: ptr(h.ModeHi),
			UIDHi:  ptr(h.UIDHi),
			GIDHi:  ptr(h.GIDHi),
			Author: ptr(h.Author),
		}
	case OSMasix:
		var m osdMasix
		binary.Unmarshal(buf, binary.LittleEndian, &m)
		return &OSDependent{
			OS:        os,
			FileACLHi: ptr(m.FileACLHi),
		}
	default:
		return nil
	}
}

// Inode is a decoded inode record. Fields of the extra region are nil when
// the record's extra size does not cover them.
type Inode struct {
	Mode         linux.FileMode
	UIDLo        uint16
	SizeLo       uint32
	AccessTime   Timestamp
	ChangeTime   Timestamp
	ModifyTime   Timestamp
	DeletionTime uint32
	GIDLo        uint16
	LinksCount   uint16
	BlocksLo     uint32
	Flags        InodeFlags
	VersionLo    uint32
	Data         [InodeDataSize]byte
	Generation   uint32
	FileACLLo    uint32
	SizeHi       uint32
	FragmentAddr uint32
	OSD          *OSDependent

	ExtraSize    uint16
	ChecksumHi   *uint16
	CreationTime *Timestamp
	VersionHi    *uint32
	ProjectID    *uint32

	// Xattrs holds the attributes stored after the extra region, or nil if
	// there are none.
	Xattrs *XattrSet
}

// DecodeInode decodes one inode record of the volume's inode size. os is the
// creator OS from the superblock.
func DecodeInode(buf []byte, os CreatorOS) (*Inode, error) {
	if len(buf) < OldInodeSize {
		log.Warningf("ext fs: inode record truncated to %d bytes", len(buf))
		return nil, linuxerr.EIO
	}
	var raw inodeRaw
	binary.Unmarshal(buf[:OldInodeSize], binary.LittleEndian, &raw)
	in := &Inode{
		Mode:         linux.FileMode(raw.Mode),
		UIDLo:        raw.UIDLo,
		SizeLo:       raw.SizeLo,
		DeletionTime: raw.DeletionTime,
		GIDLo:        raw.GIDLo,
		LinksCount:   raw.LinksCount,
		BlocksLo:     raw.BlocksLo,
		Flags:        InodeFlags(raw.Flags),
		VersionLo:    raw.OSD1,
		Data:         raw.Data,
		Generation:   raw.Generation,
		FileACLLo:    raw.FileACLLo,
		SizeHi:       raw.SizeHi,
		FragmentAddr: raw.FragmentAddr,
		OSD:          decodeOSD(raw.OSD2[:], os),
	}

	var extra inodeExtraRaw
	fields := 0
	if len(buf) > OldInodeSize {
		if len(buf) < OldInodeSize+2 {
			log.Warningf("ext fs: inode extra region truncated")
			return nil, linuxerr.EIO
		}
		in.ExtraSize = binary.LittleEndian.Uint16(buf[OldInodeSize:])
		if OldInodeSize+int(in.ExtraSize) > len(buf) {
			log.Warningf("ext fs: inode extra size %d exceeds record size %d", in.ExtraSize, len(buf))
			return nil, linuxerr.EIO
		}
		var padded [inodeExtraMaxSize]byte
		fields = copy(padded[:], buf[OldInodeSize:OldInodeSize+int(in.ExtraSize)])
		binary.Unmarshal(padded[:], binary.LittleEndian, &extra)
	}

	// Each extra field is present only if the extra size reaches its end.
	var ctimeExtra, mtimeExtra, atimeExtra *uint32
	if fields >= 4 {
		in.ChecksumHi = ptr(extra.ChecksumHi)
	}
	if fields >= 8 {
		ctimeExtra = ptr(extra.ChangeTimeExtra)
	}
	if fields >= 12 {
		mtimeExtra = ptr(extra.ModifyTimeExtra)
	}
	if fields >= 16 {
		atimeExtra = ptr(extra.AccessTimeExtra)
	}
	if fields >= 20 {
		var crtimeExtra *uint32
		if fields >= 24 {
			crtimeExtra = ptr(extra.CreationTimeExtra)
		}
		in.CreationTime = ptr(decodeTimestamp(extra.CreationTime, crtimeExtra))
	}
	if fields >= 28 {
		in.VersionHi = ptr(extra.VersionHi)
	}
	if fields >= 32 {
		in.ProjectID = ptr(extra.ProjectID)
	}
	in.ChangeTime = decodeTimestamp(raw.ChangeTime, ctimeExtra)
	in.ModifyTime = decodeTimestamp(raw.ModifyTime, mtimeExtra)
	in.AccessTime = decodeTimestamp(raw.AccessTime, atimeExtra)

	if rest := buf[OldInodeSize+int(in.ExtraSize):]; len(rest) >= 4 && binary.LittleEndian.Uint32(rest) == XattrMagic {
		set, err := DecodeInodeXattrs(rest[4:])
		if err != nil {
			return nil, err
		}
		in.Xattrs = set
	}
	return in, nil
}

// FileType returns the type of the object.
func (in *Inode) FileType() FileType {
	return FileTypeFromMode(in.Mode)
}

// Permissions returns the permission and set-id bits of the mode.
func (in *Inode) Permissions() linux.FileMode {
	return in.Mode &^ linux.FileTypeMask
}

// UID returns the owner, including the upper half from the OS union.
func (in *Inode) UID() uint32 {
	if in.OSD == nil {
		return uint32(in.UIDLo)
	}
	return join32(in.UIDLo, in.OSD.UIDHi)
}

// GID returns the group, including the upper half from the OS union.
func (in *Inode) GID() uint32 {
	if in.OSD == nil {
		return uint32(in.GIDLo)
	}
	return join32(in.GIDLo, in.OSD.GIDHi)
}

// Size returns the size of the object in bytes.
func (in *Inode) Size() uint64 {
	return binary.Join64(in.SizeLo, in.SizeHi)
}

// FileACL returns the block number of the xattr block, or 0.
func (in *Inode) FileACL() uint64 {
	if in.OSD == nil || in.OSD.FileACLHi == nil {
		return uint64(in.FileACLLo)
	}
	return binary.Join48(in.FileACLLo, *in.OSD.FileACLHi)
}

// Checksum returns the inode checksum.
func (in *Inode) Checksum() uint32 {
	var lo uint16
	if in.OSD != nil && in.OSD.ChecksumLo != nil {
		lo = *in.OSD.ChecksumLo
	}
	if in.ChecksumHi == nil {
		return uint32(lo)
	}
	return binary.Join32(lo, *in.ChecksumHi)
}

// Version returns the inode version.
func (in *Inode) Version() uint64 {
	if in.VersionHi == nil {
		return uint64(in.VersionLo)
	}
	return binary.Join64(in.VersionLo, *in.VersionHi)
}

// AllocatedBytes returns the storage charged to the inode. hugeFile reports
// whether the volume has the huge_file feature, which widens the count and
// lets the inode count in filesystem blocks instead of sectors.
func (in *Inode) AllocatedBytes(hugeFile bool, blockSize uint64) uint64 {
	blocks := uint64(in.BlocksLo)
	if !hugeFile {
		return blocks * 512
	}
	if in.OSD != nil && in.OSD.BlocksHi != nil {
		blocks |= uint64(*in.OSD.BlocksHi) << 32
	}
	if in.Flags.HugeFile() {
		return blocks * blockSize
	}
	return blocks * 512
}

// InodeLocation returns the block group holding inode ino and the byte
// offset of its record within that group's inode table. ino must be at
// least 1.
func InodeLocation(sb *SuperBlock, ino uint32) (group uint64, offset uint64) {
	index := uint64(ino-1) % uint64(sb.InodesPerGroup)
	return uint64(ino-1) / uint64(sb.InodesPerGroup), index * uint64(sb.InodeSize)
}
