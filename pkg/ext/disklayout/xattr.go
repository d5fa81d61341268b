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

	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/log"
)

const (
	// XattrMagic starts an xattr block and the in-inode xattr region.
	XattrMagic = 0xEA020000

	// XattrHeaderSize is the size of the xattr block header.
	XattrHeaderSize = 32

	// XattrEntryHeaderSize is the size of an entry before its name.
	XattrEntryHeaderSize = 16

	// xattrRound is the alignment of entries and values.
	xattrRound = 4
)

// XattrNameIndex selects the namespace prefix of an xattr name.
type XattrNameIndex uint8

// Name indexes, as defined in fs/ext4/xattr.h.
const (
	XattrIndexNone            XattrNameIndex = 0
	XattrIndexUser            XattrNameIndex = 1
	XattrIndexPosixACLAccess  XattrNameIndex = 2
	XattrIndexPosixACLDefault XattrNameIndex = 3
	XattrIndexTrusted         XattrNameIndex = 4
	XattrIndexLustre          XattrNameIndex = 5
	XattrIndexSecurity        XattrNameIndex = 6
	XattrIndexSystem          XattrNameIndex = 7
	XattrIndexRichACL         XattrNameIndex = 8
	XattrIndexEncryption      XattrNameIndex = 9
)

var xattrPrefixes = [...]string{
	XattrIndexNone:            "",
	XattrIndexUser:            linux.XATTR_USER_PREFIX,
	XattrIndexPosixACLAccess:  linux.XATTR_NAME_POSIX_ACL_ACCESS,
	XattrIndexPosixACLDefault: linux.XATTR_NAME_POSIX_ACL_DEFAULT,
	XattrIndexTrusted:         linux.XATTR_TRUSTED_PREFIX,
	XattrIndexLustre:          "lustre.",
	XattrIndexSecurity:        linux.XATTR_SECURITY_PREFIX,
	XattrIndexSystem:          linux.XATTR_SYSTEM_PREFIX,
	XattrIndexRichACL:         "system.richacl",
	XattrIndexEncryption:      "encryption.",
}

// Prefix returns the string prepended to stored names with index x. The two
// POSIX ACL indexes and the rich ACL index map to complete names.
func (x XattrNameIndex) Prefix() (string, bool) {
	if int(x) >= len(xattrPrefixes) {
		return "", false
	}
	return xattrPrefixes[x], true
}

// XattrHeader is the header of an xattr block.
type XattrHeader struct {
	Magic    uint32
	RefCount uint32
	Blocks   uint32
	Hash     uint32
	Checksum uint32
}

// xattrHeaderRaw mirrors struct ext4_xattr_header.
type xattrHeaderRaw struct {
	XattrHeader
	_ [3]uint32
}

// XattrEntry describes one attribute.
type XattrEntry struct {
	NameLength  uint8
	NameIndex   XattrNameIndex
	ValueOffset uint16

	// ValueInode is the inode holding the value, or 0 if the value is stored
	// in the value region.
	ValueInode uint32
	ValueSize  uint32
	Hash       uint32

	// Name is the stored name without its prefix.
	Name string
}

// xattrEntryRaw mirrors struct ext4_xattr_entry without the name.
type xattrEntryRaw struct {
	NameLength  uint8
	NameIndex   uint8
	ValueOffset uint16
	ValueInode  uint32
	ValueSize   uint32
	Hash        uint32
}

// FullName returns the prefixed name. It returns false for unknown indexes.
func (e *XattrEntry) FullName() (string, bool) {
	p, ok := e.NameIndex.Prefix()
	if !ok {
		return "", false
	}
	return p + e.Name, true
}

// XattrSet is a decoded entry table together with the values that follow it.
type XattrSet struct {
	// Header is nil for the in-inode form.
	Header *XattrHeader

	Entries []XattrEntry

	// TableEnd is the offset, relative to the base that value offsets are
	// measured from, of the first byte after the entry table.
	TableEnd int

	// Values holds the bytes from TableEnd to the end of the region.
	Values []byte
}

// Value returns the bytes of an attribute stored in the value region. It
// returns EIO if the entry points outside the region and EINVAL if the value
// lives in a separate inode.
func (s *XattrSet) Value(e *XattrEntry) ([]byte, error) {
	if e.ValueInode != 0 {
		return nil, linuxerr.EINVAL
	}
	off := int(e.ValueOffset) - s.TableEnd
	if off < 0 {
		log.Warningf("ext fs: xattr value offset %d precedes entry table end %d", e.ValueOffset, s.TableEnd)
		return nil, linuxerr.EIO
	}
	end := off + int(e.ValueSize)
	if end > len(s.Values) {
		log.Warningf("ext fs: xattr value [%d, %d) exceeds value region of %d bytes", off, end, len(s.Values))
		return nil, linuxerr.EIO
	}
	return s.Values[off:end], nil
}

// Lookup returns the entry with the given full name.
func (s *XattrSet) Lookup(name string) (*XattrEntry, bool) {
	for i := range s.Entries {
		if n, ok := s.Entries[i].FullName(); ok && n == name {
			return &s.Entries[i], true
		}
	}
	return nil, false
}

// decodeXattrEntries decodes the entry table of base starting at start. The
// table ends at an entry whose first four bytes are zero or at the end of
// base.
func decodeXattrEntries(base []byte, start int) (*XattrSet, error) {
	s := &XattrSet{}
	pos := start
	for {
		if pos+4 > len(base) {
			s.TableEnd = pos
			break
		}
		if binary.LittleEndian.Uint32(base[pos:]) == 0 {
			s.TableEnd = pos + 4
			break
		}
		if pos+XattrEntryHeaderSize > len(base) {
			log.Warningf("ext fs: xattr entry at %d truncated", pos)
			return nil, linuxerr.EIO
		}
		var raw xattrEntryRaw
		binary.Unmarshal(base[pos:pos+XattrEntryHeaderSize], binary.LittleEndian, &raw)
		nameEnd := pos + XattrEntryHeaderSize + int(raw.NameLength)
		if nameEnd > len(base) {
			log.Warningf("ext fs: xattr name at %d truncated", pos)
			return nil, linuxerr.EIO
		}
		s.Entries = append(s.Entries, XattrEntry{
			NameLength:  raw.NameLength,
			NameIndex:   XattrNameIndex(raw.NameIndex),
			ValueOffset: raw.ValueOffset,
			ValueInode:  raw.ValueInode,
			ValueSize:   raw.ValueSize,
			Hash:        raw.Hash,
			Name:        string(base[pos+XattrEntryHeaderSize : nameEnd]),
		})
		pos = (nameEnd + xattrRound - 1) &^ (xattrRound - 1)
	}
	s.Values = base[s.TableEnd:]
	return s, nil
}

// DecodeInodeXattrs decodes the in-inode attribute region. buf starts just
// after the XattrMagic and extends to the end of the inode record; value
// offsets are relative to the start of buf.
func DecodeInodeXattrs(buf []byte) (*XattrSet, error) {
	return decodeXattrEntries(buf, 0)
}

// DecodeXattrHeader decodes the header at the start of an xattr block.
func DecodeXattrHeader(buf []byte) (*XattrHeader, error) {
	if len(buf) < XattrHeaderSize {
		log.Warningf("ext fs: xattr block truncated to %d bytes", len(buf))
		return nil, linuxerr.EIO
	}
	var raw xattrHeaderRaw
	binary.Unmarshal(buf[:XattrHeaderSize], binary.LittleEndian, &raw)
	if raw.Magic != XattrMagic {
		log.Warningf("ext fs: bad xattr block magic %#x", raw.Magic)
		return nil, linuxerr.EIO
	}
	return &raw.XattrHeader, nil
}

// DecodeXattrBlock decodes an xattr block. buf holds all h.Blocks blocks of
// the attribute set, concatenated; value offsets are relative to its start.
func DecodeXattrBlock(buf []byte) (*XattrSet, error) {
	h, err := DecodeXattrHeader(buf)
	if err != nil {
		return nil, err
	}
	s, err := decodeXattrEntries(buf, XattrHeaderSize)
	if err != nil {
		return nil, err
	}
	s.Header = h
	return s, nil
}

// String implements fmt.Stringer.
func (x XattrNameIndex) String() string {
	if p, ok := x.Prefix(); ok {
		return fmt.Sprintf("%d(%q)", uint8(x), p)
	}
	return fmt.Sprintf("%d(unknown)", uint8(x))
}
