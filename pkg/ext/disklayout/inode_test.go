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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
)

// encodeInode builds an inode record of size bytes: raw, then extra
// truncated to extra.ExtraSize bytes, then zero padding.
func encodeInode(raw inodeRaw, extra inodeExtraRaw, size int) []byte {
	buf := binary.Marshal(nil, binary.LittleEndian, &raw)
	if size > OldInodeSize {
		e := binary.Marshal(nil, binary.LittleEndian, &extra)
		buf = append(buf, e[:extra.ExtraSize]...)
	}
	for len(buf) < size {
		buf = append(buf, 0)
	}
	return buf
}

func linuxOSD(o osdLinux) [12]byte {
	var out [12]byte
	copy(out[:], binary.Marshal(nil, binary.LittleEndian, &o))
	return out
}

func TestFileTypeFromMode(t *testing.T) {
	for _, tc := range []struct {
		mode linux.FileMode
		want FileType
	}{
		{linux.ModeSocket | 0755, FileTypeSocket},
		{linux.ModeSymlink | 0777, FileTypeSymlink},
		{linux.ModeRegular | 0644, FileTypeRegular},
		{linux.ModeBlockDevice, FileTypeBlockDevice},
		{linux.ModeDirectory | 0755, FileTypeDirectory},
		{linux.ModeCharacterDevice, FileTypeCharDevice},
		{linux.ModeNamedPipe, FileTypeFIFO},
		{0644, FileTypeUnknown},
		// Overlapping markers resolve to the highest valued type.
		{linux.ModeSymlink | linux.ModeNamedPipe, FileTypeSymlink},
		{linux.ModeRegular | linux.ModeDirectory, FileTypeSocket},
		{linux.ModeDirectory | linux.ModeNamedPipe, FileTypeDirectory},
	} {
		if got := FileTypeFromMode(tc.mode); got != tc.want {
			t.Errorf("FileTypeFromMode(%#o): got %v, want %v", uint(tc.mode), got, tc.want)
		}
	}
}

func TestDecodeInodeLinux(t *testing.T) {
	raw := inodeRaw{
		Mode:         uint16(linux.ModeRegular | 0640),
		UIDLo:        1000,
		SizeLo:       0x1000,
		AccessTime:   0xffffffff, // -1, one second before the epoch.
		ChangeTime:   100,
		ModifyTime:   200,
		DeletionTime: 0xfffffffe,
		GIDLo:        100,
		LinksCount:   1,
		BlocksLo:     8,
		Flags:        uint32(InodeExtents | InodeHugeFile),
		OSD1:         7,
		Generation:   42,
		FileACLLo:    0x1234,
		SizeHi:       1,
		OSD2: linuxOSD(osdLinux{
			BlocksHi:   1,
			FileACLHi:  2,
			UIDHi:      3,
			GIDHi:      4,
			ChecksumLo: 0xbeef,
		}),
	}
	in, err := DecodeInode(encodeInode(raw, inodeExtraRaw{}, OldInodeSize), OSLinux)
	if err != nil {
		t.Fatalf("DecodeInode failed: %v", err)
	}
	if got := in.FileType(); got != FileTypeRegular {
		t.Errorf("FileType: got %v, want regular", got)
	}
	if got, want := in.Permissions(), linux.FileMode(0640); got != want {
		t.Errorf("Permissions: got %v, want %v", got, want)
	}
	if got, want := in.UID(), uint32(3<<16|1000); got != want {
		t.Errorf("UID: got %d, want %d", got, want)
	}
	if got, want := in.GID(), uint32(4<<16|100); got != want {
		t.Errorf("GID: got %d, want %d", got, want)
	}
	if got, want := in.Size(), uint64(1<<32|0x1000); got != want {
		t.Errorf("Size: got %d, want %d", got, want)
	}
	if got, want := in.FileACL(), uint64(2<<32|0x1234); got != want {
		t.Errorf("FileACL: got %#x, want %#x", got, want)
	}
	if got, want := in.Checksum(), uint32(0xbeef); got != want {
		t.Errorf("Checksum: got %#x, want %#x", got, want)
	}
	if got, want := in.Version(), uint64(7); got != want {
		t.Errorf("Version: got %d, want %d", got, want)
	}
	if got, want := in.AccessTime, (Timestamp{Sec: -1}); got != want {
		t.Errorf("AccessTime: got %+v, want %+v", got, want)
	}
	// The deletion time keeps its on-disk width.
	if got, want := in.DeletionTime, uint32(0xfffffffe); got != want {
		t.Errorf("DeletionTime: got %d, want %d", got, want)
	}
	if got, want := in.AllocatedBytes(true, 4096), uint64(1<<32|8)*4096; got != want {
		t.Errorf("AllocatedBytes(huge): got %d, want %d", got, want)
	}
	if got, want := in.AllocatedBytes(false, 4096), uint64(8*512); got != want {
		t.Errorf("AllocatedBytes: got %d, want %d", got, want)
	}
	if in.ExtraSize != 0 || in.ChecksumHi != nil || in.CreationTime != nil || in.Xattrs != nil {
		t.Errorf("extra fields decoded from a 128 byte inode: %+v", in)
	}
}

func TestDecodeTimestamp(t *testing.T) {
	u32 := func(v uint32) *uint32 { return &v }
	for _, tc := range []struct {
		name  string
		sec   uint32
		extra *uint32
		want  Timestamp
	}{
		{"no extra", 1000, nil, Timestamp{Sec: 1000}},
		{"pre-1970", 0xffffffff, nil, Timestamp{Sec: -1}},
		{"most negative", 0x80000000, nil, Timestamp{Sec: -1 << 31}},
		{"epoch bit lifts negative", 0x80000000, u32(1), Timestamp{Sec: 1 << 31}},
		{"epoch bits and nanoseconds", 5, u32(999999999<<2 | 2), Timestamp{Sec: 2<<32 + 5, Nsec: 999999999}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodeTimestamp(tc.sec, tc.extra); got != tc.want {
				t.Errorf("decodeTimestamp(%#x) = %+v, want %+v", tc.sec, got, tc.want)
			}
		})
	}
}

func TestDecodeInodeOSUnion(t *testing.T) {
	var osd2 [12]byte
	copy(osd2[:], binary.Marshal(nil, binary.LittleEndian, &osdHurd{ModeHi: 1, UIDHi: 2, GIDHi: 3, Author: 4}))
	raw := inodeRaw{UIDLo: 10, GIDLo: 20, FileACLLo: 5, OSD2: osd2}
	buf := encodeInode(raw, inodeExtraRaw{}, OldInodeSize)

	hurd, err := DecodeInode(buf, OSHurd)
	if err != nil {
		t.Fatalf("DecodeInode(Hurd) failed: %v", err)
	}
	wantHurd := &OSDependent{OS: OSHurd, ModeHi: ptr(uint16(1)), UIDHi: ptr(uint16(2)), GIDHi: ptr(uint16(3)), Author: ptr(uint32(4))}
	if diff := cmp.Diff(wantHurd, hurd.OSD); diff != "" {
		t.Errorf("Hurd union mismatch (-want +got):\n%s", diff)
	}
	if got, want := hurd.UID(), uint32(2<<16|10); got != want {
		t.Errorf("Hurd UID: got %d, want %d", got, want)
	}
	if got, want := hurd.FileACL(), uint64(5); got != want {
		t.Errorf("Hurd FileACL: got %d, want %d", got, want)
	}

	copy(osd2[:], binary.Marshal(nil, binary.LittleEndian, &osdMasix{FileACLHi: 9}))
	raw.OSD2 = osd2
	masix, err := DecodeInode(encodeInode(raw, inodeExtraRaw{}, OldInodeSize), OSMasix)
	if err != nil {
		t.Fatalf("DecodeInode(Masix) failed: %v", err)
	}
	if diff := cmp.Diff(&OSDependent{OS: OSMasix, FileACLHi: ptr(uint16(9))}, masix.OSD); diff != "" {
		t.Errorf("Masix union mismatch (-want +got):\n%s", diff)
	}
	if got, want := masix.UID(), uint32(10); got != want {
		t.Errorf("Masix UID: got %d, want %d", got, want)
	}

	// Creator OSes without a union layout still decode.
	for _, os := range []CreatorOS{OSFreeBSD, OSLites, 77} {
		in, err := DecodeInode(buf, os)
		if err != nil {
			t.Fatalf("DecodeInode(%v) failed: %v", os, err)
		}
		if in.OSD != nil {
			t.Errorf("DecodeInode(%v): got union %+v, want nil", os, in.OSD)
		}
		if got, want := in.GID(), uint32(20); got != want {
			t.Errorf("DecodeInode(%v) GID: got %d, want %d", os, got, want)
		}
	}
}

func TestDecodeInodeExtraThresholds(t *testing.T) {
	extra := inodeExtraRaw{
		ChecksumHi:        0xaaaa,
		ChangeTimeExtra:   1<<2 | 1,
		ModifyTimeExtra:   2 << 2,
		AccessTimeExtra:   3 << 2,
		CreationTime:      50,
		CreationTimeExtra: 4<<2 | 2,
		VersionHi:         6,
		ProjectID:         7,
	}
	type fields struct {
		ChecksumHi             *uint16
		CtimeNsec, MtimeNsec   uint32
		AtimeNsec              uint32
		CreationTime           *Timestamp
		VersionHi, ProjectID   *uint32
	}
	crtimeNoExtra := &Timestamp{Sec: 50}
	crtime := &Timestamp{Sec: 50 + 2<<32, Nsec: 4}
	for _, tc := range []struct {
		extraSize uint16
		want      fields
	}{
		{0, fields{}},
		{2, fields{}},
		{4, fields{ChecksumHi: ptr(uint16(0xaaaa))}},
		{8, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1}},
		{12, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1, MtimeNsec: 2}},
		{16, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1, MtimeNsec: 2, AtimeNsec: 3}},
		{20, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1, MtimeNsec: 2, AtimeNsec: 3, CreationTime: crtimeNoExtra}},
		{24, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1, MtimeNsec: 2, AtimeNsec: 3, CreationTime: crtime}},
		{28, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1, MtimeNsec: 2, AtimeNsec: 3, CreationTime: crtime, VersionHi: ptr(uint32(6))}},
		{32, fields{ChecksumHi: ptr(uint16(0xaaaa)), CtimeNsec: 1, MtimeNsec: 2, AtimeNsec: 3, CreationTime: crtime, VersionHi: ptr(uint32(6)), ProjectID: ptr(uint32(7))}},
	} {
		e := extra
		e.ExtraSize = tc.extraSize
		in, err := DecodeInode(encodeInode(inodeRaw{ChangeTime: 10}, e, 256), OSLinux)
		if err != nil {
			t.Fatalf("DecodeInode(extra %d) failed: %v", tc.extraSize, err)
		}
		got := fields{
			ChecksumHi:   in.ChecksumHi,
			CtimeNsec:    in.ChangeTime.Nsec,
			MtimeNsec:    in.ModifyTime.Nsec,
			AtimeNsec:    in.AccessTime.Nsec,
			CreationTime: in.CreationTime,
			VersionHi:    in.VersionHi,
			ProjectID:    in.ProjectID,
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("extra size %d mismatch (-want +got):\n%s", tc.extraSize, diff)
		}
		// The epoch bit of the change time extends seconds past 2038.
		wantCtime := int64(10)
		if tc.extraSize >= 8 {
			wantCtime += 1 << 32
		}
		if in.ChangeTime.Sec != wantCtime {
			t.Errorf("extra size %d ChangeTime.Sec: got %d, want %d", tc.extraSize, in.ChangeTime.Sec, wantCtime)
		}
	}
}

func TestDecodeInodeMalformed(t *testing.T) {
	good := encodeInode(inodeRaw{}, inodeExtraRaw{ExtraSize: 32}, 256)
	tooBig := encodeInode(inodeRaw{}, inodeExtraRaw{}, 256)
	binary.LittleEndian.PutUint16(tooBig[OldInodeSize:], 200)
	for _, tc := range []struct {
		name string
		buf  []byte
	}{
		{"truncated fixed region", good[:OldInodeSize-1]},
		{"truncated extra size", good[:OldInodeSize+1]},
		{"extra size past record", tooBig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeInode(tc.buf, OSLinux); !linuxerr.Equals(linuxerr.EIO, err) {
				t.Errorf("DecodeInode: got error %v, want EIO", err)
			}
		})
	}
}

func TestDecodeInodeEmbeddedXattrs(t *testing.T) {
	buf := encodeInode(inodeRaw{}, inodeExtraRaw{ExtraSize: 32}, 256)
	region := buf[OldInodeSize+32:]
	binary.LittleEndian.PutUint32(region, XattrMagic)
	value := []byte("hello")
	writeXattrTable(region[4:], 0, []testXattr{{XattrIndexUser, "greeting", value}})

	in, err := DecodeInode(buf, OSLinux)
	if err != nil {
		t.Fatalf("DecodeInode failed: %v", err)
	}
	if in.Xattrs == nil {
		t.Fatalf("embedded xattrs not found")
	}
	e, ok := in.Xattrs.Lookup("user.greeting")
	if !ok {
		t.Fatalf("user.greeting not found in %+v", in.Xattrs.Entries)
	}
	got, err := in.Xattrs.Value(e)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if string(got) != string(value) {
		t.Errorf("Value: got %q, want %q", got, value)
	}
}

func TestInodeLocation(t *testing.T) {
	raw := newRawSuperBlock()
	raw.InodesPerGroup = 100
	raw.InodeSize = 256
	sb, err := DecodeSuperBlock(encodeSuperBlock(raw))
	if err != nil {
		t.Fatalf("DecodeSuperBlock failed: %v", err)
	}
	for _, tc := range []struct {
		ino        uint32
		group, off uint64
	}{
		{1, 0, 0},
		{2, 0, 256},
		{100, 0, 99 * 256},
		{101, 1, 0},
		{250, 2, 49 * 256},
	} {
		group, off := InodeLocation(sb, tc.ino)
		if group != tc.group || off != tc.off {
			t.Errorf("InodeLocation(%d): got (%d, %d), want (%d, %d)", tc.ino, group, off, tc.group, tc.off)
		}
	}
}
