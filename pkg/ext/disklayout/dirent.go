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
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/log"
)

const (
	// MaxFileName is the maximum length of an ext fs file name.
	MaxFileName = 255

	// DirentHeaderSize is the size of a directory entry before its name.
	DirentHeaderSize = 8
)

// direntRaw mirrors the fixed part of struct ext4_dir_entry_2. Without the
// filetype feature the FileType byte is the upper half of a 16-bit name
// length and is ignored.
type direntRaw struct {
	InodeNumber  uint32
	RecordLength uint16
	NameLength   uint8
	FileType     uint8
}

// DirectoryEntry is one record of a linear directory block. FileType is only
// meaningful when the volume has the filetype feature.
type DirectoryEntry struct {
	Inode        uint32
	RecordLength uint16
	NameLength   uint8
	FileType     FileType
	Name         string
}

// Live returns true if the entry names an object. Unused records and
// padding carry inode 0 or an empty name.
func (d *DirectoryEntry) Live() bool {
	return d.Inode != 0 && d.NameLength != 0
}

// DecodeDirectoryBlock decodes the records of one directory block in order.
// A record length of 0 ends the block early. Unused records are returned;
// callers filter them with Live.
func DecodeDirectoryBlock(buf []byte, hasFileType bool) ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	for pos := 0; pos+DirentHeaderSize <= len(buf); {
		var raw direntRaw
		binary.Unmarshal(buf[pos:pos+DirentHeaderSize], binary.LittleEndian, &raw)
		if raw.RecordLength == 0 {
			break
		}
		nameEnd := pos + DirentHeaderSize + int(raw.NameLength)
		if int(raw.RecordLength) < DirentHeaderSize+int(raw.NameLength) || pos+int(raw.RecordLength) > len(buf) {
			log.Warningf("ext fs: directory record at %d has length %d, name length %d, block size %d",
				pos, raw.RecordLength, raw.NameLength, len(buf))
			return nil, linuxerr.EIO
		}
		d := DirectoryEntry{
			Inode:        raw.InodeNumber,
			RecordLength: raw.RecordLength,
			NameLength:   raw.NameLength,
			Name:         string(buf[pos+DirentHeaderSize : nameEnd]),
		}
		if hasFileType {
			d.FileType = FileType(raw.FileType)
		}
		entries = append(entries, d)
		pos += int(raw.RecordLength)
	}
	return entries, nil
}
