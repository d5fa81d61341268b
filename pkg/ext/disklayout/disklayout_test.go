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

	"gvisor.dev/extfs/pkg/binary"
)

func assertSize(t *testing.T, name string, v any, want uintptr) {
	t.Helper()
	if got := binary.Size(v); got != want {
		t.Errorf("%s should be exactly %d bytes but is %d bytes", name, want, got)
	}
}

// TestSize checks that the raw structs mirror the on-disk sizes.
func TestSize(t *testing.T) {
	assertSize(t, "superBlockRaw", superBlockRaw{}, SuperBlockSize)
	assertSize(t, "blockGroupLo", blockGroupLo{}, BlockGroupDescriptorSize32)
	assertSize(t, "blockGroupHi", blockGroupHi{}, BlockGroupDescriptorSize64-BlockGroupDescriptorSize32)
	assertSize(t, "inodeRaw", inodeRaw{}, OldInodeSize)
	assertSize(t, "inodeExtraRaw", inodeExtraRaw{}, inodeExtraMaxSize)
	assertSize(t, "osdLinux", osdLinux{}, 12)
	assertSize(t, "osdHurd", osdHurd{}, 12)
	assertSize(t, "osdMasix", osdMasix{}, 12)
	assertSize(t, "ExtentHeader", ExtentHeader{}, ExtentHeaderSize)
	assertSize(t, "Extent", Extent{}, ExtentEntrySize)
	assertSize(t, "ExtentIdx", ExtentIdx{}, ExtentEntrySize)
	assertSize(t, "direntRaw", direntRaw{}, DirentHeaderSize)
	assertSize(t, "xattrHeaderRaw", xattrHeaderRaw{}, XattrHeaderSize)
	assertSize(t, "xattrEntryRaw", xattrEntryRaw{}, XattrEntryHeaderSize)
}
