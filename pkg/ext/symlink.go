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

	"gvisor.dev/extfs/pkg/abi/linux"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
)

// isFastSymlink reports whether the target lives in the inode data region.
func (it *Item) isFastSymlink() bool {
	in := it.inode
	if it.Type() != disklayout.FileTypeSymlink {
		return false
	}
	return !in.Flags.Extents() && !it.inlineData() && in.Size() < disklayout.InodeDataSize
}

// Readlink returns the symlink target. It returns EINVAL if the item is not
// a symlink.
func (it *Item) Readlink(ctx context.Context) (string, error) {
	if it.Type() != disklayout.FileTypeSymlink {
		return "", linuxerr.EINVAL
	}
	size := it.inode.Size()
	if size > linux.PATH_MAX {
		it.vol.warn.Warningf("ext fs: symlink %d has size %d", it.ino, size)
		return "", linuxerr.EIO
	}

	// If the symlink target is lesser than 60 bytes, its stored in the inode
	// data. Otherwise either extents or block maps will be used to store the
	// link.
	if it.isFastSymlink() {
		return string(it.inode.Data[:size]), nil
	}
	link := make([]byte, size)
	if n, err := it.ReadAt(ctx, link, 0); uint64(n) < size {
		return "", err
	}
	return string(link), nil
}
