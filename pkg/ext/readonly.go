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
)

// The volume is mounted read only: every mutation below fails with EROFS
// before any I/O.

// Create implements file creation. It always fails with EROFS.
func (v *Volume) Create(ctx context.Context, parent *Item, name string, mode linux.FileMode) (*Item, error) {
	return nil, linuxerr.EROFS
}

// Remove implements unlink and rmdir. It always fails with EROFS.
func (v *Volume) Remove(ctx context.Context, parent *Item, name string) error {
	return linuxerr.EROFS
}

// Rename implements rename. It always fails with EROFS.
func (v *Volume) Rename(ctx context.Context, oldParent *Item, oldName string, newParent *Item, newName string) error {
	return linuxerr.EROFS
}

// WriteAt implements file writes. It always fails with EROFS.
func (it *Item) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return 0, linuxerr.EROFS
}

// SetAttributes implements chmod, chown, truncate and utimes. It always
// fails with EROFS.
func (it *Item) SetAttributes(ctx context.Context, attrs Attributes) error {
	return linuxerr.EROFS
}

// SetXattr implements setxattr. It always fails with EROFS; see
// SetTransientXattr for in-memory attributes.
func (it *Item) SetXattr(ctx context.Context, name string, value []byte) error {
	return linuxerr.EROFS
}

// RemoveXattr implements removexattr. It always fails with EROFS.
func (it *Item) RemoveXattr(ctx context.Context, name string) error {
	return linuxerr.EROFS
}
