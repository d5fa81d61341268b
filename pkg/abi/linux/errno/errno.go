// Copyright 2026 The gVisor Authors.
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

// Package errno holds errno codes for abi/linux.
package errno

// Errno represents a Linux errno value.
type Errno uint32

// Errno values from include/uapi/asm-generic/errno-base.h and errno.h.
const (
	NOERRNO      = 0
	EPERM        = 1
	ENOENT       = 2
	EINTR        = 4
	EIO          = 5
	ENXIO        = 6
	E2BIG        = 7
	EBADF        = 9
	EAGAIN       = 11
	ENOMEM       = 12
	EACCES       = 13
	EFAULT       = 14
	EBUSY        = 16
	EEXIST       = 17
	ENODEV       = 19
	ENOTDIR      = 20
	EISDIR       = 21
	EINVAL       = 22
	EFBIG        = 27
	ENOSPC       = 28
	EROFS        = 30
	ERANGE       = 34
	ENAMETOOLONG = 36
	ENOSYS       = 38
	ENOTEMPTY    = 39
	ELOOP        = 40
	ENODATA      = 61
	EOVERFLOW    = 75
	EOPNOTSUPP   = 95
	ESTALE       = 116
	EUCLEAN      = 117

	// ENOTSUP is the same as EOPNOTSUPP on Linux.
	ENOTSUP = EOPNOTSUPP

	// EWOULDBLOCK is the same as EAGAIN on Linux.
	EWOULDBLOCK = EAGAIN
)
