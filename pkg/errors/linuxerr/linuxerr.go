// Copyright 2021 The gVisor Authors.
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

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/abi/linux/errno"
	"gvisor.dev/extfs/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or sycall.Errno. However, since the type are distinct ( these are
// *errors.Error), they are not directly comperable. However, the Errno method
// returns an Errno number such that the error can be compared to unix/syscall.Errno
// (e.g. unix.Errno(EPERM.Errno()) == unix.EPERM is true). Converting unix/syscall.Errno
// to the errors should be done via the lookup methods provided.
var (
	noError      *errors.Error = nil
	EPERM                      = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                     = errors.New(errno.ENOENT, "no such file or directory")
	EINTR                      = errors.New(errno.EINTR, "interrupted system call")
	EIO                        = errors.New(errno.EIO, "I/O error")
	ENXIO                      = errors.New(errno.ENXIO, "no such device or address")
	E2BIG                      = errors.New(errno.E2BIG, "argument list too long")
	EBADF                      = errors.New(errno.EBADF, "bad file number")
	EAGAIN                     = errors.New(errno.EAGAIN, "try again")
	ENOMEM                     = errors.New(errno.ENOMEM, "out of memory")
	EACCES                     = errors.New(errno.EACCES, "permission denied")
	EFAULT                     = errors.New(errno.EFAULT, "bad address")
	EBUSY                      = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                     = errors.New(errno.EEXIST, "file exists")
	ENODEV                     = errors.New(errno.ENODEV, "no such device")
	ENOTDIR                    = errors.New(errno.ENOTDIR, "not a directory")
	EISDIR                     = errors.New(errno.EISDIR, "is a directory")
	EINVAL                     = errors.New(errno.EINVAL, "invalid argument")
	EFBIG                      = errors.New(errno.EFBIG, "file too large")
	ENOSPC                     = errors.New(errno.ENOSPC, "no space left on device")
	EROFS                      = errors.New(errno.EROFS, "read-only file system")
	ERANGE                     = errors.New(errno.ERANGE, "math result not representable")
	ENAMETOOLONG               = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOSYS                     = errors.New(errno.ENOSYS, "invalid system call number")
	ENOTEMPTY                  = errors.New(errno.ENOTEMPTY, "directory not empty")
	ELOOP                      = errors.New(errno.ELOOP, "too many symbolic links encountered")
	ENODATA                    = errors.New(errno.ENODATA, "no data available")
	EOVERFLOW                  = errors.New(errno.EOVERFLOW, "value too large for defined data type")
	EOPNOTSUPP                 = errors.New(errno.EOPNOTSUPP, "operation not supported on transport endpoint")
	ESTALE                     = errors.New(errno.ESTALE, "stale file handle")
	EUCLEAN                    = errors.New(errno.EUCLEAN, "structure needs cleaning")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
	ENOATTR     = ENODATA
	ENOTSUP     = EOPNOTSUPP
)

// errorsByErrno holds errors by errno for translation between errnos (especially
// uint32(sycall.Errno)) and *errors.Error.
var errorsByErrno = map[errno.Errno]*errors.Error{
	errno.EPERM:        EPERM,
	errno.ENOENT:       ENOENT,
	errno.EINTR:        EINTR,
	errno.EIO:          EIO,
	errno.ENXIO:        ENXIO,
	errno.E2BIG:        E2BIG,
	errno.EBADF:        EBADF,
	errno.EAGAIN:       EAGAIN,
	errno.ENOMEM:       ENOMEM,
	errno.EACCES:       EACCES,
	errno.EFAULT:       EFAULT,
	errno.EBUSY:        EBUSY,
	errno.EEXIST:       EEXIST,
	errno.ENODEV:       ENODEV,
	errno.ENOTDIR:      ENOTDIR,
	errno.EISDIR:       EISDIR,
	errno.EINVAL:       EINVAL,
	errno.EFBIG:        EFBIG,
	errno.ENOSPC:       ENOSPC,
	errno.EROFS:        EROFS,
	errno.ERANGE:       ERANGE,
	errno.ENAMETOOLONG: ENAMETOOLONG,
	errno.ENOSYS:       ENOSYS,
	errno.ENOTEMPTY:    ENOTEMPTY,
	errno.ELOOP:        ELOOP,
	errno.ENODATA:      ENODATA,
	errno.EOVERFLOW:    EOVERFLOW,
	errno.EOPNOTSUPP:   EOPNOTSUPP,
	errno.ESTALE:       ESTALE,
	errno.EUCLEAN:      EUCLEAN,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	e, ok := errorsByErrno[errno.Errno(err)]
	if !ok {
		panic(fmt.Sprintf("invalid error requested with errno: %v", err))
	}
	return e
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
