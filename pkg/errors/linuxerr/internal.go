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

package linuxerr

import (
	"context"
	goerrors "errors"
	"io"

	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/abi/linux/errno"
	"gvisor.dev/extfs/pkg/errors"
)

// errorMap pairs Go standard library errors with the errno they are reported
// as. Wrapped errors match as well.
var errorMap = []struct {
	from error
	to   *errors.Error
}{
	{io.EOF, EIO},
	{io.ErrUnexpectedEOF, EIO},
	{io.ErrShortBuffer, EIO},
	{context.Canceled, EINTR},
	{context.DeadlineExceeded, EINTR},
}

// errorUnwrappers is an array of unwrap functions to extract typed errors.
var errorUnwrappers = []func(error) (*errors.Error, bool){
	func(err error) (*errors.Error, bool) {
		var unixErr unix.Errno
		if !goerrors.As(err, &unixErr) {
			return nil, false
		}
		e, ok := errorsByErrno[errno.Errno(unixErr)]
		return e, ok
	},
}

// AddErrorUnwrapper registers an unwrap method that can extract a concrete error
// from a typed, but not initialized, error.
func AddErrorUnwrapper(unwrap func(e error) (*errors.Error, bool)) {
	errorUnwrappers = append(errorUnwrappers, unwrap)
}

// TranslateError translates errors to errnos, it will return false if
// the error was not registered.
func TranslateError(from error) (*errors.Error, bool) {
	if e, ok := from.(*errors.Error); ok {
		return e, true
	}
	for _, m := range errorMap {
		if goerrors.Is(from, m.from) {
			return m.to, true
		}
	}
	// Try to unwrap the error if we couldn't match an error
	// exactly.  This might mean that a package has its own
	// error type.
	for _, unwrap := range errorUnwrappers {
		if err, ok := unwrap(from); ok {
			return err, true
		}
	}
	return nil, false
}

// IsTransient returns true for errors that indicate the operation may succeed
// if retried.
func IsTransient(err error) bool {
	e, ok := TranslateError(err)
	if !ok {
		return false
	}
	return e == EAGAIN || (e == EINTR && !goerrors.Is(err, context.Canceled) && !goerrors.Is(err, context.DeadlineExceeded))
}
