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
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/log"
)

// BlockReader is the device a Volume decodes. Implementations must permit
// concurrent calls.
type BlockReader interface {
	// ReadAt returns exactly n bytes starting at byte offset off. A short
	// read is an error.
	ReadAt(ctx context.Context, off int64, n int) ([]byte, error)
}

// ReadMode selects how a DeviceReader issues reads.
type ReadMode int

const (
	// ReadModeOrdinary reads exactly the requested range.
	ReadModeOrdinary ReadMode = iota

	// ReadModeMetadata widens every read to whole blocks so that the host
	// can serve it from its metadata cache.
	ReadModeMetadata
)

// String implements fmt.Stringer.
func (m ReadMode) String() string {
	switch m {
	case ReadModeOrdinary:
		return "ordinary"
	case ReadModeMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

const (
	// defaultMetadataAlign is the read granularity of ReadModeMetadata until
	// the block size is known.
	defaultMetadataAlign = 4096

	// maxRetryTime bounds the retries of a transiently failing read.
	maxRetryTime = 2 * time.Second
)

// DeviceReader adapts an io.ReaderAt, such as an *os.File, to BlockReader.
//
// dev does not require protection because io.ReaderAt permits concurrent
// read calls to it.
type DeviceReader struct {
	dev   io.ReaderAt
	mode  ReadMode
	align int64
}

var _ BlockReader = (*DeviceReader)(nil)

// NewDeviceReader returns a reader over dev using mode.
func NewDeviceReader(dev io.ReaderAt, mode ReadMode) *DeviceReader {
	return &DeviceReader{dev: dev, mode: mode, align: defaultMetadataAlign}
}

// WithBlockSize returns a copy of r whose metadata reads are aligned to
// blockSize.
func (r *DeviceReader) WithBlockSize(blockSize uint64) *DeviceReader {
	c := *r
	c.align = int64(blockSize)
	return &c
}

// Mode returns the read mode of r.
func (r *DeviceReader) Mode() ReadMode {
	return r.mode
}

// ReadAt implements BlockReader.ReadAt.
func (r *DeviceReader) ReadAt(ctx context.Context, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, linuxerr.EINVAL
	}
	if n == 0 {
		return nil, nil
	}
	start, end := off, off+int64(n)
	if r.mode == ReadModeMetadata && r.align > 0 {
		start = off / r.align * r.align
		end = (end + r.align - 1) / r.align * r.align
	}
	buf := make([]byte, end-start)
	if err := r.readFull(ctx, buf, start); err != nil {
		// A widened read may run past the end of the device. Fall back to
		// the exact range before reporting it.
		if start == off && end == off+int64(n) {
			return nil, err
		}
		buf = make([]byte, n)
		if err := r.readFull(ctx, buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return buf[off-start : off-start+int64(n)], nil
}

// readFull fills buf from off, retrying transient failures.
func (r *DeviceReader) readFull(ctx context.Context, buf []byte, off int64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = maxRetryTime

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		n, err := r.dev.ReadAt(buf, off)
		if n == len(buf) {
			// io.ReaderAt may return io.EOF with a full read at the end of
			// the device.
			return nil
		}
		if err == nil || err == io.EOF {
			log.Debugf("ext fs: short read at %d: %d of %d bytes", off, n, len(buf))
			return backoff.Permanent(linuxerr.EIO)
		}
		if linuxerr.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
