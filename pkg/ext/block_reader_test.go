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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
)

type readRequest struct {
	Off int64
	Len int
}

// recordingDevice serves data and records every request. The first failures
// requests fail with err.
type recordingDevice struct {
	data     []byte
	reqs     []readRequest
	failures int
	err      error
}

func (d *recordingDevice) ReadAt(p []byte, off int64) (int, error) {
	d.reqs = append(d.reqs, readRequest{Off: off, Len: len(p)})
	if d.failures > 0 {
		d.failures--
		return 0, d.err
	}
	return bytes.NewReader(d.data).ReadAt(p, off)
}

func patterned(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	return buf
}

func TestDeviceReaderOrdinary(t *testing.T) {
	dev := &recordingDevice{data: patterned(16384)}
	r := NewDeviceReader(dev, ReadModeOrdinary)
	got, err := r.ReadAt(context.Background(), 5000, 10)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, dev.data[5000:5010]) {
		t.Errorf("ReadAt = %v, want %v", got, dev.data[5000:5010])
	}
	if diff := cmp.Diff([]readRequest{{Off: 5000, Len: 10}}, dev.reqs); diff != "" {
		t.Errorf("device requests mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceReaderMetadataAlignment(t *testing.T) {
	for _, tc := range []struct {
		name      string
		blockSize uint64
		off       int64
		n         int
		want      []readRequest
	}{
		{
			name: "default alignment",
			off:  5000,
			n:    10,
			want: []readRequest{{Off: 4096, Len: 4096}},
		},
		{
			name: "spans two blocks",
			off:  4000,
			n:    200,
			want: []readRequest{{Off: 0, Len: 8192}},
		},
		{
			name:      "block size alignment",
			blockSize: 1024,
			off:       5000,
			n:         10,
			want:      []readRequest{{Off: 4096, Len: 1024}},
		},
		{
			name:      "already aligned",
			blockSize: 1024,
			off:       2048,
			n:         1024,
			want:      []readRequest{{Off: 2048, Len: 1024}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := &recordingDevice{data: patterned(16384)}
			r := NewDeviceReader(dev, ReadModeMetadata)
			if tc.blockSize != 0 {
				r = r.WithBlockSize(tc.blockSize)
			}
			got, err := r.ReadAt(context.Background(), tc.off, tc.n)
			if err != nil {
				t.Fatalf("ReadAt failed: %v", err)
			}
			if want := dev.data[tc.off : tc.off+int64(tc.n)]; !bytes.Equal(got, want) {
				t.Errorf("ReadAt = %v, want %v", got, want)
			}
			if diff := cmp.Diff(tc.want, dev.reqs); diff != "" {
				t.Errorf("device requests mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeviceReaderMetadataFallback(t *testing.T) {
	dev := &recordingDevice{data: patterned(5000)}
	r := NewDeviceReader(dev, ReadModeMetadata)
	got, err := r.ReadAt(context.Background(), 4990, 10)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, dev.data[4990:]) {
		t.Errorf("ReadAt = %v, want %v", got, dev.data[4990:])
	}
	want := []readRequest{{Off: 4096, Len: 4096}, {Off: 4990, Len: 10}}
	if diff := cmp.Diff(want, dev.reqs); diff != "" {
		t.Errorf("device requests mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceReaderShortRead(t *testing.T) {
	for _, mode := range []ReadMode{ReadModeOrdinary, ReadModeMetadata} {
		t.Run(mode.String(), func(t *testing.T) {
			r := NewDeviceReader(&recordingDevice{data: patterned(100)}, mode)
			if _, err := r.ReadAt(context.Background(), 90, 20); !linuxerr.Equals(linuxerr.EIO, err) {
				t.Errorf("ReadAt past the end got error %v, want EIO", err)
			}
		})
	}
}

func TestDeviceReaderRetriesTransient(t *testing.T) {
	dev := &recordingDevice{data: patterned(100), failures: 3, err: unix.EAGAIN}
	r := NewDeviceReader(dev, ReadModeOrdinary)
	got, err := r.ReadAt(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, dev.data[:10]) {
		t.Errorf("ReadAt = %v, want %v", got, dev.data[:10])
	}
	if len(dev.reqs) != 4 {
		t.Errorf("device saw %d requests, want 4", len(dev.reqs))
	}
}

func TestDeviceReaderPermanentError(t *testing.T) {
	dev := &recordingDevice{data: patterned(100), failures: 1, err: unix.EIO}
	r := NewDeviceReader(dev, ReadModeOrdinary)
	if _, err := r.ReadAt(context.Background(), 0, 10); !errors.Is(err, unix.EIO) {
		t.Errorf("ReadAt got error %v, want %v", err, unix.EIO)
	}
	if len(dev.reqs) != 1 {
		t.Errorf("device saw %d requests, want 1", len(dev.reqs))
	}
}

func TestDeviceReaderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := &recordingDevice{data: patterned(100)}
	r := NewDeviceReader(dev, ReadModeOrdinary)
	if _, err := r.ReadAt(ctx, 0, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadAt got error %v, want %v", err, context.Canceled)
	}
	if len(dev.reqs) != 0 {
		t.Errorf("device saw %d requests after cancellation, want 0", len(dev.reqs))
	}
}

func TestDeviceReaderInvalid(t *testing.T) {
	r := NewDeviceReader(&recordingDevice{data: patterned(100)}, ReadModeOrdinary)
	if _, err := r.ReadAt(context.Background(), -1, 10); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("ReadAt at a negative offset got error %v, want EINVAL", err)
	}
	if got, err := r.ReadAt(context.Background(), 0, 0); err != nil || len(got) != 0 {
		t.Errorf("ReadAt of zero bytes = %v, %v, want no data", got, err)
	}
}
