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
	"testing"

	"gvisor.dev/extfs/pkg/errors/linuxerr"
)

func TestMutationsFailReadOnly(t *testing.T) {
	ctx := context.Background()
	b, _ := standardImage(t)
	v := b.open(Options{})
	root := openItem(t, v, 2)
	hello := openItem(t, v, 12)

	for _, tc := range []struct {
		name string
		op   func() error
	}{
		{"Create", func() error { _, err := v.Create(ctx, root, "new", 0o644); return err }},
		{"Remove", func() error { return v.Remove(ctx, root, "hello") }},
		{"Rename", func() error { return v.Rename(ctx, root, "hello", root, "bye") }},
		{"WriteAt", func() error { _, err := hello.WriteAt(ctx, []byte("x"), 0); return err }},
		{"SetAttributes", func() error { return hello.SetAttributes(ctx, hello.Attributes()) }},
		{"SetXattr", func() error { return hello.SetXattr(ctx, "user.a", []byte("1")) }},
		{"RemoveXattr", func() error { return hello.RemoveXattr(ctx, "user.a") }},
	} {
		if err := tc.op(); !linuxerr.Equals(linuxerr.EROFS, err) {
			t.Errorf("%s got error %v, want EROFS", tc.name, err)
		}
	}

	// Nothing changed.
	if _, ok, err := root.Lookup(ctx, "hello"); !ok || err != nil {
		t.Errorf("Lookup(hello) after failed mutations = %v, %v", ok, err)
	}
}
