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

package fspath

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/extfs/pkg/errors/linuxerr"
)

// components collects the components of p, checking NextOk against Next on
// the way.
func components(t *testing.T, p Path) []string {
	t.Helper()
	var pcs []string
	for it := p.Begin; it.Ok(); it = it.Next() {
		pcs = append(pcs, it.String())
		if it.NextOk() != it.Next().Ok() {
			t.Errorf("NextOk() = %v at %q, Next().Ok() = %v", it.NextOk(), it.String(), it.Next().Ok())
		}
	}
	return pcs
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		pathname string
		pcs      []string
		abs      bool
		dir      bool
		str      string
	}{
		{pathname: "/", abs: true, dir: true, str: "/"},
		{pathname: "///", abs: true, dir: true, str: "/"},
		{pathname: "hello", pcs: []string{"hello"}, str: "hello"},
		{pathname: "/hello", pcs: []string{"hello"}, abs: true, str: "/hello"},
		{pathname: "/sub/", pcs: []string{"sub"}, abs: true, dir: true, str: "/sub/"},
		{pathname: "//sub///deep", pcs: []string{"sub", "deep"}, abs: true, str: "/sub/deep"},
		{pathname: "sub/./../hello", pcs: []string{"sub", ".", "..", "hello"}, str: "sub/./../hello"},
		{pathname: "../x//", pcs: []string{"..", "x"}, dir: true, str: "../x/"},
		{pathname: "/\xe6/\xff", pcs: []string{"\xe6", "\xff"}, abs: true, str: "/\xe6/\xff"},
	} {
		t.Run(tc.pathname, func(t *testing.T) {
			p, err := Parse(tc.pathname)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tc.pathname, err)
			}
			if p.Absolute != tc.abs || p.Dir != tc.dir {
				t.Errorf("Parse(%q): Absolute = %v, Dir = %v, want %v, %v", tc.pathname, p.Absolute, p.Dir, tc.abs, tc.dir)
			}
			if diff := cmp.Diff(tc.pcs, components(t, p)); diff != "" {
				t.Errorf("Parse(%q) components mismatch (-want +got):\n%s", tc.pathname, diff)
			}
			if p.HasComponents() != (len(tc.pcs) > 0) {
				t.Errorf("HasComponents() = %v, want %v", p.HasComponents(), len(tc.pcs) > 0)
			}
			if got := p.String(); got != tc.str {
				t.Errorf("String() = %q, want %q", got, tc.str)
			}
		})
	}
}

// TestIteratorSuffixes checks that each iterator holds the rest of the
// pathname from its component on, without trailing separators.
func TestIteratorSuffixes(t *testing.T) {
	p, err := Parse("/foo//bar///baz////")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var got []string
	for it := p.Begin; it.Ok(); it = it.Next() {
		got = append(got, it.partialPathname)
	}
	want := []string{"foo//bar///baz", "bar///baz", "baz"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("suffixes mismatch (-want +got):\n%s", diff)
	}
	if (Iterator{}).Ok() {
		t.Errorf("zero Iterator is not terminal")
	}
}

func TestParseEmptyPathname(t *testing.T) {
	if _, err := Parse(""); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Parse(\"\") got error %v, want ENOENT", err)
	}
}
