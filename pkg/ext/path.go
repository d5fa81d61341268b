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

	"gvisor.dev/extfs/pkg/errors/linuxerr"
	"gvisor.dev/extfs/pkg/ext/disklayout"
	"gvisor.dev/extfs/pkg/fspath"
)

// components returns the path components of p.
func components(p fspath.Path) []string {
	var out []string
	for it := p.Begin; it.Ok(); it = it.Next() {
		out = append(out, it.String())
	}
	return out
}

// LookupPath resolves pathname from the root directory. Relative paths are
// resolved from the root as well. Symlinks in intermediate components are
// followed; a symlink in the final component is returned as is. The caller
// must DecRef the result.
func (v *Volume) LookupPath(ctx context.Context, pathname string) (*Item, error) {
	return v.walk(ctx, pathname, false)
}

// ResolvePath is LookupPath, but also follows a symlink in the final
// component.
func (v *Volume) ResolvePath(ctx context.Context, pathname string) (*Item, error) {
	return v.walk(ctx, pathname, true)
}

// walk is loosely analogous to fs/namei.c:link_path_walk().
func (v *Volume) walk(ctx context.Context, pathname string, followFinal bool) (*Item, error) {
	p, err := fspath.Parse(pathname)
	if err != nil {
		return nil, err
	}
	cur, err := v.Root(ctx)
	if err != nil {
		return nil, err
	}
	comps := components(p)
	mustBeDir := p.Dir
	links := 0
	for len(comps) > 0 {
		name := comps[0]
		comps = comps[1:]
		if cur.Type() != disklayout.FileTypeDirectory {
			cur.DecRef()
			return nil, linuxerr.ENOTDIR
		}
		e, ok, err := cur.Lookup(ctx, name)
		if err != nil {
			cur.DecRef()
			return nil, err
		}
		if !ok {
			cur.DecRef()
			return nil, linuxerr.ENOENT
		}
		next, err := v.Item(ctx, e.Inode)
		if err != nil {
			cur.DecRef()
			return nil, err
		}
		final := len(comps) == 0
		if next.Type() != disklayout.FileTypeSymlink || (final && !followFinal && !mustBeDir) {
			cur.DecRef()
			cur = next
			continue
		}

		links++
		if links > maxSymlinkTraversals {
			next.DecRef()
			cur.DecRef()
			return nil, linuxerr.ELOOP
		}
		target, err := next.Readlink(ctx)
		next.DecRef()
		if err != nil {
			cur.DecRef()
			return nil, err
		}
		tp, err := fspath.Parse(target)
		if err != nil {
			cur.DecRef()
			return nil, err
		}
		if tp.Absolute {
			cur.DecRef()
			if cur, err = v.Root(ctx); err != nil {
				return nil, err
			}
		}
		if final {
			mustBeDir = mustBeDir || tp.Dir
		}
		comps = append(components(tp), comps...)
	}
	if mustBeDir && cur.Type() != disklayout.FileTypeDirectory {
		cur.DecRef()
		return nil, linuxerr.ENOTDIR
	}
	return cur, nil
}
