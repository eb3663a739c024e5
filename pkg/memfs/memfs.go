// Copyright 2026 The Tern Authors.
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

// Package memfs is the in-memory filesystem behind the kernel's file
// syscalls. Nodes live in an ordered tree keyed by canonical absolute
// path, which makes directory listing a prefix scan.
package memfs

import (
	gopath "path"
	"strings"

	"github.com/google/btree"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/sync"
)

// node is one file or directory. The parent chain of every node exists
// and consists of directories.
type node struct {
	path string
	dir  bool
	data []byte
}

// FileInfo is the metadata record returned by Stat and ReadDir.
type FileInfo struct {
	Name  string
	Size  uint64
	IsDir bool
}

// Filesystem is a hierarchical in-memory filesystem. The zero value is not
// usable; call New.
type Filesystem struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*node]
}

// New returns an empty filesystem containing only the root directory.
func New() *Filesystem {
	fs := &Filesystem{
		tree: btree.NewG(8, func(a, b *node) bool { return a.path < b.path }),
	}
	fs.tree.ReplaceOrInsert(&node{path: "/", dir: true})
	return fs
}

// Canonicalize resolves path against the working directory cwd into a
// clean absolute path. ".." above the root stays at the root.
func Canonicalize(cwd, path string) string {
	if !strings.HasPrefix(path, "/") {
		if !strings.HasPrefix(cwd, "/") {
			cwd = "/"
		}
		path = cwd + "/" + path
	}
	return gopath.Clean(path)
}

func (fs *Filesystem) get(path string) (*node, bool) {
	return fs.tree.Get(&node{path: path})
}

// hasChildren reports whether dir contains any entry. fs.mu must be held.
func (fs *Filesystem) hasChildren(dir string) bool {
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	found := false
	fs.tree.AscendGreaterOrEqual(&node{path: prefix}, func(c *node) bool {
		found = strings.HasPrefix(c.path, prefix)
		return false
	})
	return found
}

// ensureDirs creates the directory chain down to dir. fs.mu must be held
// for writing.
func (fs *Filesystem) ensureDirs(dir string) error {
	if dir == "/" {
		return nil
	}
	var missing []string
	for p := dir; p != "/"; p = gopath.Dir(p) {
		n, ok := fs.get(p)
		if ok {
			if !n.dir {
				return ternerr.ErrBadArgument
			}
			break
		}
		missing = append(missing, p)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		fs.tree.ReplaceOrInsert(&node{path: missing[i], dir: true})
	}
	return nil
}

// Exists reports whether path names a file or directory.
func (fs *Filesystem) Exists(path string) bool {
	path = Canonicalize("/", path)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.get(path)
	return ok
}

// Stat returns metadata for path.
func (fs *Filesystem) Stat(path string) (FileInfo, error) {
	path = Canonicalize("/", path)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.get(path)
	if !ok {
		return FileInfo{}, ternerr.ErrNoFile
	}
	return infoOf(n), nil
}

func infoOf(n *node) FileInfo {
	return FileInfo{
		Name:  gopath.Base(n.path),
		Size:  uint64(len(n.data)),
		IsDir: n.dir,
	}
}

// ReadFile returns a copy of the file's contents.
func (fs *Filesystem) ReadFile(path string) ([]byte, error) {
	path = Canonicalize("/", path)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.get(path)
	if !ok {
		return nil, ternerr.ErrNoFile
	}
	if n.dir {
		return nil, ternerr.ErrBadArgument
	}
	return append([]byte(nil), n.data...), nil
}

// WriteFile replaces the file's contents, creating the file and any missing
// parent directories.
func (fs *Filesystem) WriteFile(path string, data []byte) error {
	path = Canonicalize("/", path)
	if path == "/" {
		return ternerr.ErrBadArgument
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n, ok := fs.get(path); ok {
		if n.dir {
			return ternerr.ErrBadArgument
		}
		n.data = append([]byte(nil), data...)
		return nil
	}
	if err := fs.ensureDirs(gopath.Dir(path)); err != nil {
		return err
	}
	fs.tree.ReplaceOrInsert(&node{path: path, data: append([]byte(nil), data...)})
	return nil
}

// MkdirAll creates the directory and any missing parents. It succeeds if
// the directory already exists.
func (fs *Filesystem) MkdirAll(path string) error {
	path = Canonicalize("/", path)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.ensureDirs(path)
}

// Remove deletes a file or an empty directory.
func (fs *Filesystem) Remove(path string) error {
	path = Canonicalize("/", path)
	if path == "/" {
		return ternerr.ErrBadArgument
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.get(path)
	if !ok {
		return ternerr.ErrNoFile
	}
	if n.dir && fs.hasChildren(path) {
		return ternerr.ErrBadArgument
	}
	fs.tree.Delete(n)
	return nil
}

// ReadDir lists the direct children of a directory in name order.
func (fs *Filesystem) ReadDir(path string) ([]FileInfo, error) {
	path = Canonicalize("/", path)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.get(path)
	if !ok {
		return nil, ternerr.ErrNoFile
	}
	if !n.dir {
		return nil, ternerr.ErrBadArgument
	}
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}
	var out []FileInfo
	fs.tree.AscendGreaterOrEqual(&node{path: prefix}, func(c *node) bool {
		if !strings.HasPrefix(c.path, prefix) {
			return false
		}
		if rest := c.path[len(prefix):]; rest != "" && !strings.Contains(rest, "/") {
			out = append(out, infoOf(c))
		}
		return true
	})
	return out, nil
}

// Open returns a handle on path. Without OpenCreate the path must exist;
// with it a missing file (or, with OpenDir, directory chain) is created.
// Directories must be opened with OpenDir and files without it.
func (fs *Filesystem) Open(path string, flags uint8) (*File, error) {
	path = Canonicalize("/", path)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.get(path)
	if !ok {
		if flags&tern.OpenCreate == 0 {
			return nil, ternerr.ErrNoFile
		}
		if flags&tern.OpenDir != 0 {
			if err := fs.ensureDirs(path); err != nil {
				return nil, err
			}
			return &File{fs: fs, path: path, dir: true}, nil
		}
		if err := fs.ensureDirs(gopath.Dir(path)); err != nil {
			return nil, err
		}
		fs.tree.ReplaceOrInsert(&node{path: path})
		return &File{fs: fs, path: path}, nil
	}
	if n.dir != (flags&tern.OpenDir != 0) {
		return nil, ternerr.ErrBadArgument
	}
	return &File{fs: fs, path: path, dir: n.dir}, nil
}

// readAt serves File.Read without moving the cursor.
func (fs *Filesystem) readAt(path string, pos int, p []byte) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.get(path)
	if !ok {
		return 0, ternerr.ErrNoFile
	}
	if n.dir || pos >= len(n.data) {
		return 0, nil
	}
	return copy(p, n.data[pos:]), nil
}

// appendFile serves File.Write.
func (fs *Filesystem) appendFile(path string, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.get(path)
	if !ok {
		return 0, ternerr.ErrNoFile
	}
	if n.dir {
		return 0, ternerr.ErrBadArgument
	}
	n.data = append(n.data, p...)
	return len(p), nil
}

// pollReadable serves File.Poll(PollRead).
func (fs *Filesystem) pollReadable(path string, pos int) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.get(path)
	return ok && !n.dir && pos < len(n.data)
}
