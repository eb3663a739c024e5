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

package memfs

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
)

// File is an open handle with a read cursor. A handle does not pin the
// file: operations after Remove fail with ErrNoFile.
type File struct {
	fs   *Filesystem
	path string
	dir  bool
	pos  int
}

// Read copies file contents from the cursor, advancing it. At end of file
// it returns 0; reading a directory handle always returns 0.
func (f *File) Read(p []byte) (int, error) {
	if f.dir {
		return 0, nil
	}
	n, err := f.fs.readAt(f.path, f.pos, p)
	f.pos += n
	return n, err
}

// Write appends to the file.
func (f *File) Write(p []byte) (int, error) {
	if f.dir {
		return 0, ternerr.ErrBadArgument
	}
	return f.fs.appendFile(f.path, p)
}

// Close implements the handle contract; memfs handles hold no resources.
func (f *File) Close() {}

// Poll reports readiness: readable while the cursor is short of the file's
// end, always writable.
func (f *File) Poll(event uint8) bool {
	switch event {
	case tern.PollRead:
		return !f.dir && f.fs.pollReadable(f.path, f.pos)
	case tern.PollWrite:
		return !f.dir
	}
	return false
}

// Kind reports the handle kind for the KIND syscall.
func (f *File) Kind() uint8 {
	if f.dir {
		return tern.KindDir
	}
	return tern.KindFile
}

// Clone returns an independent handle at the same cursor position, for DUP.
func (f *File) Clone() *File {
	c := *f
	return &c
}

// Path returns the canonical path the handle was opened with.
func (f *File) Path() string {
	return f.path
}
