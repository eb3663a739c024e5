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

package syscalls

import (
	"encoding/binary"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/kernel"
	"tern.dev/tern/pkg/memfs"
)

// Read implements the read system call: read(h, buf, n) returns the bytes
// moved. Zero on a file means end of file; a device with nothing buffered
// blocks the caller in a kernel-side retry instead.
func Read(t *kernel.Task, args [4]uint64) (uint64, error) {
	f, err := t.Handle(args[0])
	if err != nil {
		return 0, err
	}
	n := args[2]
	if n > tern.WindowBytes {
		return 0, ternerr.ErrBadArgument
	}
	if n == 0 {
		return 0, nil
	}
	p := make([]byte, n)
	m, err := f.Read(p)
	if err != nil {
		return 0, err
	}
	if err := t.CopyOut(guestarch.Addr(args[1]), p[:m]); err != nil {
		return 0, err
	}
	return uint64(m), nil
}

// Write implements the write system call: write(h, buf, n).
func Write(t *kernel.Task, args [4]uint64) (uint64, error) {
	f, err := t.Handle(args[0])
	if err != nil {
		return 0, err
	}
	n := args[2]
	if n > tern.WindowBytes {
		return 0, ternerr.ErrBadArgument
	}
	p, err := t.CopyIn(guestarch.Addr(args[1]), n)
	if err != nil {
		return 0, err
	}
	m, err := f.Write(p)
	if err != nil {
		return 0, err
	}
	return uint64(m), nil
}

// Open implements the open system call: open(path, pathLen, flags)
// returns a fresh handle. Device paths open the live device.
func Open(t *kernel.Task, args [4]uint64) (uint64, error) {
	path, err := t.CopyInString(guestarch.Addr(args[0]), args[1], maxPathBytes)
	if err != nil {
		return 0, err
	}
	if args[2] > 0xff {
		return 0, ternerr.ErrBadArgument
	}
	f, err := t.Kernel().OpenPath(t, path, uint8(args[2]))
	if err != nil {
		return 0, err
	}
	h, err := t.InstallHandle(f)
	if err != nil {
		f.Close()
		return 0, err
	}
	return h, nil
}

// Close implements the close system call.
func Close(t *kernel.Task, args [4]uint64) (uint64, error) {
	return 0, t.CloseHandle(args[0])
}

// Stat implements the stat system call: stat(path, pathLen, rec) fills a
// tern.StatSize record with the size and the directory flag.
func Stat(t *kernel.Task, args [4]uint64) (uint64, error) {
	path, err := t.CopyInString(guestarch.Addr(args[0]), args[1], maxPathBytes)
	if err != nil {
		return 0, err
	}
	info, err := t.Kernel().Filesystem().Stat(memfs.Canonicalize(t.Cwd(), path))
	if err != nil {
		return 0, err
	}
	var rec [tern.StatSize]byte
	binary.LittleEndian.PutUint64(rec[0:], info.Size)
	var flags uint64
	if info.IsDir {
		flags |= tern.StatFlagDir
	}
	binary.LittleEndian.PutUint64(rec[8:], flags)
	if err := t.CopyOut(guestarch.Addr(args[2]), rec[:]); err != nil {
		return 0, err
	}
	return 0, nil
}

// Dup implements the dup system call: dup(src, dst) replaces dst with a
// duplicate of src and returns dst.
func Dup(t *kernel.Task, args [4]uint64) (uint64, error) {
	if err := t.DupHandle(args[0], args[1]); err != nil {
		return 0, err
	}
	return args[1], nil
}

// Remove implements the remove system call. Directories must be empty.
func Remove(t *kernel.Task, args [4]uint64) (uint64, error) {
	path, err := t.CopyInString(guestarch.Addr(args[0]), args[1], maxPathBytes)
	if err != nil {
		return 0, err
	}
	return 0, t.Kernel().Filesystem().Remove(memfs.Canonicalize(t.Cwd(), path))
}

// Poll implements the poll system call: poll(list, n) scans n entries of
// (handle, event) uint64 pairs and returns the index of the first ready
// one, or n when none is.
func Poll(t *kernel.Task, args [4]uint64) (uint64, error) {
	n := args[1]
	if n > tern.MaxHandles {
		return 0, ternerr.ErrBadArgument
	}
	raw, err := t.CopyIn(guestarch.Addr(args[0]), n*tern.PollEntrySize)
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < n; i++ {
		h := binary.LittleEndian.Uint64(raw[i*tern.PollEntrySize:])
		ev := binary.LittleEndian.Uint64(raw[i*tern.PollEntrySize+8:])
		f, err := t.Handle(h)
		if err != nil {
			return 0, err
		}
		if ev > 0xff {
			return 0, ternerr.ErrBadArgument
		}
		if f.Poll(uint8(ev)) {
			return i, nil
		}
	}
	return n, nil
}

// Kind implements the kind system call: the tern.Kind* class of a handle.
func Kind(t *kernel.Task, args [4]uint64) (uint64, error) {
	f, err := t.Handle(args[0])
	if err != nil {
		return 0, err
	}
	return uint64(f.Kind()), nil
}
