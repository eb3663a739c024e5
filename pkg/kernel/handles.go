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

package kernel

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/memfs"
)

// File is the contract between the handle table and everything a process
// can hold open: filesystem files and directories, the console, devices.
//
// Read and Write move bytes through kernel buffers; user memory never
// reaches a File directly. A device with nothing to deliver returns
// ternerr.ErrWouldBlock from Read, which the syscall layer turns into a
// transparent retry.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close()

	// Poll reports readiness for tern.PollRead or tern.PollWrite.
	Poll(event uint8) bool

	// Kind reports the tern.Kind* class of the open file.
	Kind() uint8
}

// Handle resolves a handle number to its open file.
func (t *Task) Handle(h uint64) (File, error) {
	if h >= tern.MaxHandles || t.handles[h] == nil {
		return nil, ternerr.ErrBadHandle
	}
	return t.handles[h], nil
}

// InstallHandle places f in the lowest free slot and returns its number.
func (t *Task) InstallHandle(f File) (uint64, error) {
	for h := range t.handles {
		if t.handles[h] == nil {
			t.handles[h] = f
			return uint64(h), nil
		}
	}
	return 0, ternerr.ErrHandlesFull
}

// CloseHandle closes and clears a handle.
func (t *Task) CloseHandle(h uint64) error {
	f, err := t.Handle(h)
	if err != nil {
		return err
	}
	f.Close()
	t.handles[h] = nil
	return nil
}

// DupHandle duplicates src onto dst, closing whatever dst held. Filesystem
// files are cloned with an independent cursor; devices are shared.
func (t *Task) DupHandle(src, dst uint64) error {
	f, err := t.Handle(src)
	if err != nil {
		return err
	}
	if dst >= tern.MaxHandles {
		return ternerr.ErrBadHandle
	}
	if dst == src {
		return nil
	}
	if old := t.handles[dst]; old != nil {
		old.Close()
	}
	t.handles[dst] = dupFile(f)
	return nil
}

func dupFile(f File) File {
	if ff, ok := f.(*memfs.File); ok {
		return ff.Clone()
	}
	return f
}

// closeAllHandles tears down the handle table at exit.
func (t *Task) closeAllHandles() {
	for h, f := range t.handles {
		if f != nil {
			f.Close()
			t.handles[h] = nil
		}
	}
}

// preopenHandles installs the well-known handles of a fresh task: the
// console on stdin, stdout and stderr, and the null device after them.
func (t *Task) preopenHandles() {
	t.handles[tern.HandleStdin] = t.k.console
	t.handles[tern.HandleStdout] = t.k.console
	t.handles[tern.HandleStderr] = t.k.console
	t.handles[tern.HandleNull] = nullDevice{}
}

// OpenPath opens path relative to the task's working directory. Device
// paths resolve to the live devices rather than filesystem nodes.
func (k *Kernel) OpenPath(t *Task, path string, flags uint8) (File, error) {
	full := memfs.Canonicalize(t.cwd, path)
	switch full {
	case "/dev/console":
		return k.console, nil
	case "/dev/null":
		return nullDevice{}, nil
	}
	return k.fs.Open(full, flags)
}
