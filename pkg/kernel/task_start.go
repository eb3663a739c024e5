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
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/loader"
	"tern.dev/tern/pkg/log"
	"tern.dev/tern/pkg/memfs"
	"tern.dev/tern/pkg/pagetables"
)

// Spawn creates a task from an executable in the filesystem and enqueues
// it ready. The path resolves against the parent's working directory;
// extra becomes the child's arguments after argv[0]. The child's pid is
// its table slot.
//
// Nothing is shared with the parent beyond the working directory: the
// child gets its own page tables over its own window, a fresh handle
// table with the standard preopens, and an empty mailbox.
func (k *Kernel) Spawn(parent Pid, path string, extra []string) (Pid, error) {
	cwd := "/"
	if p := k.Task(parent); p != nil {
		cwd = p.cwd
	}
	full := memfs.Canonicalize(cwd, path)

	image, err := k.fs.ReadFile(full)
	if err != nil {
		return 0, err
	}
	img, err := loader.Parse(image)
	if err != nil {
		return 0, err
	}

	slot := k.freeSlot()
	if slot < 0 {
		return 0, ternerr.ErrTableFull
	}
	tables, err := pagetables.NewWithKernel(k.kpt)
	if err != nil {
		return 0, err
	}
	loaded, err := loader.Load(img, loader.LoadArgs{
		Mem:    k.mem,
		Frames: k.frames,
		Tables: tables,
		Slot:   slot,
		Args:   append([]string{full}, extra...),
	})
	if err != nil {
		tables.Release()
		return 0, err
	}

	t := &Task{
		k:         k,
		id:        Pid(slot),
		name:      full,
		parent:    parent,
		state:     TaskReady,
		pt:        tables,
		window:    loader.WindowBase(slot),
		cwd:       cwd,
		allocHint: loader.WindowBase(slot) + tern.MmapOffset,
	}
	t.regs = guestarch.Registers{
		Rip:    uint64(loaded.Entry),
		Rsp:    uint64(loaded.StackTop),
		Rdi:    uint64(loaded.ArgvAddr),
		Rsi:    loaded.Argc,
		Cs:     guestarch.UserCS,
		Ss:     guestarch.UserSS,
		Eflags: guestarch.UserFlagsSet,
	}
	t.preopenHandles()

	k.tasks[slot] = t
	spawnCount.Increment()
	log.Infof("kernel: spawned task %d from %s (entry %#x)", t.id, full, loaded.Entry)
	return t.id, nil
}

// freeSlot finds the lowest free table slot, never slot 0.
func (k *Kernel) freeSlot() int {
	for s := 1; s < len(k.tasks); s++ {
		if k.tasks[s] == nil {
			return s
		}
	}
	return -1
}
