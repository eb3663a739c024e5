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

// Package pagetables provides x86-64 page tables stored in guest physical
// memory.
//
// A PageTables is an address space: a root (PGD) frame plus the hierarchy
// of intermediate tables reachable from it. All entries use the real 4-level
// 4 KiB encoding, so the tables built here are exactly what the machine's
// MMU walks when the space is active.
//
// Process address spaces share the kernel's upper half by copying the
// kernel root's upper PGD entries at creation time. Those entries point at
// kernel-owned tables; later kernel mappings in an already-referenced
// region (heap growth) become visible to every process without further
// bookkeeping, and per-process teardown never touches them.
package pagetables

import (
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/physmem"
)

// Allocator provides the frames that hold page tables.
type Allocator interface {
	// NewTable returns a zeroed frame for use as a page table.
	NewTable() (guestarch.PhysAddr, error)

	// FreeTable returns a frame obtained from NewTable.
	FreeTable(addr guestarch.PhysAddr)
}

// MapOpts are x86 mapping options.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType guestarch.AccessType

	// User indicates the page is accessible at CPL 3.
	User bool

	// Global indicates the page is globally accessible.
	Global bool
}

// PageTables is a set of page tables rooted at a single PGD frame.
type PageTables struct {
	mem *physmem.Memory

	// Allocator is used to allocate and free intermediate tables.
	Allocator Allocator

	// root is the PGD frame, loaded into CR3 on activation.
	root guestarch.PhysAddr
}

// New returns fresh, empty PageTables.
func New(mem *physmem.Memory, a Allocator) (*PageTables, error) {
	root, err := a.NewTable()
	if err != nil {
		return nil, err
	}
	return &PageTables{mem: mem, Allocator: a, root: root}, nil
}

// NewWithKernel returns PageTables for a new process: empty lower half, the
// kernel's upper half shared by copying k's upper PGD entries.
func NewWithKernel(k *PageTables) (*PageTables, error) {
	p, err := New(k.mem, k.Allocator)
	if err != nil {
		return nil, err
	}
	for i := entriesPerTable / 2; i < entriesPerTable; i++ {
		p.mem.Write64(entryAddr(p.root, i), k.mem.Read64(entryAddr(k.root, i)))
	}
	return p, nil
}

// Root returns the PGD frame. Activating the space means running the
// machine with this value as CR3; the pairing of activation with a restored
// register file is the kernel run loop's job.
func (p *PageTables) Root() guestarch.PhysAddr {
	return p.root
}

// Release frees the root and every lower-half table reachable from it.
// Upper-half tables are kernel-owned and are not touched. Leaf frames are
// not freed; their ownership is tracked by the caller.
func (p *PageTables) Release() {
	for i := 0; i < entriesPerTable/2; i++ {
		pgdE := p.mem.Read64(entryAddr(p.root, i))
		if pgdE&present == 0 {
			continue
		}
		pud := tableFrom(pgdE)
		for j := 0; j < entriesPerTable; j++ {
			pudE := p.mem.Read64(entryAddr(pud, j))
			if pudE&present == 0 {
				continue
			}
			pmd := tableFrom(pudE)
			for k := 0; k < entriesPerTable; k++ {
				pmdE := p.mem.Read64(entryAddr(pmd, k))
				if pmdE&present == 0 {
					continue
				}
				p.Allocator.FreeTable(tableFrom(pmdE))
			}
			p.Allocator.FreeTable(pmd)
		}
		p.Allocator.FreeTable(pud)
	}
	p.Allocator.FreeTable(p.root)
	p.root = 0
}

// TranslatePage resolves the page containing addr in this space. It
// implements the machine's AddressSpace interface; the MMU consults it for
// every access while the space is active.
func (p *PageTables) TranslatePage(addr guestarch.Addr) (frame guestarch.PhysAddr, access guestarch.AccessType, user bool, ok bool) {
	frame, opts, ok := p.Lookup(addr)
	if !ok {
		return 0, guestarch.NoAccess, false, false
	}
	return frame, opts.AccessType, opts.User, true
}
