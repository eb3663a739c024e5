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

package pagetables

import (
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
)

// checkRange validates a page-aligned, canonical, non-wrapping range that
// does not straddle the canonical hole.
func checkRange(addr guestarch.Addr, length uint64) error {
	if length == 0 || !addr.IsPageAligned() || length%guestarch.PageSize != 0 {
		return ternerr.ErrBadAddress
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return ternerr.ErrBadAddress
	}
	last := end - 1
	if !addr.IsCanonical() || !last.IsCanonical() {
		return ternerr.ErrBadAddress
	}
	if (addr <= guestarch.LowerTop) != (last <= guestarch.LowerTop) {
		return ternerr.ErrBadAddress
	}
	return nil
}

func (p *PageTables) tableOrCreate(entry guestarch.PhysAddr) (guestarch.PhysAddr, error) {
	e := p.mem.Read64(entry)
	if e&present != 0 {
		return tableFrom(e), nil
	}
	t, err := p.Allocator.NewTable()
	if err != nil {
		return 0, ternerr.ErrNoMemory
	}
	p.mem.Write64(entry, uint64(t)|intermediate)
	return t, nil
}

func (p *PageTables) tableEmpty(t guestarch.PhysAddr) bool {
	for i := 0; i < entriesPerTable; i++ {
		if p.mem.Read64(entryAddr(t, i))&present != 0 {
			return false
		}
	}
	return true
}

// prune frees any table on addr's walk path that no longer holds a present
// entry, bottom-up, clearing the parent entry as it goes.
func (p *PageTables) prune(addr guestarch.Addr) {
	pgdE := entryAddr(p.root, pgdIndex(addr))
	e := p.mem.Read64(pgdE)
	if e&present == 0 {
		return
	}
	pud := tableFrom(e)
	pudE := entryAddr(pud, pudIndex(addr))
	if e = p.mem.Read64(pudE); e&present != 0 {
		pmd := tableFrom(e)
		pmdE := entryAddr(pmd, pmdIndex(addr))
		if e = p.mem.Read64(pmdE); e&present != 0 {
			pte := tableFrom(e)
			if p.tableEmpty(pte) {
				p.mem.Write64(pmdE, 0)
				p.Allocator.FreeTable(pte)
			}
		}
		if p.tableEmpty(pmd) {
			p.mem.Write64(pudE, 0)
			p.Allocator.FreeTable(pmd)
		}
	}
	if p.tableEmpty(pud) {
		p.mem.Write64(pgdE, 0)
		p.Allocator.FreeTable(pud)
	}
}

func (p *PageTables) mapPage(addr guestarch.Addr, frame guestarch.PhysAddr, opts MapOpts) error {
	pud, err := p.tableOrCreate(entryAddr(p.root, pgdIndex(addr)))
	if err != nil {
		return err
	}
	pmd, err := p.tableOrCreate(entryAddr(pud, pudIndex(addr)))
	if err != nil {
		p.prune(addr)
		return err
	}
	pte, err := p.tableOrCreate(entryAddr(pmd, pmdIndex(addr)))
	if err != nil {
		p.prune(addr)
		return err
	}
	eAddr := entryAddr(pte, pteIndex(addr))
	want := encode(frame, opts)
	if old := p.mem.Read64(eAddr); old&present != 0 {
		if old == want {
			return nil
		}
		return ternerr.ErrAlreadyMapped
	}
	p.mem.Write64(eAddr, want)
	return nil
}

func (p *PageTables) unmapPage(addr guestarch.Addr) (guestarch.PhysAddr, bool) {
	eAddr, ok := p.leafEntry(addr)
	if !ok {
		return 0, false
	}
	e := p.mem.Read64(eAddr)
	if e&present == 0 {
		return 0, false
	}
	p.mem.Write64(eAddr, 0)
	p.prune(addr)
	return tableFrom(e), true
}

// leafEntry returns the physical address of the PTE slot for addr, if the
// intermediate tables exist.
func (p *PageTables) leafEntry(addr guestarch.Addr) (guestarch.PhysAddr, bool) {
	e := p.mem.Read64(entryAddr(p.root, pgdIndex(addr)))
	if e&present == 0 {
		return 0, false
	}
	e = p.mem.Read64(entryAddr(tableFrom(e), pudIndex(addr)))
	if e&present == 0 {
		return 0, false
	}
	e = p.mem.Read64(entryAddr(tableFrom(e), pmdIndex(addr)))
	if e&present == 0 {
		return 0, false
	}
	return entryAddr(tableFrom(e), pteIndex(addr)), true
}

// MapPage installs a single leaf entry for addr, allocating intermediate
// tables as needed. Mapping a page that is already mapped to the same frame
// with the same options is a no-op; any other present mapping fails with
// ErrAlreadyMapped and leaves the tables unchanged.
func (p *PageTables) MapPage(addr guestarch.Addr, frame guestarch.PhysAddr, opts MapOpts) error {
	if err := checkRange(addr, guestarch.PageSize); err != nil {
		return err
	}
	if !frame.IsPageAligned() {
		return ternerr.ErrBadAddress
	}
	return p.mapPage(addr, frame, opts)
}

// Map maps the virtual range [addr, addr+length) to the contiguous physical
// range starting at phys. On any error the tables are left as they were:
// pages mapped by this call are unwound before returning.
func (p *PageTables) Map(addr guestarch.Addr, length uint64, phys guestarch.PhysAddr, opts MapOpts) error {
	if err := checkRange(addr, length); err != nil {
		return err
	}
	if !phys.IsPageAligned() {
		return ternerr.ErrBadAddress
	}
	for off := uint64(0); off < length; off += guestarch.PageSize {
		if err := p.mapPage(addr+guestarch.Addr(off), phys+guestarch.PhysAddr(off), opts); err != nil {
			for undo := uint64(0); undo < off; undo += guestarch.PageSize {
				p.unmapPage(addr + guestarch.Addr(undo))
			}
			return err
		}
	}
	return nil
}

// Unmap removes the leaf entries of [addr, addr+length) and returns the
// frames they referenced, in ascending page order. The entire range must be
// mapped: if any page is not, Unmap fails with ErrNotMapped and changes
// nothing. Freeing the returned frames is the caller's decision; emptied
// intermediate tables are freed here.
func (p *PageTables) Unmap(addr guestarch.Addr, length uint64) ([]guestarch.PhysAddr, error) {
	if err := checkRange(addr, length); err != nil {
		return nil, err
	}
	for off := uint64(0); off < length; off += guestarch.PageSize {
		if _, _, ok := p.Lookup(addr + guestarch.Addr(off)); !ok {
			return nil, ternerr.ErrNotMapped
		}
	}
	frames := make([]guestarch.PhysAddr, 0, length/guestarch.PageSize)
	for off := uint64(0); off < length; off += guestarch.PageSize {
		frame, ok := p.unmapPage(addr + guestarch.Addr(off))
		if !ok {
			panic("mapped page vanished during unmap")
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Lookup resolves addr to the frame of its containing page and the mapping
// options. ok is false if the page is not mapped.
func (p *PageTables) Lookup(addr guestarch.Addr) (frame guestarch.PhysAddr, opts MapOpts, ok bool) {
	if !addr.IsCanonical() {
		return 0, MapOpts{}, false
	}
	eAddr, ok := p.leafEntry(addr)
	if !ok {
		return 0, MapOpts{}, false
	}
	e := p.mem.Read64(eAddr)
	if e&present == 0 {
		return 0, MapOpts{}, false
	}
	frame, opts = decode(e)
	return frame, opts, true
}
