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
	"tern.dev/tern/pkg/cleanup"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/log"
	"tern.dev/tern/pkg/machine"
	"tern.dev/tern/pkg/pagetables"
)

// Window region bounds, relative to the window base.
//
// The stack zone is the only demand-paged region: a write fault there maps
// a fresh zeroed frame. ALLOC placements live strictly below it, so a
// freed ALLOC range never silently comes back on the next touch.
const (
	stackZoneFloor = tern.StackTopOffset - tern.StackMaxBytes
	allocZoneTop   = stackZoneFloor
)

// checkUserRange verifies that [addr, addr+n) lies inside t's window.
func (t *Task) checkUserRange(addr guestarch.Addr, n uint64) error {
	end, ok := addr.AddLength(n)
	if !ok || addr < t.window || end > t.window+tern.WindowBytes {
		return ternerr.ErrBadAddress
	}
	return nil
}

// resolveFault services a user page fault. Only a write miss in the
// faulting task's own stack zone is legitimate; it maps one zeroed frame.
// Everything else reports false and the caller kills the task.
func (k *Kernel) resolveFault(t *Task, addr guestarch.Addr, at guestarch.AccessType) bool {
	if !at.Write {
		return false
	}
	off := addr - t.window
	if addr < t.window || off < stackZoneFloor || off >= tern.StackTopOffset {
		return false
	}
	frame, err := k.frames.AllocateZeroed()
	if err != nil {
		log.Warningf("%v: stack growth at %#x: %v", t, addr, err)
		return false
	}
	opts := pagetables.MapOpts{AccessType: guestarch.ReadWrite, User: true}
	if err := t.pt.MapPage(addr.RoundDown(), frame, opts); err != nil {
		k.mustFreeFrame(frame)
		log.Warningf("%v: mapping stack page %#x: %v", t, addr.RoundDown(), err)
		return false
	}
	demandPages.Increment()
	return true
}

// CopyIn copies n bytes of t's memory at addr into a fresh buffer. A fault
// on an unmapped stack page is resolved in place; any other miss is
// ErrBadAddress.
func (t *Task) CopyIn(addr guestarch.Addr, n uint64) ([]byte, error) {
	if err := t.checkUserRange(addr, n); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	for {
		err := t.k.machine.CopyIn(t.pt, addr, p)
		if err == nil {
			return p, nil
		}
		f, ok := err.(*machine.Fault)
		if !ok || !t.k.resolveFault(t, f.Addr, f.Access) {
			return nil, ternerr.ErrBadAddress
		}
	}
}

// CopyOut writes p into t's memory at addr, resolving stack faults the
// same way CopyIn does.
func (t *Task) CopyOut(addr guestarch.Addr, p []byte) error {
	if err := t.checkUserRange(addr, uint64(len(p))); err != nil {
		return err
	}
	for {
		err := t.k.machine.CopyOut(t.pt, addr, p)
		if err == nil {
			return nil
		}
		f, ok := err.(*machine.Fault)
		if !ok || !t.k.resolveFault(t, f.Addr, f.Access) {
			return ternerr.ErrBadAddress
		}
	}
}

// CopyInString reads an (addr, len) string argument, bounded by max.
func (t *Task) CopyInString(addr guestarch.Addr, n, max uint64) (string, error) {
	if n > max {
		return "", ternerr.ErrBadArgument
	}
	p, err := t.CopyIn(addr, n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// CopyOutUint64 writes a little-endian uint64 to addr.
func (t *Task) CopyOutUint64(addr guestarch.Addr, v uint64) error {
	var p [8]byte
	for i := range p {
		p[i] = byte(v >> (8 * i))
	}
	return t.CopyOut(addr, p[:])
}

// CopyOutUint32 writes a little-endian uint32 to addr.
func (t *Task) CopyOutUint32(addr guestarch.Addr, v uint32) error {
	var p [4]byte
	for i := range p {
		p[i] = byte(v >> (8 * i))
	}
	return t.CopyOut(addr, p[:])
}

// Alloc maps n bytes of fresh zeroed memory in t's ALLOC zone and returns
// the placement address. The zone is first fit, page granular, searched
// from a rotating hint so freed space is reused.
func (k *Kernel) Alloc(t *Task, n uint64) (guestarch.Addr, error) {
	if n == 0 || n > allocZoneTop-tern.MmapOffset {
		return 0, ternerr.ErrBadArgument
	}
	end, ok := guestarch.Addr(n).RoundUp()
	if !ok {
		return 0, ternerr.ErrBadArgument
	}
	pages := uint64(end) / guestarch.PageSize

	base, err := k.findAllocRun(t, pages)
	if err != nil {
		return 0, err
	}

	var cu cleanup.Cleanup
	defer cu.Clean()
	for i := uint64(0); i < pages; i++ {
		addr := base + guestarch.Addr(i*guestarch.PageSize)
		frame, err := k.frames.AllocateZeroed()
		if err != nil {
			return 0, err
		}
		opts := pagetables.MapOpts{AccessType: guestarch.ReadWrite, User: true}
		if err := t.pt.MapPage(addr, frame, opts); err != nil {
			k.mustFreeFrame(frame)
			return 0, err
		}
		cu.Add(func() {
			k.unmapAndFree(t, addr, guestarch.PageSize)
		})
	}
	cu.Release()

	t.allocHint = base + guestarch.Addr(pages*guestarch.PageSize)
	return base, nil
}

// findAllocRun locates pages consecutive unmapped pages in t's ALLOC zone.
func (k *Kernel) findAllocRun(t *Task, pages uint64) (guestarch.Addr, error) {
	zoneBase := t.window + tern.MmapOffset
	zoneTop := t.window + allocZoneTop
	start := t.allocHint
	if start < zoneBase || start >= zoneTop {
		start = zoneBase
	}

	// Two passes: hint to top, then zone base to hint.
	for _, span := range [][2]guestarch.Addr{{start, zoneTop}, {zoneBase, start}} {
		var run uint64
		var base guestarch.Addr
		for addr := span[0]; addr < span[1]; addr += guestarch.PageSize {
			if _, _, ok := t.pt.Lookup(addr); ok {
				run = 0
				continue
			}
			if run == 0 {
				base = addr
			}
			run++
			if run == pages {
				return base, nil
			}
		}
	}
	return 0, ternerr.ErrNoMemory
}

// Free unmaps [addr, addr+n) from t's window and returns its frames. The
// range must be page aligned and wholly mapped.
func (k *Kernel) Free(t *Task, addr guestarch.Addr, n uint64) error {
	if n == 0 || !addr.IsPageAligned() {
		return ternerr.ErrBadArgument
	}
	end, ok := guestarch.Addr(n).RoundUp()
	if !ok {
		return ternerr.ErrBadArgument
	}
	if err := t.checkUserRange(addr, uint64(end)); err != nil {
		return err
	}
	frames, err := t.pt.Unmap(addr, uint64(end))
	if err != nil {
		return err
	}
	for _, f := range frames {
		k.mustFreeFrame(f)
	}
	return nil
}

// unmapAndFree releases one mapped run, logging rather than failing;
// it backs cleanup paths where the range is known mapped.
func (k *Kernel) unmapAndFree(t *Task, addr guestarch.Addr, n uint64) {
	frames, err := t.pt.Unmap(addr, n)
	if err != nil {
		log.Warningf("%v: unwinding %#x+%#x: %v", t, addr, n, err)
		return
	}
	for _, f := range frames {
		k.mustFreeFrame(f)
	}
}

// mustFreeFrame returns a frame to the allocator. Failure means the
// kernel's own accounting is corrupt.
func (k *Kernel) mustFreeFrame(f guestarch.PhysAddr) {
	if err := k.frames.Free(f); err != nil {
		panic("kernel: freeing owned frame " + err.Error())
	}
}

// reclaimWindow unmaps every page of t's window and frees the frames. The
// page tables are the ledger: anything the task owned is reachable here.
func (k *Kernel) reclaimWindow(t *Task) {
	for off := guestarch.Addr(0); off < tern.WindowBytes; off += guestarch.PageSize {
		addr := t.window + off
		if _, _, ok := t.pt.Lookup(addr); !ok {
			continue
		}
		k.unmapAndFree(t, addr, guestarch.PageSize)
	}
}
