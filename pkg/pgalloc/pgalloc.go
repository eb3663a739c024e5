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

// Package pgalloc tracks ownership of physical page frames.
//
// One bit per frame: set means the frame is owned by exactly one consumer
// (a page table, a heap extension, or a mapped user page) until it is
// explicitly freed. The allocator is the only authority on frame ownership;
// every frame a process receives is returned through Free exactly once.
//
// The allocator is a boot-time singleton mutated only from the kernel loop,
// which is the single-core, interrupts-disabled discipline of the design:
// nothing can preempt an edit, so no lock is taken.
package pgalloc

import (
	"tern.dev/tern/pkg/bitmap"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/physmem"
)

// FrameAllocator hands out single 4 KiB frames from guest physical memory.
type FrameAllocator struct {
	mem *physmem.Memory

	// base is the first allocatable address. Frames below it hold the
	// kernel image and boot structures and are permanently reserved.
	base guestarch.PhysAddr

	// used has one bit per allocatable frame.
	used bitmap.Bitmap

	// next is a scan hint: no clear bit exists below it.
	next uint32
}

// New creates a FrameAllocator over mem. The first reserved bytes of memory
// are marked permanently used; reserved is rounded up to a page boundary.
func New(mem *physmem.Memory, reserved uint64) *FrameAllocator {
	reserved = (reserved + guestarch.PageMask) &^ uint64(guestarch.PageMask)
	if reserved >= mem.Size() {
		panic("reserved region leaves no allocatable frames")
	}
	return &FrameAllocator{
		mem:  mem,
		base: guestarch.PhysAddr(reserved),
		used: bitmap.New(uint32((mem.Size() - reserved) / guestarch.PageSize)),
	}
}

// TotalFrames returns the number of allocatable frames.
func (f *FrameAllocator) TotalFrames() uint32 {
	return f.used.Size()
}

// UsedFrames returns the number of frames currently owned by a consumer.
func (f *FrameAllocator) UsedFrames() uint32 {
	return f.used.GetNumOnes()
}

// FreeFrames returns the number of frames available for allocation.
func (f *FrameAllocator) FreeFrames() uint32 {
	return f.used.Size() - f.used.GetNumOnes()
}

func (f *FrameAllocator) frameAddr(bit uint32) guestarch.PhysAddr {
	return f.base + guestarch.PhysAddr(bit)*guestarch.PageSize
}

// Allocate returns the first free frame, without clearing its contents.
// It fails with ErrNoMemory when no free frame remains.
func (f *FrameAllocator) Allocate() (guestarch.PhysAddr, error) {
	bit, ok := f.used.FirstZero(f.next)
	if !ok {
		// The hint may have skipped frames freed below it.
		if bit, ok = f.used.FirstZero(0); !ok {
			return 0, ternerr.ErrNoMemory
		}
	}
	f.used.Add(bit)
	f.next = bit + 1
	return f.frameAddr(bit), nil
}

// AllocateZeroed returns the first free frame with its contents cleared.
func (f *FrameAllocator) AllocateZeroed() (guestarch.PhysAddr, error) {
	addr, err := f.Allocate()
	if err != nil {
		return 0, err
	}
	f.mem.Zero(addr, guestarch.PageSize)
	return addr, nil
}

// NewTable allocates a zeroed frame to hold a page table. Together with
// FreeTable it lets the FrameAllocator serve as the page-table allocator.
func (f *FrameAllocator) NewTable() (guestarch.PhysAddr, error) {
	return f.AllocateZeroed()
}

// FreeTable returns a table frame. Table frames never leave kernel hands,
// so a failing free means corrupt bookkeeping.
func (f *FrameAllocator) FreeTable(addr guestarch.PhysAddr) {
	if err := f.Free(addr); err != nil {
		panic(err)
	}
}

// Free returns a frame to the allocator. It fails with ErrBadFrame if addr
// is not an allocatable frame address and ErrDoubleFree if the frame is
// already free; the caller's bookkeeping is corrupt in either case and the
// kernel treats that as fatal.
func (f *FrameAllocator) Free(addr guestarch.PhysAddr) error {
	if !addr.IsPageAligned() || addr < f.base || uint64(addr) >= f.mem.Size() {
		return ternerr.ErrBadFrame
	}
	bit := uint32((addr - f.base) / guestarch.PageSize)
	if !f.used.Contains(bit) {
		return ternerr.ErrDoubleFree
	}
	f.used.Remove(bit)
	if bit < f.next {
		f.next = bit
	}
	return nil
}
