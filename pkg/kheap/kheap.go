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

// Package kheap implements the kernel heap.
//
// The heap lives in guest memory in the kernel half, starting at Base. It
// grows a page at a time, taking frames from the frame allocator and mapping
// them through the kernel page tables; because the heap shares the kernel's
// PGD slot, growth is immediately visible in every address space derived
// from the kernel tables.
//
// Blocks carry a 16-byte header (size word and free-list link) in guest
// memory itself. Allocation is first fit with block splitting; freeing
// coalesces with both neighbors. Pages mapped into the heap are never
// returned to the frame allocator; a failed allocation can still leave the
// heap larger than before.
package kheap

import (
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/pagetables"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

const (
	// Base is the first virtual address of the heap. It sits above the
	// physical direct map within the same 512GiB kernel PGD slot, so
	// guest RAM must stay below 1GiB.
	Base guestarch.Addr = 0xffff_8000_4000_0000

	// MaxBytes caps heap growth.
	MaxBytes uint64 = 4 << 20

	headerSize = 16
	blockAlign = 16
	minBlock   = headerSize + blockAlign

	// freeFlag marks a block header as free. Sizes are multiples of 16,
	// so the low bit is available.
	freeFlag = 1
)

// Heap is the kernel allocator. It is not safe for concurrent use; the
// kernel loop serializes all callers.
type Heap struct {
	mem    *physmem.Memory
	pt     *pagetables.PageTables
	frames *pgalloc.FrameAllocator

	// end is one past the highest mapped heap address.
	end guestarch.Addr

	// free heads the address-ordered free list, 0 when empty.
	free guestarch.Addr

	used uint64
}

// New returns an empty heap that maps its pages through the kernel page
// tables pt.
func New(mem *physmem.Memory, pt *pagetables.PageTables, frames *pgalloc.FrameAllocator) *Heap {
	return &Heap{mem: mem, pt: pt, frames: frames, end: Base}
}

// translate resolves a heap virtual address to its physical address. Heap
// metadata addresses are always mapped; a miss means the heap's own
// bookkeeping is corrupt.
func (h *Heap) translate(addr guestarch.Addr) guestarch.PhysAddr {
	frame, _, ok := h.pt.Lookup(addr)
	if !ok {
		panic("kheap: unmapped heap address")
	}
	return frame + guestarch.PhysAddr(addr.PageOffset())
}

// Header words are 8-byte aligned and so never straddle a page.

func (h *Heap) read64(addr guestarch.Addr) uint64 {
	return h.mem.Read64(h.translate(addr))
}

func (h *Heap) write64(addr guestarch.Addr, v uint64) {
	h.mem.Write64(h.translate(addr), v)
}

func (h *Heap) blockSize(b guestarch.Addr) uint64 {
	return h.read64(b) &^ freeFlag
}

func (h *Heap) next(b guestarch.Addr) guestarch.Addr {
	return guestarch.Addr(h.read64(b + 8))
}

func (h *Heap) setHeader(b guestarch.Addr, size uint64, free bool, next guestarch.Addr) {
	w := size
	if free {
		w |= freeFlag
	}
	h.write64(b, w)
	h.write64(b+8, uint64(next))
}

// Alloc returns the address of a zero-filled block of at least n bytes.
func (h *Heap) Alloc(n uint64) (guestarch.Addr, error) {
	if n == 0 {
		return 0, ternerr.ErrBadArgument
	}
	need := headerSize + (n+blockAlign-1)&^uint64(blockAlign-1)
	if need < minBlock {
		need = minBlock
	}
	addr, ok := h.take(need)
	if !ok {
		if err := h.grow(need); err != nil {
			return 0, err
		}
		if addr, ok = h.take(need); !ok {
			return 0, ternerr.ErrNoMemory
		}
	}
	h.zero(addr, need-headerSize)
	return addr, nil
}

// take carves a block of exactly need bytes out of the first free block
// that fits.
func (h *Heap) take(need uint64) (guestarch.Addr, bool) {
	var prev guestarch.Addr
	for b := h.free; b != 0; b = h.next(b) {
		size := h.blockSize(b)
		if size < need {
			prev = b
			continue
		}
		next := h.next(b)
		if size-need >= minBlock {
			rest := b + guestarch.Addr(need)
			h.setHeader(rest, size-need, true, next)
			next = rest
			size = need
		}
		if prev == 0 {
			h.free = next
		} else {
			h.write64(prev+8, uint64(next))
		}
		h.write64(b, size)
		h.used += size
		return b + headerSize, true
	}
	return 0, false
}

// grow maps enough fresh pages past end to hold a block of need bytes and
// adds them to the free list. Mapped pages stay in the heap even when grow
// ultimately fails partway.
func (h *Heap) grow(need uint64) error {
	bytes := (need + guestarch.PageSize - 1) &^ uint64(guestarch.PageSize-1)
	if uint64(h.end-Base)+bytes > MaxBytes {
		return ternerr.ErrNoMemory
	}
	start := h.end
	for h.end < start+guestarch.Addr(bytes) {
		frame, err := h.frames.AllocateZeroed()
		if err != nil {
			h.release(start)
			return err
		}
		if err := h.pt.MapPage(h.end, frame, pagetables.MapOpts{AccessType: guestarch.ReadWrite, Global: true}); err != nil {
			if ferr := h.frames.Free(frame); ferr != nil {
				panic(ferr)
			}
			h.release(start)
			return err
		}
		h.end += guestarch.PageSize
	}
	h.release(start)
	return nil
}

// release hands [start, h.end) to the free list as one block.
func (h *Heap) release(start guestarch.Addr) {
	if size := uint64(h.end - start); size > 0 {
		h.addFree(start, size)
	}
}

// Free returns a block obtained from Alloc. Freeing a block twice fails
// with ErrDoubleFree; addresses that cannot be a block fail with
// ErrBadArgument. Free trusts addr to be a block start otherwise.
func (h *Heap) Free(addr guestarch.Addr) error {
	b := addr - headerSize
	if addr < Base+headerSize || addr >= h.end || uint64(b-Base)%blockAlign != 0 {
		return ternerr.ErrBadArgument
	}
	w := h.read64(b)
	if w&freeFlag != 0 {
		return ternerr.ErrDoubleFree
	}
	size := w
	if size < minBlock || size%blockAlign != 0 || b+guestarch.Addr(size) > h.end {
		return ternerr.ErrBadArgument
	}
	h.used -= size
	h.addFree(b, size)
	return nil
}

// addFree inserts the block at b into the address-ordered free list,
// merging it with adjacent free blocks.
func (h *Heap) addFree(b guestarch.Addr, size uint64) {
	var prev guestarch.Addr
	cur := h.free
	for cur != 0 && cur < b {
		prev = cur
		cur = h.next(cur)
	}
	if cur != 0 && b+guestarch.Addr(size) == cur {
		size += h.blockSize(cur)
		cur = h.next(cur)
	}
	if prev != 0 && prev+guestarch.Addr(h.blockSize(prev)) == b {
		h.setHeader(prev, h.blockSize(prev)+size, true, cur)
		return
	}
	h.setHeader(b, size, true, cur)
	if prev == 0 {
		h.free = b
	} else {
		h.write64(prev+8, uint64(b))
	}
}

func (h *Heap) zero(addr guestarch.Addr, n uint64) {
	for n > 0 {
		chunk := guestarch.PageSize - addr.PageOffset()
		if chunk > n {
			chunk = n
		}
		h.mem.Zero(h.translate(addr), chunk)
		addr += guestarch.Addr(chunk)
		n -= chunk
	}
}

// ReadBytes copies len(p) bytes out of the heap starting at addr.
func (h *Heap) ReadBytes(addr guestarch.Addr, p []byte) {
	for len(p) > 0 {
		chunk := guestarch.PageSize - addr.PageOffset()
		if chunk > uint64(len(p)) {
			chunk = uint64(len(p))
		}
		h.mem.ReadBytes(h.translate(addr), p[:chunk])
		addr += guestarch.Addr(chunk)
		p = p[chunk:]
	}
}

// WriteBytes copies p into the heap starting at addr.
func (h *Heap) WriteBytes(addr guestarch.Addr, p []byte) {
	for len(p) > 0 {
		chunk := guestarch.PageSize - addr.PageOffset()
		if chunk > uint64(len(p)) {
			chunk = uint64(len(p))
		}
		h.mem.WriteBytes(h.translate(addr), p[:chunk])
		addr += guestarch.Addr(chunk)
		p = p[chunk:]
	}
}

// MappedBytes reports how much address space the heap has mapped.
func (h *Heap) MappedBytes() uint64 {
	return uint64(h.end - Base)
}

// UsedBytes reports bytes held by live blocks, headers included.
func (h *Heap) UsedBytes() uint64 {
	return h.used
}
