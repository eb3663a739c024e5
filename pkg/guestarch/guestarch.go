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

// Package guestarch defines the architectural types of the guest machine:
// addresses, page geometry, the register file and the privilege selectors.
//
// Everything that crosses the boundary between the kernel and the emulated
// CPU is expressed in these types, so that the machine, the loader and the
// kernel proper agree on the shape of execution state.
package guestarch

// Page geometry. The guest uses 4 KiB pages exclusively.
const (
	PageSize  = 1 << PageShift
	PageShift = 12
	PageMask  = PageSize - 1
)

// LowerTop and UpperBottom bound the canonical address hole of a 48-bit
// virtual address space. Addresses strictly inside (LowerTop, UpperBottom)
// cannot be mapped or dereferenced.
const (
	LowerTop    Addr = 0x00007fffffffffff
	UpperBottom Addr = 0xffff800000000000
)

// Addr is a guest virtual address.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ PageMask
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// false iff rounding up wrapped around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = (v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into its containing page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v is page aligned.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength returns v + length. ok is false iff the sum wrapped around.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// IsCanonical returns true if v is outside the canonical hole.
func (v Addr) IsCanonical() bool {
	return v <= LowerTop || v >= UpperBottom
}

// PhysAddr is a guest physical address.
type PhysAddr uint64

// RoundDown returns the address rounded down to the nearest frame boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ PhysAddr(PageMask)
}

// IsPageAligned returns true if p is frame aligned.
func (p PhysAddr) IsPageAligned() bool {
	return p&PhysAddr(PageMask) == 0
}
