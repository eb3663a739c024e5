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

// Package physmem provides the guest machine's physical memory.
//
// All memory-resident state of the guest lives here: page tables, user
// code and data, stacks, kernel heap blocks. The kernel addresses it by
// guest physical address; the machine's MMU addresses it through page
// tables stored within it.
//
// Accessors panic on out-of-range addresses. A physical address outside
// DRAM can only be produced by corrupted kernel bookkeeping, and the
// kernel's policy for corrupted state is to stop rather than continue.
package physmem

import (
	"encoding/binary"
	"fmt"

	"tern.dev/tern/pkg/guestarch"
)

// Memory is a fixed-size guest physical memory.
type Memory struct {
	data []byte
}

// New creates a Memory of the given size, zero-filled. The size must be a
// non-zero multiple of the page size.
func New(size uint64) (*Memory, error) {
	if size == 0 || size%guestarch.PageSize != 0 {
		return nil, fmt.Errorf("physical memory size %#x is not a multiple of the page size", size)
	}
	return &Memory{data: make([]byte, size)}, nil
}

// Size returns the total size in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Frames returns the total number of page frames.
func (m *Memory) Frames() uint64 {
	return m.Size() / guestarch.PageSize
}

func (m *Memory) check(addr guestarch.PhysAddr, length uint64) {
	end := uint64(addr) + length
	if end < uint64(addr) || end > m.Size() {
		panic(fmt.Sprintf("physical access [%#x, %#x) outside DRAM of size %#x", addr, end, m.Size()))
	}
}

// Read8 reads one byte at addr.
func (m *Memory) Read8(addr guestarch.PhysAddr) uint8 {
	m.check(addr, 1)
	return m.data[addr]
}

// Read16 reads a little-endian uint16 at addr.
func (m *Memory) Read16(addr guestarch.PhysAddr) uint16 {
	m.check(addr, 2)
	return binary.LittleEndian.Uint16(m.data[addr:])
}

// Read32 reads a little-endian uint32 at addr.
func (m *Memory) Read32(addr guestarch.PhysAddr) uint32 {
	m.check(addr, 4)
	return binary.LittleEndian.Uint32(m.data[addr:])
}

// Read64 reads a little-endian uint64 at addr.
func (m *Memory) Read64(addr guestarch.PhysAddr) uint64 {
	m.check(addr, 8)
	return binary.LittleEndian.Uint64(m.data[addr:])
}

// Write8 writes one byte at addr.
func (m *Memory) Write8(addr guestarch.PhysAddr, v uint8) {
	m.check(addr, 1)
	m.data[addr] = v
}

// Write16 writes a little-endian uint16 at addr.
func (m *Memory) Write16(addr guestarch.PhysAddr, v uint16) {
	m.check(addr, 2)
	binary.LittleEndian.PutUint16(m.data[addr:], v)
}

// Write32 writes a little-endian uint32 at addr.
func (m *Memory) Write32(addr guestarch.PhysAddr, v uint32) {
	m.check(addr, 4)
	binary.LittleEndian.PutUint32(m.data[addr:], v)
}

// Write64 writes a little-endian uint64 at addr.
func (m *Memory) Write64(addr guestarch.PhysAddr, v uint64) {
	m.check(addr, 8)
	binary.LittleEndian.PutUint64(m.data[addr:], v)
}

// ReadBytes copies len(b) bytes starting at addr into b.
func (m *Memory) ReadBytes(addr guestarch.PhysAddr, b []byte) {
	m.check(addr, uint64(len(b)))
	copy(b, m.data[addr:])
}

// WriteBytes copies b into memory starting at addr.
func (m *Memory) WriteBytes(addr guestarch.PhysAddr, b []byte) {
	m.check(addr, uint64(len(b)))
	copy(m.data[addr:], b)
}

// Zero clears length bytes starting at addr.
func (m *Memory) Zero(addr guestarch.PhysAddr, length uint64) {
	m.check(addr, length)
	clear(m.data[addr : uint64(addr)+length])
}

// Slice returns the memory [addr, addr+length) aliased as a byte slice.
//
// Preconditions: the caller must not retain the slice across operations
// that could logically reassign the underlying frames.
func (m *Memory) Slice(addr guestarch.PhysAddr, length uint64) []byte {
	m.check(addr, length)
	return m.data[addr : uint64(addr)+length]
}
