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

// Package bitmap provides a fixed-size bit set with fast scans for the
// first set or clear bit. It backs the physical frame allocator, so the
// set size is fixed at creation and out-of-range indices are treated as
// caller bugs.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size bit set. The zero value is an empty set of size
// zero; use New.
type Bitmap struct {
	// size is the number of valid bits.
	size uint32

	// numOnes is the number of set bits.
	numOnes uint32

	// blocks holds the bits, 64 per entry, least significant bit first.
	blocks []uint64
}

// New creates a Bitmap of the given size with all bits clear.
func New(size uint32) Bitmap {
	return Bitmap{
		size:   size,
		blocks: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes returns the number of set bits.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// IsEmpty returns true iff no bit is set.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

func (b *Bitmap) check(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range for bitmap of size %d", i, b.size))
	}
}

// Contains returns true iff bit i is set.
func (b *Bitmap) Contains(i uint32) bool {
	b.check(i)
	return b.blocks[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i. Setting an already-set bit is a no-op.
func (b *Bitmap) Add(i uint32) {
	b.check(i)
	block, mask := i/64, uint64(1)<<(i%64)
	if b.blocks[block]&mask == 0 {
		b.blocks[block] |= mask
		b.numOnes++
	}
}

// Remove clears bit i. Clearing an already-clear bit is a no-op.
func (b *Bitmap) Remove(i uint32) {
	b.check(i)
	block, mask := i/64, uint64(1)<<(i%64)
	if b.blocks[block]&mask != 0 {
		b.blocks[block] &^= mask
		b.numOnes--
	}
}

// FirstZero returns the first clear bit at or after start, searching to the
// end of the bitmap. ok is false if every bit in that range is set.
func (b *Bitmap) FirstZero(start uint32) (bit uint32, ok bool) {
	if start >= b.size {
		return 0, false
	}
	i := int(start / 64)
	w := b.blocks[i] | ((uint64(1) << (start % 64)) - 1)
	for {
		if w != ^uint64(0) {
			r := uint32(bits.TrailingZeros64(^w)) + uint32(i*64)
			if r >= b.size {
				return 0, false
			}
			return r, true
		}
		if i++; i == len(b.blocks) {
			return 0, false
		}
		w = b.blocks[i]
	}
}

// FirstOne returns the first set bit at or after start, searching to the
// end of the bitmap. ok is false if every bit in that range is clear.
func (b *Bitmap) FirstOne(start uint32) (bit uint32, ok bool) {
	if start >= b.size {
		return 0, false
	}
	i := int(start / 64)
	w := b.blocks[i] &^ ((uint64(1) << (start % 64)) - 1)
	for {
		if w != 0 {
			return uint32(bits.TrailingZeros64(w)) + uint32(i*64), true
		}
		if i++; i == len(b.blocks) {
			return 0, false
		}
		w = b.blocks[i]
	}
}
