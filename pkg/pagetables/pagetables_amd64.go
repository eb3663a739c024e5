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
	"tern.dev/tern/pkg/guestarch"
)

// Table geometry.
const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	entriesPerTable = 512
	entrySize       = 8
)

// Bits in page table entries.
const (
	present      = 0x001
	writable     = 0x002
	user         = 0x004
	accessed     = 0x020
	dirty        = 0x040
	global       = 0x100
	executeNo    = 1 << 63
	addressMask  = 0x000ffffffffff000
	intermediate = present | writable | user | accessed
)

func pgdIndex(addr guestarch.Addr) int { return int(addr>>pgdShift) & (entriesPerTable - 1) }
func pudIndex(addr guestarch.Addr) int { return int(addr>>pudShift) & (entriesPerTable - 1) }
func pmdIndex(addr guestarch.Addr) int { return int(addr>>pmdShift) & (entriesPerTable - 1) }
func pteIndex(addr guestarch.Addr) int { return int(addr>>pteShift) & (entriesPerTable - 1) }

func entryAddr(table guestarch.PhysAddr, index int) guestarch.PhysAddr {
	return table + guestarch.PhysAddr(index*entrySize)
}

func tableFrom(entry uint64) guestarch.PhysAddr {
	return guestarch.PhysAddr(entry & addressMask)
}

// encode builds a leaf entry for frame with opts. An entry without read
// access does not exist on x86; Read is implied by present.
func encode(frame guestarch.PhysAddr, opts MapOpts) uint64 {
	v := uint64(frame) | present | accessed
	if opts.AccessType.Write {
		v |= writable | dirty
	}
	if !opts.AccessType.Execute {
		v |= executeNo
	}
	if opts.User {
		v |= user
	}
	if opts.Global {
		v |= global
	}
	return v
}

// decode splits a leaf entry back into frame and opts.
func decode(entry uint64) (guestarch.PhysAddr, MapOpts) {
	return tableFrom(entry), MapOpts{
		AccessType: guestarch.AccessType{
			Read:    true,
			Write:   entry&writable != 0,
			Execute: entry&executeNo == 0,
		},
		User:   entry&user != 0,
		Global: entry&global != 0,
	}
}
