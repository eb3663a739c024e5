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
	"testing"

	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

// testAllocator backs page tables with real frames and counts them so tests
// can assert that unmap and release return every table they took.
type testAllocator struct {
	frames *pgalloc.FrameAllocator

	allocated int
	freed     int

	// failAfter, when non-zero, makes NewTable fail once allocated
	// reaches it.
	failAfter int
}

func (a *testAllocator) NewTable() (guestarch.PhysAddr, error) {
	if a.failAfter != 0 && a.allocated >= a.failAfter {
		return 0, ternerr.ErrNoMemory
	}
	addr, err := a.frames.AllocateZeroed()
	if err != nil {
		return 0, err
	}
	a.allocated++
	return addr, nil
}

func (a *testAllocator) FreeTable(addr guestarch.PhysAddr) {
	if err := a.frames.Free(addr); err != nil {
		panic(err)
	}
	a.freed++
}

func (a *testAllocator) outstanding() int {
	return a.allocated - a.freed
}

func testEnv(t *testing.T) (*physmem.Memory, *testAllocator, *PageTables) {
	t.Helper()
	mem, err := physmem.New(256 * guestarch.PageSize)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	a := &testAllocator{frames: pgalloc.New(mem, 0)}
	pt, err := New(mem, a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mem, a, pt
}

type mapping struct {
	start  guestarch.Addr
	length uint64
	phys   guestarch.PhysAddr
	opts   MapOpts
}

// checkMappings verifies that exactly the given mappings are visible through
// Lookup, probing one page beyond each range for absence.
func checkMappings(t *testing.T, pt *PageTables, ms []mapping) {
	t.Helper()
	for _, m := range ms {
		for off := uint64(0); off < m.length; off += guestarch.PageSize {
			addr := m.start + guestarch.Addr(off)
			frame, opts, ok := pt.Lookup(addr)
			if !ok {
				t.Errorf("Lookup(%#x): not mapped, want mapped", addr)
				continue
			}
			if want := m.phys + guestarch.PhysAddr(off); frame != want {
				t.Errorf("Lookup(%#x): frame %#x, want %#x", addr, frame, want)
			}
			if opts != m.opts {
				t.Errorf("Lookup(%#x): opts %+v, want %+v", addr, opts, m.opts)
			}
		}
		if _, _, ok := pt.Lookup(m.start + guestarch.Addr(m.length)); ok {
			t.Errorf("Lookup(%#x): mapped, want unmapped past end", m.start+guestarch.Addr(m.length))
		}
	}
}

func TestMapLookup(t *testing.T) {
	_, _, pt := testEnv(t)

	m := mapping{
		start:  0x400000,
		length: 3 * guestarch.PageSize,
		phys:   0x10000,
		opts:   MapOpts{AccessType: guestarch.ReadWrite, User: true},
	}
	if err := pt.Map(m.start, m.length, m.phys, m.opts); err != nil {
		t.Fatalf("Map: %v", err)
	}
	checkMappings(t, pt, []mapping{m})

	// Offsets within a page resolve to the containing page's frame.
	frame, _, ok := pt.Lookup(m.start + guestarch.PageSize + 0x123)
	if !ok || frame != m.phys+guestarch.PhysAddr(guestarch.PageSize) {
		t.Errorf("Lookup mid-page: frame %#x ok %v, want %#x true", frame, ok, m.phys+guestarch.PhysAddr(guestarch.PageSize))
	}
}

func TestTranslatePage(t *testing.T) {
	_, _, pt := testEnv(t)

	if err := pt.MapPage(0x400000, 0x3000, MapOpts{AccessType: guestarch.ReadExec, User: true}); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	frame, access, user, ok := pt.TranslatePage(0x400fff)
	if !ok {
		t.Fatal("TranslatePage: not mapped")
	}
	if frame != 0x3000 || access != guestarch.ReadExec || !user {
		t.Errorf("TranslatePage: got frame %#x access %v user %v", frame, access, user)
	}
	if _, _, _, ok := pt.TranslatePage(0x401000); ok {
		t.Error("TranslatePage past end: mapped, want unmapped")
	}
}

func TestMapAlreadyMapped(t *testing.T) {
	_, _, pt := testEnv(t)

	opts := MapOpts{AccessType: guestarch.ReadWrite, User: true}
	if err := pt.MapPage(0x400000, 0x5000, opts); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	// Identical remap is a no-op.
	if err := pt.MapPage(0x400000, 0x5000, opts); err != nil {
		t.Errorf("identical remap: %v, want nil", err)
	}

	// Different frame or options is a conflict.
	if err := pt.MapPage(0x400000, 0x6000, opts); err != ternerr.ErrAlreadyMapped {
		t.Errorf("remap to new frame: %v, want ErrAlreadyMapped", err)
	}
	if err := pt.MapPage(0x400000, 0x5000, MapOpts{AccessType: guestarch.Read, User: true}); err != ternerr.ErrAlreadyMapped {
		t.Errorf("remap with new opts: %v, want ErrAlreadyMapped", err)
	}

	// The original mapping survives the failed remaps.
	checkMappings(t, pt, []mapping{{0x400000, guestarch.PageSize, 0x5000, opts}})
}

func TestMapRollback(t *testing.T) {
	_, a, pt := testEnv(t)

	opts := MapOpts{AccessType: guestarch.ReadWrite, User: true}
	before := a.outstanding()

	// Fail table allocation partway through a map that spans two PTE
	// tables, then verify no page of the range is left mapped and every
	// table allocated by the failed call came back.
	a.failAfter = a.allocated + 3
	start := guestarch.Addr(0x200000 - 2*guestarch.PageSize)
	err := pt.Map(start, 4*guestarch.PageSize, 0x10000, opts)
	a.failAfter = 0
	if err != ternerr.ErrNoMemory {
		t.Fatalf("Map with failing allocator: %v, want ErrNoMemory", err)
	}
	for off := uint64(0); off < 4*guestarch.PageSize; off += guestarch.PageSize {
		if _, _, ok := pt.Lookup(start + guestarch.Addr(off)); ok {
			t.Errorf("Lookup(%#x): mapped after failed Map", start+guestarch.Addr(off))
		}
	}
	if got := a.outstanding(); got != before {
		t.Errorf("outstanding tables after failed Map: %d, want %d", got, before)
	}
}

func TestUnmap(t *testing.T) {
	_, _, pt := testEnv(t)

	opts := MapOpts{AccessType: guestarch.ReadWrite, User: true}
	if err := pt.Map(0x400000, 3*guestarch.PageSize, 0x10000, opts); err != nil {
		t.Fatalf("Map: %v", err)
	}

	frames, err := pt.Unmap(0x400000, 3*guestarch.PageSize)
	if err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	want := []guestarch.PhysAddr{0x10000, 0x11000, 0x12000}
	if len(frames) != len(want) {
		t.Fatalf("Unmap returned %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frames[%d] = %#x, want %#x", i, frames[i], want[i])
		}
	}
	for off := uint64(0); off < 3*guestarch.PageSize; off += guestarch.PageSize {
		if _, _, ok := pt.Lookup(0x400000 + guestarch.Addr(off)); ok {
			t.Errorf("Lookup(%#x): still mapped after Unmap", 0x400000+off)
		}
	}
}

func TestUnmapHole(t *testing.T) {
	_, _, pt := testEnv(t)

	opts := MapOpts{AccessType: guestarch.ReadWrite, User: true}
	if err := pt.MapPage(0x400000, 0x10000, opts); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	if err := pt.MapPage(0x402000, 0x12000, opts); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	// The middle page is unmapped, so the whole unmap must refuse and
	// leave both mapped pages alone.
	if _, err := pt.Unmap(0x400000, 3*guestarch.PageSize); err != ternerr.ErrNotMapped {
		t.Fatalf("Unmap with hole: %v, want ErrNotMapped", err)
	}
	checkMappings(t, pt, []mapping{
		{0x400000, guestarch.PageSize, 0x10000, opts},
		{0x402000, guestarch.PageSize, 0x12000, opts},
	})
}

func TestUnmapPrunesTables(t *testing.T) {
	_, a, pt := testEnv(t)

	opts := MapOpts{AccessType: guestarch.ReadWrite, User: true}
	if err := pt.Map(0x400000, 4*guestarch.PageSize, 0x10000, opts); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, err := pt.Unmap(0x400000, 4*guestarch.PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	// Only the root should remain.
	if got := a.outstanding(); got != 1 {
		t.Errorf("outstanding tables after full unmap: %d, want 1 (root)", got)
	}
}

func TestBadRanges(t *testing.T) {
	_, _, pt := testEnv(t)

	opts := MapOpts{AccessType: guestarch.ReadWrite, User: true}
	for _, tc := range []struct {
		name   string
		addr   guestarch.Addr
		length uint64
	}{
		{"unaligned addr", 0x400123, guestarch.PageSize},
		{"unaligned length", 0x400000, guestarch.PageSize + 1},
		{"zero length", 0x400000, 0},
		{"noncanonical", 0x800000000000, guestarch.PageSize},
		{"wraps", ^guestarch.Addr(0) &^ (guestarch.PageSize - 1), 2 * guestarch.PageSize},
		{"straddles halves", guestarch.LowerTop & ^guestarch.Addr(guestarch.PageSize-1), 2 * guestarch.PageSize},
	} {
		if err := pt.Map(tc.addr, tc.length, 0x10000, opts); err != ternerr.ErrBadAddress {
			t.Errorf("%s: Map = %v, want ErrBadAddress", tc.name, err)
		}
		if _, err := pt.Unmap(tc.addr, tc.length); err != ternerr.ErrBadAddress {
			t.Errorf("%s: Unmap = %v, want ErrBadAddress", tc.name, err)
		}
	}

	if err := pt.MapPage(0x400000, 0x10123, opts); err != ternerr.ErrBadAddress {
		t.Errorf("unaligned frame: MapPage = %v, want ErrBadAddress", err)
	}
}

func TestNewWithKernel(t *testing.T) {
	_, a, kpt := testEnv(t)

	// A kernel mapping in the upper half, installed before any user space
	// is created, must be visible in every derived space.
	kaddr := guestarch.Addr(guestarch.UpperBottom + 0x4000)
	if err := kpt.MapPage(kaddr, 0x20000, MapOpts{AccessType: guestarch.ReadWrite, Global: true}); err != nil {
		t.Fatalf("kernel MapPage: %v", err)
	}

	upt, err := NewWithKernel(kpt)
	if err != nil {
		t.Fatalf("NewWithKernel: %v", err)
	}
	frame, opts, ok := upt.Lookup(kaddr)
	if !ok || frame != 0x20000 {
		t.Fatalf("kernel mapping in user space: frame %#x ok %v", frame, ok)
	}
	if opts.User {
		t.Error("kernel mapping marked user-accessible")
	}

	// A user mapping belongs to one space only.
	if err := upt.MapPage(0x400000, 0x10000, MapOpts{AccessType: guestarch.ReadWrite, User: true}); err != nil {
		t.Fatalf("user MapPage: %v", err)
	}
	if _, _, ok := kpt.Lookup(0x400000); ok {
		t.Error("user mapping leaked into kernel space")
	}

	// Releasing the user space returns its root and lower-half tables but
	// leaves the shared kernel hierarchy alone.
	before := a.outstanding()
	if _, err := upt.Unmap(0x400000, guestarch.PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	upt.Release()
	if got := a.outstanding(); got != before-4 {
		t.Errorf("outstanding tables after Release: %d, want %d", got, before-4)
	}
	if _, _, ok := kpt.Lookup(kaddr); !ok {
		t.Error("kernel mapping lost after user space release")
	}
}
