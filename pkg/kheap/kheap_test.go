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

package kheap

import (
	"bytes"
	"testing"

	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/pagetables"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

func testHeap(t *testing.T, pages uint64) (*Heap, *pagetables.PageTables, *pgalloc.FrameAllocator) {
	t.Helper()
	mem, err := physmem.New(pages * guestarch.PageSize)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	frames := pgalloc.New(mem, 0)
	pt, err := pagetables.New(mem, frames)
	if err != nil {
		t.Fatalf("pagetables.New: %v", err)
	}
	return New(mem, pt, frames), pt, frames
}

func TestAllocFreeReuse(t *testing.T) {
	h, _, _ := testHeap(t, 64)

	a, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a < Base {
		t.Fatalf("Alloc returned %#x below heap base", a)
	}

	pattern := bytes.Repeat([]byte{0xa5}, 100)
	h.WriteBytes(a, pattern)
	got := make([]byte, 100)
	h.ReadBytes(a, got)
	if !bytes.Equal(got, pattern) {
		t.Fatal("heap readback does not match written bytes")
	}

	if err := h.Free(a); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// First fit hands the same block back, zeroed.
	b, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}
	if b != a {
		t.Errorf("Alloc after free returned %#x, want reuse of %#x", b, a)
	}
	h.ReadBytes(b, got)
	if !bytes.Equal(got, make([]byte, 100)) {
		t.Error("recycled block not zeroed")
	}
}

func TestFreeErrors(t *testing.T) {
	h, _, _ := testHeap(t, 64)

	a, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := h.Free(a); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := h.Free(a); err != ternerr.ErrDoubleFree {
		t.Errorf("second Free: %v, want ErrDoubleFree", err)
	}

	for _, tc := range []struct {
		name string
		addr guestarch.Addr
	}{
		{"below heap", Base},
		{"unaligned", a + 1},
		{"past end", Base + guestarch.Addr(MaxBytes)},
	} {
		if err := h.Free(tc.addr); err != ternerr.ErrBadArgument {
			t.Errorf("Free %s: %v, want ErrBadArgument", tc.name, err)
		}
	}
}

func TestCoalesce(t *testing.T) {
	h, _, _ := testHeap(t, 64)

	// Three neighbors freed out of order must merge back into one block
	// large enough for a single allocation spanning all of them, without
	// growing the heap.
	var addrs []guestarch.Addr
	for i := 0; i < 3; i++ {
		a, err := h.Alloc(256)
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		addrs = append(addrs, a)
	}
	mapped := h.MappedBytes()

	for _, i := range []int{0, 2, 1} {
		if err := h.Free(addrs[i]); err != nil {
			t.Fatalf("Free %d: %v", i, err)
		}
	}
	if got := h.UsedBytes(); got != 0 {
		t.Fatalf("UsedBytes after freeing all: %d, want 0", got)
	}

	big, err := h.Alloc(3 * 256)
	if err != nil {
		t.Fatalf("Alloc spanning freed blocks: %v", err)
	}
	if big != addrs[0] {
		t.Errorf("coalesced alloc at %#x, want %#x", big, addrs[0])
	}
	if h.MappedBytes() != mapped {
		t.Errorf("heap grew to %d bytes, want unchanged %d", h.MappedBytes(), mapped)
	}
}

func TestGrowthVisibleInDerivedSpaces(t *testing.T) {
	h, kpt, _ := testHeap(t, 64)

	// Prime the heap so the kernel PGD slot exists, then derive a space.
	if _, err := h.Alloc(64); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	upt, err := pagetables.NewWithKernel(kpt)
	if err != nil {
		t.Fatalf("NewWithKernel: %v", err)
	}

	// Growth after derivation lands under the shared hierarchy.
	before := h.MappedBytes()
	if _, err := h.Alloc(2 * guestarch.PageSize); err != nil {
		t.Fatalf("growing Alloc: %v", err)
	}
	if h.MappedBytes() == before {
		t.Fatal("heap did not grow")
	}
	probe := Base + guestarch.Addr(h.MappedBytes()) - guestarch.PageSize
	if _, _, ok := upt.Lookup(probe); !ok {
		t.Errorf("derived space cannot see heap page %#x", probe)
	}
	if _, _, user, _ := upt.TranslatePage(probe); user {
		t.Error("heap page is user-accessible")
	}
}

func TestExhaustion(t *testing.T) {
	h, _, _ := testHeap(t, 8)

	// Eight frames minus tables runs out quickly; the heap must fail
	// cleanly and keep serving what it already holds.
	a, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	var failed bool
	for i := 0; i < 32; i++ {
		if _, err := h.Alloc(guestarch.PageSize); err != nil {
			if err != ternerr.ErrNoMemory {
				t.Fatalf("Alloc failure: %v, want ErrNoMemory", err)
			}
			failed = true
			break
		}
	}
	if !failed {
		t.Fatal("heap never ran out of an 8-frame machine")
	}

	h.WriteBytes(a, []byte("still here"))
	got := make([]byte, 10)
	h.ReadBytes(a, got)
	if string(got) != "still here" {
		t.Error("live block damaged by failed growth")
	}
}

func TestAllocZero(t *testing.T) {
	h, _, _ := testHeap(t, 16)
	if _, err := h.Alloc(0); err != ternerr.ErrBadArgument {
		t.Errorf("Alloc(0): %v, want ErrBadArgument", err)
	}
}

func TestCapRespected(t *testing.T) {
	h, _, _ := testHeap(t, 16)
	if _, err := h.Alloc(MaxBytes + 1); err != ternerr.ErrNoMemory {
		t.Errorf("Alloc beyond cap: %v, want ErrNoMemory", err)
	}
	if h.MappedBytes() != 0 {
		t.Errorf("cap rejection grew the heap to %d bytes", h.MappedBytes())
	}
}
