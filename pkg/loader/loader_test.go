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

package loader_test

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/loader"
	"tern.dev/tern/pkg/machine"
	"tern.dev/tern/pkg/machine/asm"
	"tern.dev/tern/pkg/pagetables"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

type env struct {
	t      *testing.T
	mem    *physmem.Memory
	frames *pgalloc.FrameAllocator
	pt     *pagetables.PageTables
	m      *machine.Machine
}

func newEnv(t *testing.T, memPages uint64) *env {
	t.Helper()
	mem, err := physmem.New(memPages * guestarch.PageSize)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	frames := pgalloc.New(mem, 0)
	pt, err := pagetables.New(mem, frames)
	if err != nil {
		t.Fatalf("pagetables.New: %v", err)
	}
	return &env{t: t, mem: mem, frames: frames, pt: pt, m: machine.New(mem)}
}

func (e *env) loadArgs(slot int, args ...string) loader.LoadArgs {
	return loader.LoadArgs{
		Mem:    e.mem,
		Frames: e.frames,
		Tables: e.pt,
		Slot:   slot,
		Args:   args,
	}
}

// run enters the loaded program and expects it to reach INT 0x80.
func (e *env) run(l *loader.Loaded) *guestarch.Registers {
	e.t.Helper()
	regs := &guestarch.Registers{
		Rip: uint64(l.Entry),
		Rsp: uint64(l.StackTop),
		Rdi: uint64(l.ArgvAddr),
		Rsi: l.Argc,
	}
	trap := e.m.Switch(machine.SwitchOpts{
		Registers:       regs,
		AddressSpace:    e.pt,
		MaxInstructions: 100000,
	})
	if trap.Kind != machine.TrapSyscall {
		e.t.Fatalf("got trap %v at rip %#x, want syscall", trap, regs.Rip)
	}
	return regs
}

func TestLoadFlat(t *testing.T) {
	e := newEnv(t, 64)
	a := asm.New(0)
	a.MovImm(asm.RAX, 42)
	a.Int(0x80)

	img, err := loader.Parse(a.Flat())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, err := loader.Load(img, e.loadArgs(1))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	base := loader.WindowBase(1)
	if l.Entry != base {
		t.Errorf("entry = %#x, want window base %#x", l.Entry, base)
	}
	if want := base + tern.StackTopOffset; l.StackTop != want {
		t.Errorf("stack top = %#x, want %#x", l.StackTop, want)
	}
	// The flat payload is mapped read-write-execute.
	_, opts, ok := e.pt.Lookup(base)
	if !ok || opts.AccessType != guestarch.AnyAccess || !opts.User {
		t.Errorf("code mapping = %+v, %v, want user rwx", opts, ok)
	}

	regs := e.run(l)
	if regs.Rax != 42 {
		t.Errorf("rax = %d, want 42", regs.Rax)
	}
}

func TestLoadELF(t *testing.T) {
	e := newEnv(t, 64)
	const dataOff = 0x2000
	slot := 2
	base := loader.WindowBase(slot)

	// Code at offset 0, data at offset 0x2000 with a zero tail.
	a := asm.New(0)
	a.MovImm(asm.RBX, uint64(base)+dataOff)
	a.Load(asm.RAX, asm.RBX, 0)
	a.AddImm(asm.RAX, 1)
	a.Store(asm.RBX, 8, asm.RAX)
	a.Int(0x80)
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, 999)

	img, err := loader.Parse(asm.BuildELF(0,
		asm.Segment{Vaddr: 0, Flags: elf.PF_R | elf.PF_X, Data: a.Bytes()},
		asm.Segment{Vaddr: dataOff, Flags: elf.PF_R | elf.PF_W, Data: data, Memsz: 0x1800},
	))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, err := loader.Load(img, e.loadArgs(slot))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Declared permissions are applied per segment.
	if _, opts, ok := e.pt.Lookup(base); !ok || opts.AccessType != guestarch.ReadExec {
		t.Errorf("code mapping = %+v, %v, want r-x", opts, ok)
	}
	if _, opts, ok := e.pt.Lookup(base + dataOff); !ok || opts.AccessType != guestarch.ReadWrite {
		t.Errorf("data mapping = %+v, %v, want rw-", opts, ok)
	}

	regs := e.run(l)
	if regs.Rax != 1000 {
		t.Errorf("rax = %d, want 1000", regs.Rax)
	}

	// The memsz tail beyond the file bytes reads as zero, and the page
	// past it is demand territory, not mapped.
	tail := make([]byte, 8)
	if err := e.m.CopyIn(e.pt, base+dataOff+0x1000, tail); err != nil {
		t.Fatalf("CopyIn(tail): %v", err)
	}
	for _, b := range tail {
		if b != 0 {
			t.Errorf("zero tail = % x", tail)
			break
		}
	}
	if _, _, ok := e.pt.Lookup(base + dataOff + 0x2000); ok {
		t.Errorf("page past the segment is mapped")
	}
}

func TestLoadArgsBlock(t *testing.T) {
	e := newEnv(t, 64)
	a := asm.New(0)
	// Return the length of the second argument: rax = [rdi+16+8].
	a.Load(asm.RAX, asm.RDI, 24)
	a.Int(0x80)

	img, err := loader.Parse(a.Flat())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, err := loader.Load(img, e.loadArgs(0, "shell", "--login"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Argc != 2 {
		t.Fatalf("argc = %d, want 2", l.Argc)
	}

	// The pair array points at the packed strings.
	pairs := make([]byte, 32)
	if err := e.m.CopyIn(e.pt, l.ArgvAddr, pairs); err != nil {
		t.Fatalf("CopyIn(pairs): %v", err)
	}
	for i, want := range []string{"shell", "--login"} {
		ptr := binary.LittleEndian.Uint64(pairs[16*i:])
		n := binary.LittleEndian.Uint64(pairs[16*i+8:])
		if n != uint64(len(want)) {
			t.Fatalf("arg %d length = %d, want %d", i, n, len(want))
		}
		s := make([]byte, n)
		if err := e.m.CopyIn(e.pt, guestarch.Addr(ptr), s); err != nil {
			t.Fatalf("CopyIn(arg %d): %v", i, err)
		}
		if string(s) != want {
			t.Errorf("arg %d = %q, want %q", i, s, want)
		}
	}

	regs := e.run(l)
	if regs.Rax != uint64(len("--login")) {
		t.Errorf("rax = %d, want %d", regs.Rax, len("--login"))
	}
}

func TestLoadRollback(t *testing.T) {
	// 32 pages: root table takes one, the 28-page segment plus its three
	// page-table levels consume the other 31, and the stack page fails.
	e := newEnv(t, 32)
	a := asm.New(0)
	a.Int(0x80)

	img, err := loader.Parse(asm.BuildELF(0, asm.Segment{
		Vaddr: 0,
		Flags: elf.PF_R | elf.PF_X,
		Data:  a.Bytes(),
		Memsz: 28 * guestarch.PageSize,
	}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	before := e.frames.UsedFrames()
	if _, err := loader.Load(img, e.loadArgs(0)); err != ternerr.ErrNoMemory {
		t.Fatalf("Load = %v, want ErrNoMemory", err)
	}
	if after := e.frames.UsedFrames(); after != before {
		t.Errorf("used frames = %d, want %d (leak on failed load)", after, before)
	}
	if _, _, ok := e.pt.Lookup(loader.WindowBase(0)); ok {
		t.Errorf("window still mapped after failed load")
	}
}

func TestArgsTooLarge(t *testing.T) {
	e := newEnv(t, 64)
	a := asm.New(0)
	a.Int(0x80)
	img, err := loader.Parse(a.Flat())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	big := make([]byte, guestarch.PageSize)
	for i := range big {
		big[i] = 'x'
	}
	before := e.frames.UsedFrames()
	if _, err := loader.Load(img, e.loadArgs(0, string(big))); err != ternerr.ErrBadArgument {
		t.Fatalf("Load = %v, want ErrBadArgument", err)
	}
	if after := e.frames.UsedFrames(); after != before {
		t.Errorf("used frames = %d, want %d", after, before)
	}
}

// validELF builds a small well-formed image for corruption tests.
func validELF() []byte {
	a := asm.New(0)
	a.MovImm(asm.RAX, 1)
	a.Int(0x80)
	return asm.BuildELF(0, asm.Segment{Vaddr: 0, Flags: elf.PF_R | elf.PF_X, Data: a.Bytes()})
}

func TestParseRejects(t *testing.T) {
	put16 := func(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
	put64 := func(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

	for _, tc := range []struct {
		name    string
		corrupt func(b []byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:3] }},
		{"unknown magic", func(b []byte) []byte { b[0] = 0x7e; return b }},
		{"elf class 32", func(b []byte) []byte { b[elf.EI_CLASS] = byte(elf.ELFCLASS32); return b }},
		{"big endian", func(b []byte) []byte { b[elf.EI_DATA] = byte(elf.ELFDATA2MSB); return b }},
		{"dyn type", func(b []byte) []byte { put16(b, 16, uint16(elf.ET_DYN)); return b }},
		{"wrong machine", func(b []byte) []byte { put16(b, 18, uint16(elf.EM_AARCH64)); return b }},
		{"entry outside window", func(b []byte) []byte { put64(b, 24, tern.ArgvOffset); return b }},
		{"phoff beyond file", func(b []byte) []byte { put64(b, 32, uint64(len(b)) + 1); return b }},
		{"bad phentsize", func(b []byte) []byte { put16(b, 54, 48); return b }},
		{"no phdrs", func(b []byte) []byte { put16(b, 56, 0); return b }},
		{"filesz over memsz", func(b []byte) []byte { put64(b, 64+40, 1); return b }},
		{"filesz beyond file", func(b []byte) []byte {
			put64(b, 64+32, uint64(len(b)))
			put64(b, 64+40, uint64(len(b)))
			return b
		}},
		{"segment beyond window", func(b []byte) []byte { put64(b, 64+40, tern.ArgvOffset + 1); return b }},
		{"segment wraps", func(b []byte) []byte {
			put64(b, 64+16, ^uint64(0)-0x1000)
			put64(b, 64+40, 0x2000)
			return b
		}},
		{"empty flat", func(b []byte) []byte { return tern.FlatMagic[:] }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img := tc.corrupt(validELF())
			if _, err := loader.Parse(img); err != ternerr.ErrBadImage {
				t.Errorf("Parse = %v, want ErrBadImage", err)
			}
		})
	}
}

func TestParseRejectsOverlap(t *testing.T) {
	a := asm.New(0)
	a.Int(0x80)
	img := asm.BuildELF(0,
		asm.Segment{Vaddr: 0, Flags: elf.PF_R | elf.PF_X, Data: a.Bytes(), Memsz: 0x1800},
		asm.Segment{Vaddr: 0x1000, Flags: elf.PF_R | elf.PF_W, Data: []byte{1}},
	)
	if _, err := loader.Parse(img); err != ternerr.ErrBadImage {
		t.Errorf("Parse = %v, want ErrBadImage", err)
	}
}
