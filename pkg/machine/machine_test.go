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

package machine_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/machine"
	"tern.dev/tern/pkg/machine/asm"
	"tern.dev/tern/pkg/pagetables"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

const (
	codeBase = 0x400000
	dataBase = 0x500000
	stackTop = 0x600000
)

type env struct {
	t      *testing.T
	mem    *physmem.Memory
	frames *pgalloc.FrameAllocator
	pt     *pagetables.PageTables
	m      *machine.Machine
	regs   guestarch.Registers
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem, err := physmem.New(4 << 20)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	frames := pgalloc.New(mem, 0)
	pt, err := pagetables.New(mem, frames)
	if err != nil {
		t.Fatalf("pagetables.New: %v", err)
	}
	e := &env{
		t:      t,
		mem:    mem,
		frames: frames,
		pt:     pt,
		m:      machine.New(mem),
	}
	e.mapRegion(stackTop-guestarch.PageSize, guestarch.PageSize, guestarch.ReadWrite, true)
	e.regs.Rsp = stackTop
	return e
}

// mapRegion backs [addr, addr+length) with fresh zeroed frames.
func (e *env) mapRegion(addr guestarch.Addr, length uint64, at guestarch.AccessType, user bool) {
	e.t.Helper()
	for off := uint64(0); off < length; off += guestarch.PageSize {
		frame, err := e.frames.AllocateZeroed()
		if err != nil {
			e.t.Fatalf("AllocateZeroed: %v", err)
		}
		opts := pagetables.MapOpts{AccessType: at, User: user}
		if err := e.pt.MapPage(addr+guestarch.Addr(off), frame, opts); err != nil {
			e.t.Fatalf("MapPage(%#x): %v", addr+guestarch.Addr(off), err)
		}
	}
}

// pokeGuest writes directly through the page tables, ignoring permissions,
// the way the loader populates text pages.
func (e *env) pokeGuest(addr guestarch.Addr, b []byte) {
	e.t.Helper()
	for len(b) > 0 {
		frame, _, ok := e.pt.Lookup(addr &^ guestarch.PageMask)
		if !ok {
			e.t.Fatalf("pokeGuest: %#x not mapped", addr)
		}
		n := guestarch.PageSize - addr.PageOffset()
		if n > uint64(len(b)) {
			n = uint64(len(b))
		}
		e.mem.WriteBytes(frame+guestarch.PhysAddr(addr.PageOffset()), b[:n])
		addr += guestarch.Addr(n)
		b = b[n:]
	}
}

func (e *env) peekGuest(addr guestarch.Addr, n int) []byte {
	e.t.Helper()
	out := make([]byte, 0, n)
	for n > 0 {
		frame, _, ok := e.pt.Lookup(addr &^ guestarch.PageMask)
		if !ok {
			e.t.Fatalf("peekGuest: %#x not mapped", addr)
		}
		chunk := guestarch.PageSize - addr.PageOffset()
		if chunk > uint64(n) {
			chunk = uint64(n)
		}
		buf := make([]byte, chunk)
		e.mem.ReadBytes(frame+guestarch.PhysAddr(addr.PageOffset()), buf)
		out = append(out, buf...)
		addr += guestarch.Addr(chunk)
		n -= int(chunk)
	}
	return out
}

// load maps read-execute pages at codeBase and installs the program.
func (e *env) load(code []byte) {
	e.t.Helper()
	length := (uint64(len(code)) + guestarch.PageMask) &^ uint64(guestarch.PageMask)
	e.mapRegion(codeBase, length, guestarch.ReadExec, true)
	e.pokeGuest(codeBase, code)
	e.regs.Rip = codeBase
}

func (e *env) run(budget uint64) machine.Trap {
	return e.m.Switch(machine.SwitchOpts{
		Registers:       &e.regs,
		AddressSpace:    e.pt,
		MaxInstructions: budget,
	})
}

// runToSyscall runs until the program reaches INT 0x80.
func (e *env) runToSyscall() machine.Trap {
	e.t.Helper()
	t := e.run(100000)
	if t.Kind != machine.TrapSyscall {
		e.t.Fatalf("got trap %v at rip %#x, want syscall", t, e.regs.Rip)
	}
	return t
}

func TestArithmetic(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 7)
	a.MovImm(asm.RBX, 5)
	a.Add(asm.RAX, asm.RBX)
	a.MovImm(asm.RCX, 3)
	a.Sub(asm.RAX, asm.RCX)
	a.Int(0x80)
	e.load(a.Bytes())

	trap := e.runToSyscall()
	if e.regs.Rax != 9 {
		t.Errorf("rax = %d, want 9", e.regs.Rax)
	}
	if trap.Retired != 6 {
		t.Errorf("retired = %d, want 6", trap.Retired)
	}
	if trap.Vector != 0x80 {
		t.Errorf("vector = %#x, want 0x80", trap.Vector)
	}
}

func TestWritesZeroExtend(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 0xffffffffffffffff)
	a.MovImm(asm.RBX, 0x1_2345_6789)
	a.Bytes8([]byte{0x89, 0xd8}) // mov eax, ebx
	a.Int(0x80)
	e.load(a.Bytes())

	e.runToSyscall()
	if e.regs.Rax != 0x2345_6789 {
		t.Errorf("rax = %#x, want 0x23456789", e.regs.Rax)
	}
}

func TestByteRegisters(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 0)
	a.MovImm(asm.RBX, 0x7f)
	a.MovImm(asm.RSI, 0)
	a.Bytes8([]byte{0x88, 0xdc})       // mov ah, bl: no REX, rm 4 is AH
	a.Bytes8([]byte{0x40, 0x88, 0xde}) // mov sil, bl: REX present, rm 6 is SIL
	a.Int(0x80)
	e.load(a.Bytes())

	e.runToSyscall()
	if e.regs.Rax != 0x7f00 {
		t.Errorf("rax = %#x, want 0x7f00 (AH write)", e.regs.Rax)
	}
	if e.regs.Rsi != 0x7f {
		t.Errorf("rsi = %#x, want 0x7f (SIL write)", e.regs.Rsi)
	}
}

func TestLoopBranches(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 0)
	a.MovImm(asm.RCX, 5)
	a.Label("loop")
	a.Add(asm.RAX, asm.RCX)
	a.SubImm(asm.RCX, 1)
	a.Jcc(asm.CondNE, "loop")
	a.Int(0x80)
	e.load(a.Bytes())

	trap := e.runToSyscall()
	if e.regs.Rax != 15 {
		t.Errorf("rax = %d, want 15", e.regs.Rax)
	}
	if want := uint64(2 + 5*3 + 1); trap.Retired != want {
		t.Errorf("retired = %d, want %d", trap.Retired, want)
	}
}

func TestCallRet(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RDI, 21)
	a.Call("double")
	a.Int(0x80)
	a.Label("double")
	a.Mov(asm.RAX, asm.RDI)
	a.Add(asm.RAX, asm.RDI)
	a.Ret()
	e.load(a.Bytes())

	e.runToSyscall()
	if e.regs.Rax != 42 {
		t.Errorf("rax = %d, want 42", e.regs.Rax)
	}
	if e.regs.Rsp != stackTop {
		t.Errorf("rsp = %#x, want %#x (unbalanced call)", e.regs.Rsp, uint64(stackTop))
	}
}

func TestPushPop(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 0x1111)
	a.MovImm(asm.R12, 0x2222)
	a.Push(asm.RAX)
	a.Push(asm.R12)
	a.Pop(asm.RAX) // rax = 0x2222
	a.Pop(asm.R12) // r12 = 0x1111
	a.Int(0x80)
	e.load(a.Bytes())

	e.runToSyscall()
	if e.regs.Rax != 0x2222 || e.regs.R12 != 0x1111 {
		t.Errorf("rax, r12 = %#x, %#x, want 0x2222, 0x1111", e.regs.Rax, e.regs.R12)
	}
	if e.regs.Rsp != stackTop {
		t.Errorf("rsp = %#x, want %#x", e.regs.Rsp, uint64(stackTop))
	}
}

func TestLoadStore(t *testing.T) {
	e := newEnv(t)
	e.mapRegion(dataBase, guestarch.PageSize, guestarch.ReadWrite, true)
	a := asm.New(codeBase)
	a.MovImm(asm.RBX, dataBase)
	a.MovImm(asm.RAX, 0xdeadbeefcafe)
	a.Store(asm.RBX, 8, asm.RAX)
	a.MovImm(asm.RAX, 0)
	a.Load(asm.RAX, asm.RBX, 8)
	a.Store8(asm.RBX, 0, asm.RAX)
	a.Load8(asm.RDX, asm.RBX, 0)
	a.Int(0x80)
	e.load(a.Bytes())

	e.runToSyscall()
	if e.regs.Rax != 0xdeadbeefcafe {
		t.Errorf("rax = %#x, want 0xdeadbeefcafe", e.regs.Rax)
	}
	if e.regs.Rdx != 0xfe {
		t.Errorf("rdx = %#x, want 0xfe (byte load)", e.regs.Rdx)
	}
	got := e.peekGuest(dataBase+8, 8)
	want := []byte{0xfe, 0xca, 0xef, 0xbe, 0xad, 0xde, 0, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("guest memory mismatch (-want +got):\n%s", diff)
	}
}

func TestRIPRelative(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	// lea rax, [rip+0x100]: resolves against the end of the instruction.
	a.Bytes8([]byte{0x48, 0x8d, 0x05, 0x00, 0x01, 0x00, 0x00})
	leaEnd := uint64(codeBase) + uint64(a.Len())
	a.Int(0x80)
	e.load(a.Bytes())

	e.runToSyscall()
	if want := leaEnd + 0x100; e.regs.Rax != want {
		t.Errorf("rax = %#x, want %#x", e.regs.Rax, want)
	}
}

func TestMulDiv(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 123456789)
	a.MovImm(asm.RBX, 10000)
	a.Mul(asm.RBX) // rdx:rax = 1234567890000
	a.MovImm(asm.RCX, 7)
	a.Div(asm.RCX)
	a.Int(0x80)
	e.load(a.Bytes())

	e.runToSyscall()
	if want := uint64(1234567890000 / 7); e.regs.Rax != want {
		t.Errorf("quotient = %d, want %d", e.regs.Rax, want)
	}
	if want := uint64(1234567890000 % 7); e.regs.Rdx != want {
		t.Errorf("remainder = %d, want %d", e.regs.Rdx, want)
	}
}

func TestDivideByZeroTraps(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, 1)
	a.MovImm(asm.RDX, 0)
	a.MovImm(asm.RCX, 0)
	a.Div(asm.RCX)
	a.Int(0x80)
	e.load(a.Bytes())

	trap := e.run(100)
	if trap.Kind != machine.TrapOpcode {
		t.Fatalf("got trap %v, want opcode", trap)
	}
	if trap.Retired != 3 {
		t.Errorf("retired = %d, want 3", trap.Retired)
	}
}

func TestSyscallRipAdvances(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.Nop()
	a.Int(0x80)
	after := a.Len()
	a.Nop()
	e.load(a.Bytes())

	trap := e.runToSyscall()
	if want := uint64(codeBase) + uint64(after); e.regs.Rip != want {
		t.Errorf("rip = %#x, want %#x (after the INT)", e.regs.Rip, want)
	}
	if trap.Retired != 2 {
		t.Errorf("retired = %d, want 2", trap.Retired)
	}
}

func TestForeignIntTraps(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.Nop()
	intOff := a.Len()
	a.Int(0x21)
	e.load(a.Bytes())

	trap := e.run(100)
	if trap.Kind != machine.TrapOpcode {
		t.Fatalf("got trap %v, want opcode", trap)
	}
	if trap.Vector != 0x21 {
		t.Errorf("vector = %#x, want 0x21", trap.Vector)
	}
	if want := uint64(codeBase) + uint64(intOff); e.regs.Rip != want {
		t.Errorf("rip = %#x, want %#x (at the INT)", e.regs.Rip, want)
	}
}

func TestHltUd2Trap(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *asm.Assembler)
	}{
		{"hlt", func(a *asm.Assembler) { a.Hlt() }},
		{"ud2", func(a *asm.Assembler) { a.Ud2() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			a := asm.New(codeBase)
			tc.emit(a)
			e.load(a.Bytes())
			trap := e.run(10)
			if trap.Kind != machine.TrapOpcode {
				t.Fatalf("got trap %v, want opcode", trap)
			}
			if e.regs.Rip != codeBase {
				t.Errorf("rip = %#x, want %#x (at the instruction)", e.regs.Rip, uint64(codeBase))
			}
		})
	}
}

func TestPageFaultAndResume(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	a.MovImm(asm.RBX, dataBase)
	a.MovImm(asm.RAX, 0x55)
	storeOff := a.Len()
	a.Store(asm.RBX, 0, asm.RAX)
	a.Int(0x80)
	e.load(a.Bytes())

	// dataBase is unmapped; the store faults with Rip still on it.
	trap := e.run(100)
	if trap.Kind != machine.TrapPageFault {
		t.Fatalf("got trap %v, want page fault", trap)
	}
	if trap.FaultAddr != dataBase {
		t.Errorf("fault addr = %#x, want %#x", trap.FaultAddr, uint64(dataBase))
	}
	if !trap.Access.Write {
		t.Errorf("fault access = %v, want write", trap.Access)
	}
	if want := uint64(codeBase) + uint64(storeOff); e.regs.Rip != want {
		t.Errorf("rip = %#x, want %#x (at the store)", e.regs.Rip, want)
	}
	if trap.Retired != 2 {
		t.Errorf("retired = %d, want 2", trap.Retired)
	}

	// Map the page and resume: the store re-executes and completes.
	e.mapRegion(dataBase, guestarch.PageSize, guestarch.ReadWrite, true)
	e.runToSyscall()
	if got := e.peekGuest(dataBase, 1); got[0] != 0x55 {
		t.Errorf("guest byte = %#x, want 0x55 after resume", got[0])
	}
}

func TestWriteProtectFault(t *testing.T) {
	e := newEnv(t)
	e.mapRegion(dataBase, guestarch.PageSize, guestarch.Read, true)
	a := asm.New(codeBase)
	a.MovImm(asm.RBX, dataBase)
	a.MovImm(asm.RAX, 1)
	a.Store(asm.RBX, 0, asm.RAX)
	e.load(a.Bytes())

	trap := e.run(100)
	if trap.Kind != machine.TrapPageFault || !trap.Access.Write {
		t.Fatalf("got trap %v, want write page fault", trap)
	}
}

func TestNoExecuteFetchFault(t *testing.T) {
	e := newEnv(t)
	e.mapRegion(dataBase, guestarch.PageSize, guestarch.ReadWrite, true)
	a := asm.New(codeBase)
	a.MovImm(asm.RAX, dataBase)
	a.Push(asm.RAX)
	a.Ret() // jump into the data page
	e.load(a.Bytes())

	trap := e.run(100)
	if trap.Kind != machine.TrapPageFault {
		t.Fatalf("got trap %v, want page fault", trap)
	}
	if !trap.Access.Execute {
		t.Errorf("fault access = %v, want execute", trap.Access)
	}
	if trap.FaultAddr != dataBase {
		t.Errorf("fault addr = %#x, want %#x", trap.FaultAddr, uint64(dataBase))
	}
}

func TestKernelPageInaccessible(t *testing.T) {
	e := newEnv(t)
	// A supervisor mapping: present, but not for CPL 3.
	frame, err := e.frames.AllocateZeroed()
	if err != nil {
		t.Fatalf("AllocateZeroed: %v", err)
	}
	opts := pagetables.MapOpts{AccessType: guestarch.AnyAccess, User: false}
	if err := e.pt.MapPage(dataBase, frame, opts); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	a := asm.New(codeBase)
	a.MovImm(asm.RBX, dataBase)
	a.Load(asm.RAX, asm.RBX, 0)
	e.load(a.Bytes())

	trap := e.run(100)
	if trap.Kind != machine.TrapPageFault {
		t.Fatalf("got trap %v, want page fault", trap)
	}
}

func TestStraddlingStoreHasNoPartialEffect(t *testing.T) {
	e := newEnv(t)
	e.mapRegion(dataBase, guestarch.PageSize, guestarch.ReadWrite, true)
	target := guestarch.Addr(dataBase + guestarch.PageSize - 4)
	a := asm.New(codeBase)
	a.MovImm(asm.RBX, uint64(target))
	a.MovImm(asm.RAX, 0x1122334455667788)
	a.Store(asm.RBX, 0, asm.RAX)
	a.Int(0x80)
	e.load(a.Bytes())

	trap := e.run(100)
	if trap.Kind != machine.TrapPageFault {
		t.Fatalf("got trap %v, want page fault", trap)
	}
	if want := guestarch.Addr(dataBase + guestarch.PageSize); trap.FaultAddr != want {
		t.Errorf("fault addr = %#x, want %#x (first unmapped byte)", trap.FaultAddr, want)
	}
	// The mapped half must be untouched.
	if got := e.peekGuest(target, 4); got[0]|got[1]|got[2]|got[3] != 0 {
		t.Errorf("mapped half modified before fault: % x", got)
	}

	// After mapping the second page the store completes whole.
	e.mapRegion(dataBase+guestarch.PageSize, guestarch.PageSize, guestarch.ReadWrite, true)
	e.runToSyscall()
	got := e.peekGuest(target, 8)
	want := []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("straddling store (-want +got):\n%s", diff)
	}
}

func TestTimerBudget(t *testing.T) {
	e := newEnv(t)
	a := asm.New(codeBase)
	for i := 0; i < 8; i++ {
		a.Nop()
	}
	a.Int(0x80)
	e.load(a.Bytes())

	trap := e.run(3)
	if trap.Kind != machine.TrapTimer {
		t.Fatalf("got trap %v, want timer", trap)
	}
	if trap.Retired != 3 {
		t.Errorf("retired = %d, want 3", trap.Retired)
	}
	if want := uint64(codeBase + 3); e.regs.Rip != want {
		t.Errorf("rip = %#x, want %#x", e.regs.Rip, want)
	}

	// The remainder of the program runs on the next slice.
	trap = e.run(100)
	if trap.Kind != machine.TrapSyscall {
		t.Fatalf("got trap %v, want syscall", trap)
	}
	if trap.Retired != 6 {
		t.Errorf("retired = %d, want 6", trap.Retired)
	}
	if total := e.m.Retired(); total != 9 {
		t.Errorf("lifetime retired = %d, want 9", total)
	}
}

// mixProgram is an order-sensitive mix of arithmetic, branching and memory
// traffic used by the determinism test.
func mixProgram() *asm.Assembler {
	a := asm.New(codeBase)
	a.MovImm(asm.RBX, dataBase)
	a.MovImm(asm.RCX, 64)
	a.MovImm(asm.RAX, 0x9e3779b97f4a7c15)
	a.Label("loop")
	a.Store(asm.RBX, 0, asm.RAX)
	a.Load(asm.RDX, asm.RBX, 0)
	a.Add(asm.RAX, asm.RDX)
	a.Shl(asm.RAX, 7)
	a.Xor(asm.RAX, asm.RDX)
	a.AddImm(asm.RBX, 8)
	a.SubImm(asm.RCX, 1)
	a.Jcc(asm.CondNE, "loop")
	a.Int(0x80)
	return a
}

// TestPreemptionInvisible runs the same program to completion in one
// unbounded slice and in single-instruction slices; the final register
// files and memory must be bit-identical.
func TestPreemptionInvisible(t *testing.T) {
	runWhole := func(e *env) {
		e.t.Helper()
		e.runToSyscall()
	}
	runSliced := func(e *env) {
		e.t.Helper()
		for i := 0; i < 100000; i++ {
			trap := e.run(1)
			switch trap.Kind {
			case machine.TrapTimer:
				continue
			case machine.TrapSyscall:
				return
			default:
				e.t.Fatalf("got trap %v, want timer or syscall", trap)
			}
		}
		e.t.Fatal("program did not finish in 100000 slices")
	}

	final := make([]guestarch.Registers, 2)
	mem := make([][]byte, 2)
	for i, run := range []func(*env){runWhole, runSliced} {
		e := newEnv(t)
		e.mapRegion(dataBase, guestarch.PageSize, guestarch.ReadWrite, true)
		e.load(mixProgram().Bytes())
		run(e)
		final[i] = e.regs
		mem[i] = e.peekGuest(dataBase, 64*8)
	}

	if diff := cmp.Diff(final[0], final[1]); diff != "" {
		t.Errorf("register files differ (-whole +sliced):\n%s", diff)
	}
	if diff := cmp.Diff(mem[0], mem[1]); diff != "" {
		t.Errorf("memory differs (-whole +sliced):\n%s", diff)
	}
}

func TestCopyInOut(t *testing.T) {
	e := newEnv(t)
	e.mapRegion(dataBase, 2*guestarch.PageSize, guestarch.ReadWrite, true)

	// Straddle the page boundary.
	addr := guestarch.Addr(dataBase + guestarch.PageSize - 3)
	data := []byte("boundary crossing")
	if err := e.m.CopyOut(e.pt, addr, data); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	got := make([]byte, len(data))
	if err := e.m.CopyIn(e.pt, addr, got); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("round trip = %q, want %q", got, data)
	}
}

func TestCopyOutFaultIsWhole(t *testing.T) {
	e := newEnv(t)
	e.mapRegion(dataBase, guestarch.PageSize, guestarch.ReadWrite, true)

	// Destination runs off the mapped page.
	addr := guestarch.Addr(dataBase + guestarch.PageSize - 4)
	err := e.m.CopyOut(e.pt, addr, make([]byte, 64))
	if err == nil {
		t.Fatal("CopyOut succeeded into unmapped memory")
	}
	var fault *machine.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error %T, want *machine.Fault", err)
	}
	if want := guestarch.Addr(dataBase + guestarch.PageSize); fault.Addr != want {
		t.Errorf("fault addr = %#x, want %#x", fault.Addr, want)
	}
	// Nothing was written, not even to the mapped page.
	if got := e.peekGuest(addr, 4); got[0]|got[1]|got[2]|got[3] != 0 {
		t.Errorf("partial CopyOut effect: % x", got)
	}
}

func TestCopyInUnmapped(t *testing.T) {
	e := newEnv(t)
	err := e.m.CopyIn(e.pt, dataBase, make([]byte, 8))
	var fault *machine.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error %v (%T), want *machine.Fault", err, err)
	}
	if fault.Addr != dataBase {
		t.Errorf("fault addr = %#x, want %#x", fault.Addr, uint64(dataBase))
	}
}
