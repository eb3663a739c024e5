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

// Package machine emulates the user-mode slice of a single x86-64 core.
//
// The machine executes guest instructions against a register file and an
// address space until something requires the kernel: a syscall, an exhausted
// instruction budget, a memory fault, or an opcode the guest may not run.
// Switch returns the trap and leaves the register file exactly as the guest
// left it, so a later Switch resumes the guest bit for bit.
//
// All guest accesses are user-privilege accesses. The machine itself never
// consults kernel mappings; the kernel reaches guest memory through CopyIn
// and CopyOut.
//
// Execution is deterministic: the same program, registers and address space
// produce the same trap sequence regardless of how the instruction budget
// slices it.
package machine

import (
	"fmt"

	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/physmem"
)

// AddressSpace translates guest virtual pages. Implemented by the page
// table walker; the machine consults it for every access.
type AddressSpace interface {
	// TranslatePage resolves the page containing addr. ok is false if no
	// mapping exists.
	TranslatePage(addr guestarch.Addr) (frame guestarch.PhysAddr, access guestarch.AccessType, user bool, ok bool)
}

// TrapKind enumerates why Switch returned.
type TrapKind int

const (
	// TrapSyscall is a retired INT 0x80. The saved Rip points at the
	// following instruction.
	TrapSyscall TrapKind = iota

	// TrapTimer means the instruction budget ran out. No instruction is
	// partially executed.
	TrapTimer

	// TrapPageFault is a failed memory access. The saved Rip points at
	// the faulting instruction, which re-executes if resumed.
	TrapPageFault

	// TrapOpcode is an instruction the guest may not run: HLT, UD2, a
	// foreign INT vector, a division error, or an encoding the machine
	// does not implement. The saved Rip points at the instruction.
	TrapOpcode
)

// String implements fmt.Stringer.String.
func (k TrapKind) String() string {
	switch k {
	case TrapSyscall:
		return "syscall"
	case TrapTimer:
		return "timer"
	case TrapPageFault:
		return "page fault"
	case TrapOpcode:
		return "opcode"
	default:
		return fmt.Sprintf("trap(%d)", int(k))
	}
}

// Trap describes why the guest stopped.
type Trap struct {
	Kind TrapKind

	// FaultAddr and Access are set for TrapPageFault.
	FaultAddr guestarch.Addr
	Access    guestarch.AccessType

	// Vector is the INT vector for TrapSyscall, or for the foreign INT
	// behind a TrapOpcode.
	Vector byte

	// Retired counts instructions completed during this Switch.
	Retired uint64
}

// String implements fmt.Stringer.String.
func (t Trap) String() string {
	switch t.Kind {
	case TrapPageFault:
		return fmt.Sprintf("page fault at %#x (%v)", t.FaultAddr, t.Access)
	case TrapOpcode:
		if t.Vector != 0 {
			return fmt.Sprintf("opcode trap (int %#x)", t.Vector)
		}
		return "opcode trap"
	default:
		return t.Kind.String()
	}
}

// SwitchOpts controls a guest execution slice.
type SwitchOpts struct {
	// Registers is the guest register file, updated in place.
	Registers *guestarch.Registers

	// AddressSpace translates guest addresses for this slice.
	AddressSpace AddressSpace

	// MaxInstructions bounds the slice; 0 means unbounded.
	MaxInstructions uint64
}

// Machine is the emulated core plus its physical memory.
type Machine struct {
	mem *physmem.Memory

	// instret counts instructions retired over the machine's lifetime.
	instret uint64
}

// New returns a machine executing against mem.
func New(mem *physmem.Memory) *Machine {
	return &Machine{mem: mem}
}

// Retired returns the lifetime retired-instruction count.
func (m *Machine) Retired() uint64 {
	return m.instret
}

// Switch runs the guest until a trap. The register file in opts is the
// live CPU state; on return it holds whatever the guest computed.
func (m *Machine) Switch(opts SwitchOpts) Trap {
	c := &cpu{m: m, regs: opts.Registers, as: opts.AddressSpace}
	var t Trap
	for {
		if opts.MaxInstructions != 0 && t.Retired >= opts.MaxInstructions {
			t.Kind = TrapTimer
			return t
		}
		stop := c.step()
		if stop == nil {
			t.Retired++
			m.instret++
			continue
		}
		if stop.Kind == TrapSyscall {
			// The INT itself retired.
			t.Retired++
			m.instret++
		}
		t.Kind = stop.Kind
		t.FaultAddr = stop.FaultAddr
		t.Access = stop.Access
		t.Vector = stop.Vector
		return t
	}
}

// Fault is the error returned by CopyIn and CopyOut when a guest page does
// not admit the access.
type Fault struct {
	Addr   guestarch.Addr
	Access guestarch.AccessType
}

// Error implements error.Error.
func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %#x (%v)", f.Addr, f.Access)
}

// cpu is the per-Switch execution state.
type cpu struct {
	m    *Machine
	regs *guestarch.Registers
	as   AddressSpace
}

// physRange is a contiguous physical run backing part of a guest access.
type physRange struct {
	pa guestarch.PhysAddr
	n  uint64
}

// translate resolves one guest address for the given access at user
// privilege.
func (c *cpu) translate(addr guestarch.Addr, at guestarch.AccessType) (guestarch.PhysAddr, *Trap) {
	frame, access, user, ok := c.as.TranslatePage(addr)
	if !ok || !user || !access.SupersetOf(at) {
		return 0, &Trap{Kind: TrapPageFault, FaultAddr: addr, Access: at}
	}
	return frame + guestarch.PhysAddr(addr.PageOffset()), nil
}

// physRanges translates [addr, addr+size). Every page is checked before any
// byte moves, so a faulting access has no partial effect.
func (c *cpu) physRanges(addr guestarch.Addr, size uint64, at guestarch.AccessType) ([]physRange, *Trap) {
	ranges := make([]physRange, 0, 2)
	for size > 0 {
		pa, t := c.translate(addr, at)
		if t != nil {
			return nil, t
		}
		n := guestarch.PageSize - addr.PageOffset()
		if n > size {
			n = size
		}
		ranges = append(ranges, physRange{pa, n})
		addr += guestarch.Addr(n)
		size -= n
	}
	return ranges, nil
}

// readMem reads a little-endian value of 1, 2, 4 or 8 bytes.
func (c *cpu) readMem(addr guestarch.Addr, size int) (uint64, *Trap) {
	return c.readMemAT(addr, size, guestarch.Read)
}

// readMemAT reads with an explicit access check. Read-modify-write
// instructions demand write access up front so their later write cannot
// fault after flags have changed.
func (c *cpu) readMemAT(addr guestarch.Addr, size int, at guestarch.AccessType) (uint64, *Trap) {
	ranges, t := c.physRanges(addr, uint64(size), at)
	if t != nil {
		return 0, t
	}
	var buf [8]byte
	off := 0
	for _, r := range ranges {
		c.m.mem.ReadBytes(r.pa, buf[off:off+int(r.n)])
		off += int(r.n)
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// writeMem writes a little-endian value of 1, 2, 4 or 8 bytes.
func (c *cpu) writeMem(addr guestarch.Addr, size int, v uint64) *Trap {
	ranges, t := c.physRanges(addr, uint64(size), guestarch.Write)
	if t != nil {
		return t
	}
	var buf [8]byte
	for i := 0; i < size; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	off := 0
	for _, r := range ranges {
		c.m.mem.WriteBytes(r.pa, buf[off:off+int(r.n)])
		off += int(r.n)
	}
	return nil
}

// CopyIn copies len(p) bytes from guest memory at addr into p. The pages
// must be user-readable; a miss returns a *Fault naming the first
// inaccessible address, with p untouched.
func (m *Machine) CopyIn(as AddressSpace, addr guestarch.Addr, p []byte) error {
	c := &cpu{m: m, as: as}
	ranges, t := c.physRanges(addr, uint64(len(p)), guestarch.Read)
	if t != nil {
		return &Fault{Addr: t.FaultAddr, Access: t.Access}
	}
	off := 0
	for _, r := range ranges {
		m.mem.ReadBytes(r.pa, p[off:off+int(r.n)])
		off += int(r.n)
	}
	return nil
}

// CopyOut copies p into guest memory at addr. The pages must be
// user-writable; a miss returns a *Fault and writes nothing.
func (m *Machine) CopyOut(as AddressSpace, addr guestarch.Addr, p []byte) error {
	c := &cpu{m: m, as: as}
	ranges, t := c.physRanges(addr, uint64(len(p)), guestarch.Write)
	if t != nil {
		return &Fault{Addr: t.FaultAddr, Access: t.Access}
	}
	off := 0
	for _, r := range ranges {
		m.mem.WriteBytes(r.pa, p[off:off+int(r.n)])
		off += int(r.n)
	}
	return nil
}
