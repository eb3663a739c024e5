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

package machine

import (
	"tern.dev/tern/pkg/guestarch"
)

// REX prefix bits.
const (
	rexW = 0x8
	rexR = 0x4
	rexX = 0x2
	rexB = 0x1
)

// fetcher pulls instruction bytes at execute privilege, one page
// translation per byte. Decoding stops at the first fetch fault.
type fetcher struct {
	c    *cpu
	next guestarch.Addr
	trap *Trap
}

func (f *fetcher) u8() byte {
	if f.trap != nil {
		return 0
	}
	pa, t := f.c.translate(f.next, guestarch.Execute)
	if t != nil {
		f.trap = t
		return 0
	}
	b := f.c.m.mem.Read8(pa)
	f.next++
	return b
}

func (f *fetcher) u16() uint16 {
	lo := f.u8()
	hi := f.u8()
	return uint16(hi)<<8 | uint16(lo)
}

func (f *fetcher) u32() uint32 {
	lo := f.u16()
	hi := f.u16()
	return uint32(hi)<<16 | uint32(lo)
}

func (f *fetcher) u64() uint64 {
	lo := f.u32()
	hi := f.u32()
	return uint64(hi)<<32 | uint64(lo)
}

// operand is a decoded ModRM r/m: either a register or an effective
// address. RIP-relative addresses resolve against the end of the
// instruction, which is not known until all bytes are fetched, so they
// carry the displacement and resolve lazily in ea.
type operand struct {
	isReg bool
	reg   int

	addr   guestarch.Addr
	ripRel bool
	disp   int64
}

// exec is the per-instruction decode and execute context.
type exec struct {
	c      *cpu
	f      *fetcher
	rex    byte
	hasRex bool

	// size is the operand size in bytes: 4 by default, 8 under REX.W,
	// 2 under a 0x66 prefix.
	size int

	// branch, when set, is the Rip to commit instead of the next
	// instruction address.
	branch    guestarch.Addr
	branchSet bool
}

func (e *exec) jump(to guestarch.Addr) {
	e.branch = to
	e.branchSet = true
}

// gpr returns the register file slot for register number n (0=RAX ...
// 15=R15).
func (c *cpu) gpr(n int) *uint64 {
	r := c.regs
	switch n {
	case 0:
		return &r.Rax
	case 1:
		return &r.Rcx
	case 2:
		return &r.Rdx
	case 3:
		return &r.Rbx
	case 4:
		return &r.Rsp
	case 5:
		return &r.Rbp
	case 6:
		return &r.Rsi
	case 7:
		return &r.Rdi
	case 8:
		return &r.R8
	case 9:
		return &r.R9
	case 10:
		return &r.R10
	case 11:
		return &r.R11
	case 12:
		return &r.R12
	case 13:
		return &r.R13
	case 14:
		return &r.R14
	case 15:
		return &r.R15
	default:
		panic("bad register number")
	}
}

func sizeMask(size int) uint64 {
	if size == 8 {
		return ^uint64(0)
	}
	return 1<<(8*size) - 1
}

func signBit(size int) uint64 {
	return 1 << (8*size - 1)
}

// regRead reads register n at the current operand size.
func (e *exec) regRead(n, size int) uint64 {
	if size == 1 {
		return e.regRead8(n)
	}
	return *e.c.gpr(n) & sizeMask(size)
}

// regWrite writes register n at the given size. 32-bit writes zero the
// upper half; 16-bit and 8-bit writes merge.
func (e *exec) regWrite(n, size int, v uint64) {
	p := e.c.gpr(n)
	switch size {
	case 8:
		*p = v
	case 4:
		*p = v & 0xffffffff
	case 2:
		*p = *p&^uint64(0xffff) | v&0xffff
	case 1:
		e.regWrite8(n, byte(v))
	}
}

// Without a REX prefix, byte registers 4..7 are AH/CH/DH/BH; with one they
// are SPL/BPL/SIL/DIL.

func (e *exec) regRead8(n int) uint64 {
	if !e.hasRex && n >= 4 && n <= 7 {
		return *e.c.gpr(n-4) >> 8 & 0xff
	}
	return *e.c.gpr(n) & 0xff
}

func (e *exec) regWrite8(n int, v byte) {
	if !e.hasRex && n >= 4 && n <= 7 {
		p := e.c.gpr(n - 4)
		*p = *p&^uint64(0xff00) | uint64(v)<<8
		return
	}
	p := e.c.gpr(n)
	*p = *p&^uint64(0xff) | uint64(v)
}

// modrm decodes a ModRM byte (and any SIB and displacement) into the reg
// field and the r/m operand.
func (e *exec) modrm() (reg int, rm operand) {
	b := e.f.u8()
	mod := b >> 6
	reg = int(b>>3) & 7
	if e.rex&rexR != 0 {
		reg |= 8
	}
	rmField := int(b) & 7

	if mod == 3 {
		n := rmField
		if e.rex&rexB != 0 {
			n |= 8
		}
		return reg, operand{isReg: true, reg: n}
	}

	var base uint64
	var index uint64
	scale := uint64(1)
	forceDisp32 := false

	switch {
	case rmField == 4:
		sib := e.f.u8()
		idx := int(sib>>3) & 7
		if e.rex&rexX != 0 {
			idx |= 8
		}
		bs := int(sib) & 7
		if e.rex&rexB != 0 {
			bs |= 8
		}
		if idx != 4 {
			index = *e.c.gpr(idx)
			scale = 1 << (sib >> 6)
		}
		if bs&7 == 5 && mod == 0 {
			forceDisp32 = true
		} else {
			base = *e.c.gpr(bs)
		}
	case rmField == 5 && mod == 0:
		// RIP-relative.
		d := int64(int32(e.f.u32()))
		return reg, operand{ripRel: true, disp: d}
	default:
		n := rmField
		if e.rex&rexB != 0 {
			n |= 8
		}
		base = *e.c.gpr(n)
	}

	var disp int64
	switch {
	case mod == 1:
		disp = int64(int8(e.f.u8()))
	case mod == 2 || forceDisp32:
		disp = int64(int32(e.f.u32()))
	}

	addr := guestarch.Addr(base + index*scale + uint64(disp))
	return reg, operand{addr: addr}
}

// ea resolves the operand's effective address. Must be called after all
// instruction bytes are fetched so RIP-relative operands see the end of
// the instruction.
func (e *exec) ea(op operand) guestarch.Addr {
	if op.ripRel {
		return e.f.next + guestarch.Addr(op.disp)
	}
	return op.addr
}

// readOp reads the r/m operand at the given size.
func (e *exec) readOp(op operand, size int) (uint64, *Trap) {
	if op.isReg {
		return e.regRead(op.reg, size), nil
	}
	return e.c.readMem(e.ea(op), size)
}

// writeOp writes the r/m operand at the given size.
func (e *exec) writeOp(op operand, size int, v uint64) *Trap {
	if op.isReg {
		e.regWrite(op.reg, size, v)
		return nil
	}
	return e.c.writeMem(e.ea(op), size, v)
}

// imm fetches the immediate for the current operand size: 8 and 4 byte
// operands take a sign-extended 32-bit immediate, 2 byte operands a 16-bit
// one.
func (e *exec) imm() uint64 {
	if e.size == 2 {
		return uint64(int64(int16(e.f.u16())))
	}
	return uint64(int64(int32(e.f.u32())))
}

func (e *exec) imm8() uint64 {
	return uint64(int64(int8(e.f.u8())))
}
