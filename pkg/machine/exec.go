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
	"math/bits"

	"tern.dev/tern/pkg/guestarch"
)

// syscallVector is the one INT gate open to user code.
const syscallVector = 0x80

// step decodes and executes a single instruction. A nil return means the
// instruction retired and Rip advanced. A faulting instruction leaves all
// architectural state untouched so it can re-execute after the kernel
// resolves the fault.
func (c *cpu) step() *Trap {
	f := &fetcher{c: c, next: guestarch.Addr(c.regs.Rip)}
	e := &exec{c: c, f: f, size: 4}

	// Prefixes. 0x66 selects 16-bit operands, REX.W 64-bit; REX.W wins.
	var op byte
	for {
		b := f.u8()
		if f.trap != nil {
			return f.trap
		}
		if b == 0x66 {
			e.size = 2
			continue
		}
		if b >= 0x40 && b <= 0x4f {
			e.rex = b
			e.hasRex = true
			continue
		}
		op = b
		break
	}
	if e.rex&rexW != 0 {
		e.size = 8
	}

	var t *Trap
	switch {
	case op == 0x0f:
		t = e.twoByte()
	case op < 0x40 && op&7 < 4 && aluKindOK(op>>3):
		t = e.alu(op)
	case op >= 0x50 && op <= 0x57: // PUSH r64
		n := int(op&7) | int(e.rex&rexB)<<3
		t = e.push(*c.gpr(n))
	case op >= 0x58 && op <= 0x5f: // POP r64
		var v uint64
		if v, t = e.pop(); t == nil {
			*c.gpr(int(op&7)|int(e.rex&rexB)<<3) = v
		}
	case op == 0x68: // PUSH imm32
		v := e.imm()
		if f.trap != nil {
			return f.trap
		}
		t = e.push(v)
	case op == 0x6a: // PUSH imm8
		v := e.imm8()
		if f.trap != nil {
			return f.trap
		}
		t = e.push(v)
	case op >= 0x70 && op <= 0x7f: // Jcc rel8
		d := e.imm8()
		if f.trap != nil {
			return f.trap
		}
		if c.cond(op & 0xf) {
			e.jump(f.next + guestarch.Addr(d))
		}
	case op == 0x80 || op == 0x81 || op == 0x83:
		t = e.group1(op)
	case op == 0x84 || op == 0x85: // TEST
		size := e.size
		if op == 0x84 {
			size = 1
		}
		reg, rm := e.modrm()
		if f.trap != nil {
			return f.trap
		}
		var a uint64
		if a, t = e.readOp(rm, size); t == nil {
			c.logic(a&e.regRead(reg, size), size)
		}
	case op == 0x88 || op == 0x89: // MOV r/m, r
		size := e.size
		if op == 0x88 {
			size = 1
		}
		reg, rm := e.modrm()
		if f.trap != nil {
			return f.trap
		}
		t = e.writeOp(rm, size, e.regRead(reg, size))
	case op == 0x8a || op == 0x8b: // MOV r, r/m
		size := e.size
		if op == 0x8a {
			size = 1
		}
		reg, rm := e.modrm()
		if f.trap != nil {
			return f.trap
		}
		var v uint64
		if v, t = e.readOp(rm, size); t == nil {
			e.regWrite(reg, size, v)
		}
	case op == 0x8d: // LEA r, m
		reg, rm := e.modrm()
		if f.trap != nil {
			return f.trap
		}
		if rm.isReg {
			t = &Trap{Kind: TrapOpcode}
			break
		}
		e.regWrite(reg, e.size, uint64(e.ea(rm)))
	case op == 0x90: // NOP
	case op >= 0xb0 && op <= 0xb7: // MOV r8, imm8
		v := f.u8()
		if f.trap != nil {
			return f.trap
		}
		e.regWrite(int(op&7)|int(e.rex&rexB)<<3, 1, uint64(v))
	case op >= 0xb8 && op <= 0xbf: // MOV r, imm
		var v uint64
		switch e.size {
		case 8:
			v = f.u64()
		case 2:
			v = uint64(f.u16())
		default:
			v = uint64(f.u32())
		}
		if f.trap != nil {
			return f.trap
		}
		e.regWrite(int(op&7)|int(e.rex&rexB)<<3, e.size, v)
	case op == 0xc1: // shift r/m, imm8
		t = e.group2()
	case op == 0xc3: // RET
		var v uint64
		if v, t = e.pop(); t == nil {
			e.jump(guestarch.Addr(v))
		}
	case op == 0xc6 || op == 0xc7: // MOV r/m, imm
		size := e.size
		if op == 0xc6 {
			size = 1
		}
		reg, rm := e.modrm()
		var v uint64
		if size == 1 {
			v = uint64(f.u8())
		} else {
			v = e.imm()
		}
		if f.trap != nil {
			return f.trap
		}
		if reg&7 != 0 {
			t = &Trap{Kind: TrapOpcode}
			break
		}
		t = e.writeOp(rm, size, v)
	case op == 0xcd: // INT imm8
		v := f.u8()
		if f.trap != nil {
			return f.trap
		}
		if v == syscallVector {
			// Trap class: resume after the INT.
			c.regs.Rip = uint64(f.next)
			return &Trap{Kind: TrapSyscall, Vector: v}
		}
		return &Trap{Kind: TrapOpcode, Vector: v}
	case op == 0xe8: // CALL rel32
		d := e.imm()
		if f.trap != nil {
			return f.trap
		}
		target := f.next + guestarch.Addr(d)
		if t = e.push(uint64(f.next)); t == nil {
			e.jump(target)
		}
	case op == 0xe9: // JMP rel32
		d := e.imm()
		if f.trap != nil {
			return f.trap
		}
		e.jump(f.next + guestarch.Addr(d))
	case op == 0xeb: // JMP rel8
		d := e.imm8()
		if f.trap != nil {
			return f.trap
		}
		e.jump(f.next + guestarch.Addr(d))
	case op == 0xf4: // HLT
		return &Trap{Kind: TrapOpcode}
	case op == 0xf7:
		t = e.group3()
	case op == 0xff:
		t = e.group5()
	default:
		return &Trap{Kind: TrapOpcode}
	}

	if t != nil {
		return t
	}
	if f.trap != nil {
		return f.trap
	}
	if e.branchSet {
		c.regs.Rip = uint64(e.branch)
	} else {
		c.regs.Rip = uint64(f.next)
	}
	return nil
}

// aluKindOK reports whether the one-byte ALU block row is implemented.
// Rows 2 and 3 are ADC and SBB.
func aluKindOK(kind byte) bool {
	switch kind {
	case 0, 1, 4, 5, 6, 7:
		return true
	}
	return false
}

// alu handles the two-operand ALU block: ADD, OR, AND, SUB, XOR, CMP in
// their r/m,r and r,r/m forms.
func (e *exec) alu(op byte) *Trap {
	kind := op >> 3
	form := op & 7
	size := e.size
	if form == 0 || form == 2 {
		size = 1
	}
	reg, rm := e.modrm()
	if e.f.trap != nil {
		return e.f.trap
	}

	var a, b uint64
	var dst operand
	if form >= 2 {
		// r <- r op r/m.
		v, t := e.readOp(rm, size)
		if t != nil {
			return t
		}
		a, b = e.regRead(reg, size), v
		dst = operand{isReg: true, reg: reg}
	} else {
		// r/m <- r/m op r.
		var v uint64
		var t *Trap
		if kind == 7 {
			v, t = e.readOp(rm, size)
		} else {
			v, t = e.readRMW(rm, size)
		}
		if t != nil {
			return t
		}
		a, b = v, e.regRead(reg, size)
		dst = rm
	}

	r, writeBack := e.aluOp(kind, a, b, size)
	if writeBack {
		return e.writeOp(dst, size, r)
	}
	return nil
}

// aluOp applies the ALU row, sets flags, and reports whether the result is
// written back (CMP is compute-only).
func (e *exec) aluOp(kind byte, a, b uint64, size int) (uint64, bool) {
	c := e.c
	switch kind {
	case 0:
		return c.add(a, b, size), true
	case 1:
		return c.logic(a|b, size), true
	case 4:
		return c.logic(a&b, size), true
	case 5:
		return c.sub(a, b, size), true
	case 6:
		return c.logic(a^b, size), true
	case 7:
		c.sub(a, b, size)
		return 0, false
	default:
		panic("bad alu row")
	}
}

// readRMW reads an operand that will be written back, demanding write
// access on memory up front.
func (e *exec) readRMW(op operand, size int) (uint64, *Trap) {
	if op.isReg {
		return e.regRead(op.reg, size), nil
	}
	return e.c.readMemAT(e.ea(op), size, guestarch.ReadWrite)
}

// group1 handles the immediate forms of the ALU block.
func (e *exec) group1(op byte) *Trap {
	size := e.size
	if op == 0x80 {
		size = 1
	}
	reg, rm := e.modrm()
	var b uint64
	if op == 0x81 {
		b = e.imm()
	} else {
		b = e.imm8()
	}
	if e.f.trap != nil {
		return e.f.trap
	}

	kind := byte(reg & 7)
	if !aluKindOK(kind) {
		return &Trap{Kind: TrapOpcode}
	}
	var a uint64
	var t *Trap
	if kind == 7 {
		a, t = e.readOp(rm, size)
	} else {
		a, t = e.readRMW(rm, size)
	}
	if t != nil {
		return t
	}
	r, writeBack := e.aluOp(kind, a, b, size)
	if writeBack {
		return e.writeOp(rm, size, r)
	}
	return nil
}

// group2 handles SHL, SHR and SAR by immediate count.
func (e *exec) group2() *Trap {
	reg, rm := e.modrm()
	count := uint(e.f.u8())
	if e.f.trap != nil {
		return e.f.trap
	}
	kind := byte(reg & 7)
	switch kind {
	case 4, 5, 7:
	default:
		return &Trap{Kind: TrapOpcode}
	}
	if e.size == 8 {
		count &= 0x3f
	} else {
		count &= 0x1f
	}
	a, t := e.readRMW(rm, e.size)
	if t != nil {
		return t
	}
	r := e.c.shift(kind, a, count, e.size)
	return e.writeOp(rm, e.size, r)
}

// group3 handles NOT, NEG, MUL and DIV.
func (e *exec) group3() *Trap {
	reg, rm := e.modrm()
	if e.f.trap != nil {
		return e.f.trap
	}
	c := e.c
	size := e.size
	switch byte(reg & 7) {
	case 2: // NOT, no flags
		a, t := e.readRMW(rm, size)
		if t != nil {
			return t
		}
		return e.writeOp(rm, size, ^a&sizeMask(size))
	case 3: // NEG
		a, t := e.readRMW(rm, size)
		if t != nil {
			return t
		}
		return e.writeOp(rm, size, c.sub(0, a, size))
	case 4: // MUL: rDX:rAX <- rAX * r/m
		b, t := e.readOp(rm, size)
		if t != nil {
			return t
		}
		a := e.regRead(0, size)
		var lo, hi uint64
		if size == 8 {
			hi, lo = bits.Mul64(a, b)
		} else {
			p := a * b
			lo = p & sizeMask(size)
			hi = p >> (8 * size)
		}
		e.regWrite(0, size, lo)
		e.regWrite(2, size, hi)
		c.setFlag(guestarch.FlagCF, hi != 0)
		c.setFlag(guestarch.FlagOF, hi != 0)
		return nil
	case 6: // DIV: rAX, rDX <- rDX:rAX / r/m
		d, t := e.readOp(rm, size)
		if t != nil {
			return t
		}
		if d == 0 {
			return &Trap{Kind: TrapOpcode}
		}
		if size == 8 {
			hi, lo := e.c.regs.Rdx, e.c.regs.Rax
			if hi >= d {
				return &Trap{Kind: TrapOpcode}
			}
			q, r := bits.Div64(hi, lo, d)
			e.regWrite(0, 8, q)
			e.regWrite(2, 8, r)
			return nil
		}
		n := e.regRead(2, size)<<(8*size) | e.regRead(0, size)
		q := n / d
		if q > sizeMask(size) {
			return &Trap{Kind: TrapOpcode}
		}
		e.regWrite(0, size, q)
		e.regWrite(2, size, n%d)
		return nil
	default:
		return &Trap{Kind: TrapOpcode}
	}
}

// group5 handles INC and DEC. CF survives both.
func (e *exec) group5() *Trap {
	reg, rm := e.modrm()
	if e.f.trap != nil {
		return e.f.trap
	}
	kind := byte(reg & 7)
	if kind > 1 {
		return &Trap{Kind: TrapOpcode}
	}
	a, t := e.readRMW(rm, e.size)
	if t != nil {
		return t
	}
	c := e.c
	cf := c.flag(guestarch.FlagCF)
	var r uint64
	if kind == 0 {
		r = c.add(a, 1, e.size)
	} else {
		r = c.sub(a, 1, e.size)
	}
	c.setFlag(guestarch.FlagCF, cf)
	return e.writeOp(rm, e.size, r)
}

// twoByte handles the 0x0F opcode map.
func (e *exec) twoByte() *Trap {
	op := e.f.u8()
	if e.f.trap != nil {
		return e.f.trap
	}
	switch {
	case op == 0x0b: // UD2
		return &Trap{Kind: TrapOpcode}
	case op >= 0x80 && op <= 0x8f: // Jcc rel32
		d := e.imm()
		if e.f.trap != nil {
			return e.f.trap
		}
		if e.c.cond(op & 0xf) {
			e.jump(e.f.next + guestarch.Addr(d))
		}
		return nil
	case op == 0xaf: // IMUL r, r/m
		reg, rm := e.modrm()
		if e.f.trap != nil {
			return e.f.trap
		}
		b, t := e.readOp(rm, e.size)
		if t != nil {
			return t
		}
		a := e.regRead(reg, e.size)
		var r uint64
		var over bool
		if e.size == 8 {
			hi, lo := bits.Mul64(a, b)
			if int64(a) < 0 {
				hi -= b
			}
			if int64(b) < 0 {
				hi -= a
			}
			r = lo
			over = int64(hi) != int64(lo)>>63
		} else {
			p := sx(a, e.size) * sx(b, e.size)
			r = uint64(p) & sizeMask(e.size)
			over = p != sx(r, e.size)
		}
		e.regWrite(reg, e.size, r)
		e.c.setFlag(guestarch.FlagCF, over)
		e.c.setFlag(guestarch.FlagOF, over)
		return nil
	case op == 0xb6 || op == 0xb7: // MOVZX r, r/m8 or r/m16
		srcSize := 1
		if op == 0xb7 {
			srcSize = 2
		}
		reg, rm := e.modrm()
		if e.f.trap != nil {
			return e.f.trap
		}
		v, t := e.readOp(rm, srcSize)
		if t != nil {
			return t
		}
		e.regWrite(reg, e.size, v)
		return nil
	}
	return &Trap{Kind: TrapOpcode}
}

// push writes v to the stack and then commits the new stack pointer.
func (e *exec) push(v uint64) *Trap {
	sp := e.c.regs.Rsp - 8
	if t := e.c.writeMem(guestarch.Addr(sp), 8, v); t != nil {
		return t
	}
	e.c.regs.Rsp = sp
	return nil
}

// pop reads the stack top and then commits the new stack pointer.
func (e *exec) pop() (uint64, *Trap) {
	v, t := e.c.readMem(guestarch.Addr(e.c.regs.Rsp), 8)
	if t != nil {
		return 0, t
	}
	e.c.regs.Rsp += 8
	return v, nil
}

// sx sign-extends a value of the given size to 64 bits.
func sx(v uint64, size int) int64 {
	shift := 64 - 8*size
	return int64(v<<shift) >> shift
}

func (c *cpu) flag(mask uint64) bool {
	return c.regs.Eflags&mask != 0
}

func (c *cpu) setFlag(mask uint64, v bool) {
	if v {
		c.regs.Eflags |= mask
	} else {
		c.regs.Eflags &^= mask
	}
}

// cond evaluates condition code cc (the low nibble of a Jcc opcode).
func (c *cpu) cond(cc byte) bool {
	var r bool
	switch cc >> 1 {
	case 0:
		r = c.flag(guestarch.FlagOF)
	case 1:
		r = c.flag(guestarch.FlagCF)
	case 2:
		r = c.flag(guestarch.FlagZF)
	case 3:
		r = c.flag(guestarch.FlagCF) || c.flag(guestarch.FlagZF)
	case 4:
		r = c.flag(guestarch.FlagSF)
	case 5:
		r = c.flag(guestarch.FlagPF)
	case 6:
		r = c.flag(guestarch.FlagSF) != c.flag(guestarch.FlagOF)
	case 7:
		r = c.flag(guestarch.FlagZF) || c.flag(guestarch.FlagSF) != c.flag(guestarch.FlagOF)
	}
	if cc&1 != 0 {
		r = !r
	}
	return r
}

// setResultFlags sets ZF, SF and PF from a result.
func (c *cpu) setResultFlags(r uint64, size int) {
	r &= sizeMask(size)
	c.setFlag(guestarch.FlagZF, r == 0)
	c.setFlag(guestarch.FlagSF, r&signBit(size) != 0)
	c.setFlag(guestarch.FlagPF, bits.OnesCount8(uint8(r))%2 == 0)
}

// add computes a+b at the given size and sets arithmetic flags.
func (c *cpu) add(a, b uint64, size int) uint64 {
	mask := sizeMask(size)
	a &= mask
	b &= mask
	var r uint64
	var cf bool
	if size == 8 {
		var carry uint64
		r, carry = bits.Add64(a, b, 0)
		cf = carry != 0
	} else {
		r = a + b
		cf = r > mask
		r &= mask
	}
	c.setFlag(guestarch.FlagCF, cf)
	c.setFlag(guestarch.FlagOF, (a^r)&(b^r)&signBit(size) != 0)
	c.setResultFlags(r, size)
	return r
}

// sub computes a-b at the given size and sets arithmetic flags.
func (c *cpu) sub(a, b uint64, size int) uint64 {
	mask := sizeMask(size)
	a &= mask
	b &= mask
	var r uint64
	var cf bool
	if size == 8 {
		var borrow uint64
		r, borrow = bits.Sub64(a, b, 0)
		cf = borrow != 0
	} else {
		cf = a < b
		r = (a - b) & mask
	}
	c.setFlag(guestarch.FlagCF, cf)
	c.setFlag(guestarch.FlagOF, (a^b)&(a^r)&signBit(size) != 0)
	c.setResultFlags(r, size)
	return r
}

// logic masks a boolean result and sets flags; CF and OF clear.
func (c *cpu) logic(r uint64, size int) uint64 {
	r &= sizeMask(size)
	c.setFlag(guestarch.FlagCF, false)
	c.setFlag(guestarch.FlagOF, false)
	c.setResultFlags(r, size)
	return r
}

// shift applies SHL (4), SHR (5) or SAR (7). A zero count changes nothing.
// OF follows the single-shift definition for every count.
func (c *cpu) shift(kind byte, a uint64, count uint, size int) uint64 {
	mask := sizeMask(size)
	a &= mask
	if count == 0 {
		return a
	}
	width := uint(8 * size)
	var r uint64
	var cf, of bool
	switch kind {
	case 4: // SHL
		if count <= width {
			cf = a>>(width-count)&1 != 0
		}
		r = a << count & mask
		of = cf != (r&signBit(size) != 0)
	case 5: // SHR
		if count <= width {
			cf = a>>(count-1)&1 != 0
		}
		r = a >> count
		of = a&signBit(size) != 0
	case 7: // SAR
		sxa := uint64(sx(a, size))
		cf = sxa>>(count-1)&1 != 0
		r = uint64(sx(a, size)>>count) & mask
		of = false
	}
	c.setFlag(guestarch.FlagCF, cf)
	c.setFlag(guestarch.FlagOF, of)
	c.setResultFlags(r, size)
	return r
}
