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

// Package asm assembles the x86-64 subset the machine executes, and packs
// programs into the image formats the loader accepts. It exists for tests
// and for the built-in user programs; it is not a general assembler.
package asm

import (
	"fmt"
)

// Reg is a general purpose register.
type Reg int

// Register numbers follow instruction encoding order.
const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond is a branch condition (the low nibble of a Jcc opcode).
type Cond byte

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xc
	CondGE Cond = 0xd
	CondLE Cond = 0xe
	CondG  Cond = 0xf
)

type fixup struct {
	at    int // offset of the displacement field
	end   int // offset the displacement is relative to
	label string
}

// Assembler accumulates encoded instructions. Branch targets are labels,
// resolved when Bytes is called.
type Assembler struct {
	base   uint64
	buf    []byte
	labels map[string]int
	fixups []fixup
}

// New returns an assembler for code loaded at base.
func New(base uint64) *Assembler {
	return &Assembler{base: base, labels: make(map[string]int)}
}

// Len returns the current code length.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// Label defines name at the current position.
func (a *Assembler) Label(name string) {
	if _, ok := a.labels[name]; ok {
		panic(fmt.Sprintf("asm: label %q redefined", name))
	}
	a.labels[name] = len(a.buf)
}

// Addr returns the load address of a defined label.
func (a *Assembler) Addr(name string) uint64 {
	off, ok := a.labels[name]
	if !ok {
		panic(fmt.Sprintf("asm: unknown label %q", name))
	}
	return a.base + uint64(off)
}

// Bytes resolves branch fixups and returns the code.
func (a *Assembler) Bytes() []byte {
	for _, f := range a.fixups {
		off, ok := a.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("asm: unknown label %q", f.label))
		}
		d := off - f.end
		if d != int(int32(d)) {
			panic(fmt.Sprintf("asm: branch to %q out of range", f.label))
		}
		putUint32(a.buf[f.at:], uint32(int32(d)))
	}
	a.fixups = a.fixups[:0]
	return a.buf
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (a *Assembler) raw(b ...byte) {
	a.buf = append(a.buf, b...)
}

// rex emits a REX prefix. reg extends into REX.R, rm (or a base register)
// into REX.B.
func (a *Assembler) rex(w bool, reg, rm Reg) {
	p := byte(0x40)
	if w {
		p |= 0x08
	}
	if reg >= R8 {
		p |= 0x04
	}
	if rm >= R8 {
		p |= 0x01
	}
	a.raw(p)
}

// regModRM emits a mod=11 ModRM byte.
func (a *Assembler) regModRM(reg, rm Reg) {
	a.raw(0xc0 | byte(reg&7)<<3 | byte(rm&7))
}

// memModRM emits ModRM (+SIB, +disp) for [base+disp].
func (a *Assembler) memModRM(reg byte, base Reg, disp int32) {
	rmBits := byte(base & 7)
	var mod byte
	switch {
	case disp == 0 && rmBits != 5:
		mod = 0
	case disp >= -128 && disp <= 127:
		mod = 1
	default:
		mod = 2
	}
	a.raw(mod<<6 | reg<<3 | rmBits)
	if rmBits == 4 {
		// RSP/R12 base takes a SIB byte.
		a.raw(0x24)
	}
	switch mod {
	case 1:
		a.raw(byte(disp))
	case 2:
		a.raw(byte(disp), byte(disp>>8), byte(disp>>16), byte(disp>>24))
	}
}

// MovImm loads a 64-bit immediate (movabs).
func (a *Assembler) MovImm(dst Reg, v uint64) {
	a.rex(true, 0, dst)
	a.raw(0xb8 | byte(dst&7))
	for i := 0; i < 8; i++ {
		a.raw(byte(v >> (8 * i)))
	}
}

// Mov copies src into dst.
func (a *Assembler) Mov(dst, src Reg) {
	a.rex(true, src, dst)
	a.raw(0x89)
	a.regModRM(src, dst)
}

// Load loads the quadword at [base+disp] into dst.
func (a *Assembler) Load(dst, base Reg, disp int32) {
	a.rex(true, dst, base)
	a.raw(0x8b)
	a.memModRM(byte(dst&7), base, disp)
}

// Store stores src to the quadword at [base+disp].
func (a *Assembler) Store(base Reg, disp int32, src Reg) {
	a.rex(true, src, base)
	a.raw(0x89)
	a.memModRM(byte(src&7), base, disp)
}

// Load8 zero-extends the byte at [base+disp] into dst.
func (a *Assembler) Load8(dst, base Reg, disp int32) {
	a.rex(true, dst, base)
	a.raw(0x0f, 0xb6)
	a.memModRM(byte(dst&7), base, disp)
}

// Store8 stores the low byte of src to [base+disp]. The REX prefix keeps
// SPL/BPL/SIL/DIL addressable.
func (a *Assembler) Store8(base Reg, disp int32, src Reg) {
	a.rex(false, src, base)
	a.raw(0x88)
	a.memModRM(byte(src&7), base, disp)
}

// Lea computes base+disp into dst.
func (a *Assembler) Lea(dst, base Reg, disp int32) {
	a.rex(true, dst, base)
	a.raw(0x8d)
	a.memModRM(byte(dst&7), base, disp)
}

// LeaLabel computes a label's address into dst with a RIP-relative LEA, so
// the code runs at any load address.
func (a *Assembler) LeaLabel(dst Reg, label string) {
	a.rex(true, dst, 0)
	a.raw(0x8d)
	a.raw(byte(dst&7)<<3 | 0x05)
	a.rel32(label)
}

// Add computes dst += src.
func (a *Assembler) Add(dst, src Reg) {
	a.rex(true, src, dst)
	a.raw(0x01)
	a.regModRM(src, dst)
}

// Sub computes dst -= src.
func (a *Assembler) Sub(dst, src Reg) {
	a.rex(true, src, dst)
	a.raw(0x29)
	a.regModRM(src, dst)
}

// Xor computes dst ^= src.
func (a *Assembler) Xor(dst, src Reg) {
	a.rex(true, src, dst)
	a.raw(0x31)
	a.regModRM(src, dst)
}

// And computes dst &= src.
func (a *Assembler) And(dst, src Reg) {
	a.rex(true, src, dst)
	a.raw(0x21)
	a.regModRM(src, dst)
}

// Cmp compares dst with src.
func (a *Assembler) Cmp(dst, src Reg) {
	a.rex(true, src, dst)
	a.raw(0x39)
	a.regModRM(src, dst)
}

// group1 emits an 83 (imm8) or 81 (imm32) instruction.
func (a *Assembler) group1(slot byte, dst Reg, imm int32) {
	a.rex(true, 0, dst)
	if imm >= -128 && imm <= 127 {
		a.raw(0x83)
		a.regModRM(Reg(slot), dst)
		a.raw(byte(imm))
		return
	}
	a.raw(0x81)
	a.regModRM(Reg(slot), dst)
	a.raw(byte(imm), byte(imm>>8), byte(imm>>16), byte(imm>>24))
}

// AddImm computes dst += imm.
func (a *Assembler) AddImm(dst Reg, imm int32) {
	a.group1(0, dst, imm)
}

// SubImm computes dst -= imm.
func (a *Assembler) SubImm(dst Reg, imm int32) {
	a.group1(5, dst, imm)
}

// CmpImm compares dst with imm.
func (a *Assembler) CmpImm(dst Reg, imm int32) {
	a.group1(7, dst, imm)
}

// Shl shifts dst left by imm bits.
func (a *Assembler) Shl(dst Reg, imm byte) {
	a.rex(true, 0, dst)
	a.raw(0xc1)
	a.regModRM(4, dst)
	a.raw(imm)
}

// Shr shifts dst right by imm bits, unsigned.
func (a *Assembler) Shr(dst Reg, imm byte) {
	a.rex(true, 0, dst)
	a.raw(0xc1)
	a.regModRM(5, dst)
	a.raw(imm)
}

// Mul computes RDX:RAX = RAX * src.
func (a *Assembler) Mul(src Reg) {
	a.rex(true, 0, src)
	a.raw(0xf7)
	a.regModRM(4, src)
}

// Div computes RAX = RDX:RAX / src, RDX = remainder.
func (a *Assembler) Div(src Reg) {
	a.rex(true, 0, src)
	a.raw(0xf7)
	a.regModRM(6, src)
}

// Push pushes r.
func (a *Assembler) Push(r Reg) {
	if r >= R8 {
		a.raw(0x41)
	}
	a.raw(0x50 | byte(r&7))
}

// Pop pops into r.
func (a *Assembler) Pop(r Reg) {
	if r >= R8 {
		a.raw(0x41)
	}
	a.raw(0x58 | byte(r&7))
}

// Jmp jumps to a label.
func (a *Assembler) Jmp(label string) {
	a.raw(0xe9)
	a.rel32(label)
}

// Jcc branches to a label when the condition holds.
func (a *Assembler) Jcc(cc Cond, label string) {
	a.raw(0x0f, 0x80|byte(cc))
	a.rel32(label)
}

// Call calls a label.
func (a *Assembler) Call(label string) {
	a.raw(0xe8)
	a.rel32(label)
}

func (a *Assembler) rel32(label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), end: len(a.buf) + 4, label: label})
	a.raw(0, 0, 0, 0)
}

// Ret returns.
func (a *Assembler) Ret() {
	a.raw(0xc3)
}

// Int raises interrupt vector v.
func (a *Assembler) Int(v byte) {
	a.raw(0xcd, v)
}

// Nop emits a one-byte NOP.
func (a *Assembler) Nop() {
	a.raw(0x90)
}

// Hlt emits HLT, which traps at user privilege.
func (a *Assembler) Hlt() {
	a.raw(0xf4)
}

// Ud2 emits the guaranteed-undefined opcode.
func (a *Assembler) Ud2() {
	a.raw(0x0f, 0x0b)
}

// Bytes8 appends raw data bytes (for inline strings).
func (a *Assembler) Bytes8(data []byte) {
	a.raw(data...)
}
