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

package guestarch

import "fmt"

// Segment selectors, as laid out in the boot GDT: kernel code/data at
// indexes 3 and 4, user code/data at 5 and 6 with RPL 3.
const (
	KernelCS = 0x18
	KernelSS = 0x20
	UserCS   = 0x2b
	UserSS   = 0x33
)

// RFLAGS bits.
const (
	FlagCF = uint64(1) << 0
	FlagPF = uint64(1) << 2
	FlagZF = uint64(1) << 6
	FlagSF = uint64(1) << 7
	FlagIF = uint64(1) << 9
	FlagOF = uint64(1) << 11

	// FlagReserved is hardwired to 1.
	FlagReserved = uint64(1) << 1

	// UserFlagsSet is the initial RFLAGS of a fresh user context:
	// interrupts enabled, arithmetic flags clear.
	UserFlagsSet = FlagReserved | FlagIF

	// StatusFlags are the arithmetic flags the interpreter computes.
	StatusFlags = FlagCF | FlagPF | FlagZF | FlagSF | FlagOF
)

// Registers is the complete general-purpose register file of the guest CPU,
// in ptrace layout order. A context switch is a copy of this struct; nothing
// of a task's execution state lives anywhere else.
type Registers struct {
	R15    uint64
	R14    uint64
	R13    uint64
	R12    uint64
	Rbp    uint64
	Rbx    uint64
	R11    uint64
	R10    uint64
	R9     uint64
	R8     uint64
	Rax    uint64
	Rcx    uint64
	Rdx    uint64
	Rsi    uint64
	Rdi    uint64
	Rip    uint64
	Cs     uint64
	Eflags uint64
	Rsp    uint64
	Ss     uint64
}

// Return returns the syscall return value, in RAX.
func (r *Registers) Return() uint64 {
	return r.Rax
}

// SetReturn sets the syscall return value.
func (r *Registers) SetReturn(v uint64) {
	r.Rax = v
}

// IP returns the current instruction pointer.
func (r *Registers) IP() uint64 {
	return r.Rip
}

// SetIP sets the instruction pointer.
func (r *Registers) SetIP(v uint64) {
	r.Rip = v
}

// Stack returns the current stack pointer.
func (r *Registers) Stack() uint64 {
	return r.Rsp
}

// SetStack sets the stack pointer.
func (r *Registers) SetStack(v uint64) {
	r.Rsp = v
}

// SyscallNo returns the syscall number, in RAX at trap time.
func (r *Registers) SyscallNo() uint64 {
	return r.Rax
}

// SyscallArgs returns the syscall arguments, in RDI, RSI, RDX, R8.
func (r *Registers) SyscallArgs() [4]uint64 {
	return [4]uint64{r.Rdi, r.Rsi, r.Rdx, r.R8}
}

// User returns true if the context runs at CPL 3.
func (r *Registers) User() bool {
	return r.Cs&3 == 3
}

// String returns a compact dump for fault diagnostics.
func (r *Registers) String() string {
	return fmt.Sprintf("rip=%#x rsp=%#x rax=%#x rdi=%#x rsi=%#x rdx=%#x r8=%#x flags=%#x cs=%#x ss=%#x",
		r.Rip, r.Rsp, r.Rax, r.Rdi, r.Rsi, r.Rdx, r.R8, r.Eflags, r.Cs, r.Ss)
}
