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

// Package tern defines the application binary interface of the Tern kernel:
// syscall numbers and argument conventions, error code encoding, exit codes,
// message limits, well-known handles and the packaged binary container.
//
// Everything a user program needs to target Tern is in this package; the
// kernel and the bundled userland both build against it.
package tern

// Syscalls are invoked with INT 0x80. The syscall number is passed in RAX
// and up to four arguments in RDI, RSI, RDX and R8. The result is returned
// in RAX; values at or above ErrorBase encode an Errno.
const (
	// SyscallVector is the software interrupt vector of the syscall gate.
	SyscallVector = 0x80

	// ErrorBase is the lowest RAX value that encodes an error. The top of
	// the return range is reserved so that success values (pointers, byte
	// counts, PIDs) can never collide with an error code.
	ErrorBase = ^uint64(0xff)
)

// HALT argument values.
const (
	HaltReboot   = 0xCAFE
	HaltPoweroff = 0xDEAD
)

// Process window layout. Each task slot owns a fixed 10 MiB window of user
// address space at UserBase + slot*WindowBytes: code at the window base,
// the argument block at the midpoint, the ALLOC zone directly above it and
// the stack one page below the window top (the top page is an unmapped
// guard). All offsets are relative to the owning window's base.
const (
	UserBase    = 0x0080_0000
	WindowBytes = 10 << 20

	// ArgvOffset is the argument block: NUL-terminated strings first, then
	// an array of (pointer, length) pairs. A new task starts with RDI
	// holding the pair array address and RSI the argument count.
	ArgvOffset = WindowBytes / 2

	// MmapOffset is where ALLOC placements begin.
	MmapOffset = ArgvOffset + 0x1000

	// StackTopOffset is the initial RSP. The loader maps the page below
	// it; deeper stack growth is served by fault-time allocation.
	StackTopOffset = WindowBytes - 0x1000

	// StackMaxBytes bounds fault-time stack growth. Only write faults in
	// the StackMaxBytes below StackTopOffset map fresh frames; ALLOC
	// placements stop at that floor, so a freed ALLOC range faults for
	// real if touched again.
	StackMaxBytes = 64 << 10
)

// MaxProcs is the size of the task table. Slot 0 is the kernel idle task,
// so at most MaxProcs-1 user processes run at once.
const MaxProcs = 8

// Message limits. A SEND payload larger than MaxMessageBytes is rejected;
// a mailbox holds at most MailboxSlots undelivered messages.
const (
	MaxMessageBytes = 64
	MailboxSlots    = 8
)

// Well-known handles, preopened in every process.
const (
	HandleStdin  = 0
	HandleStdout = 1
	HandleStderr = 2
	HandleNull   = 3

	// MaxHandles is the size of the per-process handle table.
	MaxHandles = 64
)

// Handle kinds reported by the KIND syscall.
const (
	KindDevice = 0
	KindFile   = 1
	KindDir    = 2
)

// POLL event codes. A POLL list entry is two little-endian uint64 words,
// handle then event, PollEntrySize bytes per entry; POLL returns the index
// of the first ready entry, or the entry count when none is ready.
const (
	PollRead  = 0
	PollWrite = 1

	PollEntrySize = 16
)

// OPEN flag bits.
const (
	OpenRead   = 1 << 0
	OpenWrite  = 1 << 1
	OpenCreate = 1 << 2
	OpenDir    = 1 << 3
)

// Stat is the metadata record written by the STAT syscall: the file size,
// then a flags word whose low bit marks a directory. Both fields are
// little-endian uint64, StatSize bytes total.
const (
	StatSize    = 16
	StatFlagDir = 1 << 0
)
