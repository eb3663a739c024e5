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

package tern

import "fmt"

// Errno is a kernel error code as carried in a syscall return value. The
// high nibble is the error class, the low nibble the specific condition.
type Errno uint8

// Error classes.
type Class uint8

const (
	// ResourceExhausted covers conditions where a fixed resource ran out:
	// frames, process slots, mailbox slots, handles.
	ResourceExhausted Class = 0x1

	// InvalidInput covers malformed or out-of-range caller input.
	InvalidInput Class = 0x2

	// NotFound covers references to objects that do not exist.
	NotFound Class = 0x3

	// StateConflict covers operations that contradict recorded state,
	// such as freeing a free frame or remapping a mapped page.
	StateConflict Class = 0x4
)

// String implements fmt.Stringer.String.
func (c Class) String() string {
	switch c {
	case ResourceExhausted:
		return "resource exhausted"
	case InvalidInput:
		return "invalid input"
	case NotFound:
		return "not found"
	case StateConflict:
		return "state conflict"
	default:
		return fmt.Sprintf("class(%#x)", uint8(c))
	}
}

// Error codes.
const (
	ErrnoNoMemory    Errno = 0x10
	ErrnoTableFull   Errno = 0x11
	ErrnoMailboxFull Errno = 0x12
	ErrnoHandlesFull Errno = 0x13
	ErrnoWouldBlock  Errno = 0x14

	ErrnoBadImage       Errno = 0x20
	ErrnoBadAddress     Errno = 0x21
	ErrnoMessageTooLong Errno = 0x22
	ErrnoBadArgument    Errno = 0x23
	ErrnoBadFrame       Errno = 0x24

	ErrnoNoProcess Errno = 0x30
	ErrnoNoFile    Errno = 0x31
	ErrnoBadHandle Errno = 0x32
	ErrnoNoSyscall Errno = 0x33

	ErrnoDoubleFree    Errno = 0x40
	ErrnoAlreadyMapped Errno = 0x41
	ErrnoNotMapped     Errno = 0x42
)

// Class returns the error class of e.
func (e Errno) Class() Class {
	return Class(e >> 4)
}

// Encode returns the syscall return value carrying e.
func (e Errno) Encode() uint64 {
	return ErrorBase | uint64(e)
}

// IsError returns true iff the syscall return value v encodes an error.
func IsError(v uint64) bool {
	return v >= ErrorBase
}

// DecodeErrno extracts the Errno from a syscall return value. ok is false
// if v is a success value.
func DecodeErrno(v uint64) (e Errno, ok bool) {
	if !IsError(v) {
		return 0, false
	}
	return Errno(v &^ ErrorBase), true
}
