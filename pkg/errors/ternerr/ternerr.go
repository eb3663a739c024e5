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

// Package ternerr contains the kernel's error values, exported as error
// interface pointers. Comparison is by identity, so returning and testing
// these sentinels is as cheap as comparing integers.
package ternerr

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors"
)

var (
	// ResourceExhausted.
	ErrNoMemory    = errors.New(tern.ErrnoNoMemory, "out of memory")
	ErrTableFull   = errors.New(tern.ErrnoTableFull, "process table full")
	ErrMailboxFull = errors.New(tern.ErrnoMailboxFull, "mailbox full")
	ErrHandlesFull = errors.New(tern.ErrnoHandlesFull, "handle table full")

	// InvalidInput.
	ErrBadImage       = errors.New(tern.ErrnoBadImage, "malformed binary image")
	ErrBadAddress     = errors.New(tern.ErrnoBadAddress, "bad address or range")
	ErrMessageTooLong = errors.New(tern.ErrnoMessageTooLong, "message exceeds mailbox capacity")
	ErrBadArgument    = errors.New(tern.ErrnoBadArgument, "invalid argument")
	ErrBadFrame       = errors.New(tern.ErrnoBadFrame, "not an allocatable frame address")

	// NotFound.
	ErrNoProcess = errors.New(tern.ErrnoNoProcess, "no such process")
	ErrNoFile    = errors.New(tern.ErrnoNoFile, "no such file or directory")
	ErrBadHandle = errors.New(tern.ErrnoBadHandle, "bad handle")
	ErrNoSyscall = errors.New(tern.ErrnoNoSyscall, "invalid system call number")

	// StateConflict.
	ErrDoubleFree    = errors.New(tern.ErrnoDoubleFree, "frame is already free")
	ErrAlreadyMapped = errors.New(tern.ErrnoAlreadyMapped, "range is already mapped")
	ErrNotMapped     = errors.New(tern.ErrnoNotMapped, "range is not mapped")
)

// ToErrno translates err to the Errno carried across the syscall boundary.
// Errors that are not *errors.Error report ErrnoBadArgument; the dispatcher
// logs them before translation.
func ToErrno(err error) tern.Errno {
	if e, ok := err.(*errors.Error); ok {
		return e.Errno()
	}
	return tern.ErrnoBadArgument
}
