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

package kernel

import (
	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/log"
)

// SyscallFn implements one system call. The result is written to the
// caller's RAX unless the call blocked, restarted or terminated the task;
// a non-nil error is encoded as a tern.Errno in place of the result.
//
// Handlers must leave the task's registers alone: the dispatcher owns the
// return register, and a restarted call re-executes with the registers as
// the guest issued them.
type SyscallFn func(t *Task, args [4]uint64) (uint64, error)

// SyscallTable maps system call numbers to their implementations.
type SyscallTable struct {
	// Name identifies the table in logs.
	Name string

	// Table maps tern.SYS_* numbers to handlers.
	Table map[uintptr]SyscallFn
}

// syscallInsnBytes is the length of the INT imm8 encoding. A restarted
// call rewinds this far so the trap re-executes.
const syscallInsnBytes = 2

// restartSyscall points the saved IP back at the trapping instruction.
func (t *Task) restartSyscall() {
	t.regs.SetIP(t.regs.IP() - syscallInsnBytes)
}

// doSyscall services a syscall trap from t, the running task.
func (k *Kernel) doSyscall(t *Task) {
	sysno := uintptr(t.regs.SyscallNo())
	args := t.regs.SyscallArgs()
	syscallCount.Increment()

	var fn SyscallFn
	if k.syscalls != nil {
		fn = k.syscalls.Table[sysno]
	}
	if fn == nil {
		k.unknownSyscallLog.Warningf("%v: unknown syscall %s", t, tern.SyscallName(sysno))
		t.regs.SetReturn(tern.ErrnoNoSyscall.Encode())
		return
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%#x, %#x, %#x, %#x)", t, tern.SyscallName(sysno), args[0], args[1], args[2], args[3])
	}

	ret, err := fn(t, args)
	switch {
	case t.state == TaskTerminated:
		// EXIT, or a kill from inside the call; nothing to deliver.
	case err == ternerr.ErrWouldBlock:
		// Rewind to the INT and retry after a tick. The argument
		// registers are untouched, so the call reissues itself.
		t.restartSyscall()
		k.Sleep(t, 1)
	case t.state == TaskBlocked:
		// RECV parked the task; delivery completes the call.
	case err != nil:
		t.regs.SetReturn(ternerr.ToErrno(err).Encode())
	default:
		t.regs.SetReturn(ret)
	}
}
