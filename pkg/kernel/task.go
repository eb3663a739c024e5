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
	"fmt"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/pagetables"
)

// Pid identifies a process. A pid is the process's slot in the task table
// and is reused as soon as the slot is reclaimed.
type Pid int32

// KernelPid is the pid of the kernel's own task in slot 0: the idle
// context, the shell's identity and the default peer for interactive IPC.
// It never runs guest code and is never scheduled.
const KernelPid Pid = 0

// TaskState is the scheduling state of a task.
type TaskState int32

const (
	// TaskReady means the task is runnable and waiting for the scheduler.
	TaskReady TaskState = iota

	// TaskRunning means the task is the one executing on the core.
	TaskRunning

	// TaskBlocked means the task is waiting in RECV for a message. Only a
	// SEND to its mailbox makes it runnable again.
	TaskBlocked

	// TaskSleeping means the task parked itself until a wake tick.
	TaskSleeping

	// TaskTerminated means the task is dead and its slot reclaimed.
	TaskTerminated
)

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskSleeping:
		return "sleeping"
	case TaskTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// recvArgs latches the arguments of a RECV while its caller is blocked.
// The kernel completes the syscall with them when a message arrives.
type recvArgs struct {
	buf     guestarch.Addr
	bufLen  uint64
	lenPtr  guestarch.Addr
	kindPtr guestarch.Addr
}

// Task is one process: a register file, an address space rooted in its own
// page tables, a mailbox and a handle table. The task table slot number is
// the pid.
//
// Everything here is owned by the kernel loop; nothing in Task is safe for
// concurrent use.
type Task struct {
	k *Kernel

	id     Pid
	name   string
	parent Pid

	state TaskState

	// regs is the live register file while the task runs and the saved
	// one while it does not. The machine mutates it in place, so
	// preemption preserves it bit for bit.
	regs guestarch.Registers

	// pt maps the task's window in the lower half and shares the kernel's
	// upper half. The lower-half leaves double as the owned-frame ledger:
	// every user frame the task holds is reachable from pt, so teardown
	// walks the window instead of a shadow list.
	pt     *pagetables.PageTables
	window guestarch.Addr

	// wakeAt is the tick a TaskSleeping task becomes ready again.
	wakeAt uint64

	box  mailbox
	recv recvArgs

	handles [tern.MaxHandles]File
	cwd     string

	// allocHint is where the next ALLOC placement search starts.
	allocHint guestarch.Addr

	exitCode tern.ExitCode
}

// ID returns the task's pid.
func (t *Task) ID() Pid {
	return t.id
}

// Name returns the path the task was spawned from.
func (t *Task) Name() string {
	return t.name
}

// Parent returns the pid of the spawning task.
func (t *Task) Parent() Pid {
	return t.parent
}

// State returns the task's scheduling state.
func (t *Task) State() TaskState {
	return t.state
}

// Registers returns the task's register file. The machine writes through
// this pointer while the task runs.
func (t *Task) Registers() *guestarch.Registers {
	return &t.regs
}

// Kernel returns the owning kernel.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Window returns the base of the task's address window.
func (t *Task) Window() guestarch.Addr {
	return t.window
}

// ExitCode returns the task's exit status. It is meaningful only once the
// task is TaskTerminated.
func (t *Task) ExitCode() tern.ExitCode {
	return t.exitCode
}

// Cwd returns the task's working directory.
func (t *Task) Cwd() string {
	return t.cwd
}

// SetCwd changes the task's working directory. The target must be an
// existing directory.
func (t *Task) SetCwd(path string) error {
	info, err := t.k.fs.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir {
		return ternerr.ErrBadArgument
	}
	t.cwd = path
	return nil
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s, %v)", t.id, t.name, t.state)
}
