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

// Package kernel runs Tern: it owns physical memory, the frame allocator,
// the kernel page tables and heap, the filesystem, the task table and the
// machine, and drives them from a single-threaded tick loop.
//
// One tick is one scheduling decision: the elected task runs on the
// machine until its instruction budget expires or it traps for good, then
// the clock advances. When nothing is runnable the tick goes to the idle
// context, which is where the interactive shell lives.
//
// The only concurrency is at the edges. The console input buffer and the
// halt request flag are fed from host goroutines; everything else belongs
// to the loop.
package kernel

import (
	"io"
	"sync/atomic"
	"time"

	"tern.dev/tern/pkg/abi/tern"
	"tern.dev/tern/pkg/errors/ternerr"
	"tern.dev/tern/pkg/guestarch"
	"tern.dev/tern/pkg/kheap"
	"tern.dev/tern/pkg/log"
	"tern.dev/tern/pkg/machine"
	"tern.dev/tern/pkg/memfs"
	"tern.dev/tern/pkg/pagetables"
	"tern.dev/tern/pkg/pgalloc"
	"tern.dev/tern/pkg/physmem"
)

// Defaults for Opts zero values.
const (
	// DefaultMemoryBytes is the guest RAM size. It must stay below 1 GiB
	// so the kernel heap's virtual placement cannot collide with it.
	DefaultMemoryBytes = 64 << 20

	// DefaultTickHz is the nominal timer rate backing Uptime.
	DefaultTickHz = 1000

	// DefaultInstrPerTick is the instruction budget of one tick.
	DefaultInstrPerTick = 20000
)

// bootReserved keeps the first frame out of circulation so physical
// address zero never backs a mapping.
const bootReserved = 0x1000

// StopReason is why Run returned.
type StopReason int32

const (
	// StopNone means the kernel is still live.
	StopNone StopReason = iota

	// StopPowerOff is a HALT poweroff or a host shutdown request.
	StopPowerOff

	// StopReboot is a HALT reboot; the caller builds a fresh kernel.
	StopReboot
)

// String implements fmt.Stringer.String.
func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "running"
	case StopPowerOff:
		return "poweroff"
	case StopReboot:
		return "reboot"
	default:
		return "stop(?)"
	}
}

// Opts configures Boot. Zero values take the defaults above.
type Opts struct {
	// MemoryBytes sizes guest RAM; it is rounded up to a page and must
	// stay below 1 GiB.
	MemoryBytes uint64

	// TickHz is the nominal tick rate. The kernel only counts ticks;
	// pacing them at TickHz is the caller's job.
	TickHz uint64

	// InstrPerTick is the guest instruction budget of one tick.
	InstrPerTick uint64

	// ConsoleOut receives console device output. nil discards it.
	ConsoleOut io.Writer

	// Syscalls is the system call table. With a nil table every syscall
	// fails with ErrnoNoSyscall.
	Syscalls *SyscallTable
}

// Kernel is a booted machine: memory, paging, heap, filesystem, tasks and
// the core. Build one with Boot.
type Kernel struct {
	mem     *physmem.Memory
	machine *machine.Machine
	frames  *pgalloc.FrameAllocator
	kpt     *pagetables.PageTables
	heap    *kheap.Heap
	fs      *memfs.Filesystem
	console *Console

	syscalls *SyscallTable

	// tasks is the process table; the index is the pid. Slot 0 is the
	// kernel's own task.
	tasks    [tern.MaxProcs]*Task
	lastSlot int

	ticks        uint64
	tickHz       uint64
	instrPerTick uint64

	// idler runs a tick with no runnable task. The shell installs
	// itself here.
	idler func()

	// stop is the pending StopReason, written from syscall context or
	// from host goroutines.
	stop atomic.Int32

	// lastExit is the exit code of the most recently terminated task.
	lastExit tern.ExitCode

	unknownSyscallLog log.Logger
	faultLog          log.Logger
}

// Boot assembles a kernel: physical memory, the frame allocator, kernel
// page tables, the heap, a seeded filesystem and the kernel task.
func Boot(opts Opts) (*Kernel, error) {
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = DefaultMemoryBytes
	}
	if opts.TickHz == 0 {
		opts.TickHz = DefaultTickHz
	}
	if opts.InstrPerTick == 0 {
		opts.InstrPerTick = DefaultInstrPerTick
	}
	if end, ok := guestarch.Addr(opts.MemoryBytes).RoundUp(); ok {
		opts.MemoryBytes = uint64(end)
	}
	if opts.MemoryBytes >= 1<<30 {
		return nil, ternerr.ErrBadArgument
	}

	mem, err := physmem.New(opts.MemoryBytes)
	if err != nil {
		return nil, err
	}
	frames := pgalloc.New(mem, bootReserved)
	kpt, err := pagetables.New(mem, frames)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		mem:          mem,
		machine:      machine.New(mem),
		frames:       frames,
		kpt:          kpt,
		heap:         kheap.New(mem, kpt, frames),
		fs:           memfs.New(),
		console:      NewConsole(opts.ConsoleOut),
		syscalls:     opts.Syscalls,
		tickHz:       opts.TickHz,
		instrPerTick: opts.InstrPerTick,

		unknownSyscallLog: log.BasicRateLimitedLogger(5 * time.Second),
		faultLog:          log.BasicRateLimitedLogger(5 * time.Second),
	}

	if err := k.seedFilesystem(); err != nil {
		return nil, err
	}

	// The kernel task: slot 0, the shell's identity and the idle
	// context. It shares the kernel page tables and never runs on the
	// machine; the scheduler skips it.
	t0 := &Task{
		k:      k,
		id:     KernelPid,
		name:   "kernel",
		state:  TaskReady,
		pt:     kpt,
		window: 0,
		cwd:    "/",
	}
	t0.preopenHandles()
	k.tasks[KernelPid] = t0

	log.Infof("tern: booted with %d MiB, %d frames free, tick budget %d",
		opts.MemoryBytes>>20, frames.FreeFrames(), k.instrPerTick)
	return k, nil
}

// seedFilesystem lays down the standard tree and device nodes.
func (k *Kernel) seedFilesystem() error {
	for _, dir := range []string{"/bin", "/dev", "/ini", "/tmp"} {
		if err := k.fs.MkdirAll(dir); err != nil {
			return err
		}
	}
	// Placeholder nodes so the devices show up in listings; opens are
	// intercepted before the filesystem.
	for _, dev := range []string{"/dev/console", "/dev/null"} {
		if err := k.fs.WriteFile(dev, nil); err != nil {
			return err
		}
	}
	return nil
}

// Filesystem returns the kernel's filesystem.
func (k *Kernel) Filesystem() *memfs.Filesystem {
	return k.fs
}

// Console returns the console device.
func (k *Kernel) Console() *Console {
	return k.console
}

// Heap returns the kernel heap.
func (k *Kernel) Heap() *kheap.Heap {
	return k.heap
}

// Frames returns the frame allocator.
func (k *Kernel) Frames() *pgalloc.FrameAllocator {
	return k.frames
}

// Machine returns the core.
func (k *Kernel) Machine() *machine.Machine {
	return k.machine
}

// Task returns the task with the given pid, or nil.
func (k *Kernel) Task(pid Pid) *Task {
	if pid < 0 || int(pid) >= len(k.tasks) {
		return nil
	}
	return k.tasks[pid]
}

// Tasks returns the live tasks in ascending pid order, the kernel task
// included.
func (k *Kernel) Tasks() []*Task {
	var ts []*Task
	for _, t := range k.tasks {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return ts
}

// UserTasks counts live tasks besides the kernel's own.
func (k *Kernel) UserTasks() int {
	n := 0
	for _, t := range k.tasks[1:] {
		if t != nil {
			n++
		}
	}
	return n
}

// SetIdler installs the idle context, run once per tick with no runnable
// task.
func (k *Kernel) SetIdler(fn func()) {
	k.idler = fn
}

// LastExitCode returns the exit code of the most recently terminated task,
// ExitSuccess if none has.
func (k *Kernel) LastExitCode() tern.ExitCode {
	return k.lastExit
}

// StopRequested returns the pending stop reason, StopNone while live.
func (k *Kernel) StopRequested() StopReason {
	return StopReason(k.stop.Load())
}

// RequestPowerOff asks the loop to stop. Safe from any goroutine; the
// loop honors it at the next tick boundary.
func (k *Kernel) RequestPowerOff() {
	k.stop.CompareAndSwap(int32(StopNone), int32(StopPowerOff))
}

// RequestReboot asks the loop to stop for a rebuild.
func (k *Kernel) RequestReboot() {
	k.stop.CompareAndSwap(int32(StopNone), int32(StopReboot))
}

// Halt services the HALT syscall argument: tern.HaltReboot or
// tern.HaltPoweroff.
func (k *Kernel) Halt(arg uint64) error {
	switch arg {
	case tern.HaltReboot:
		log.Infof("tern: reboot requested")
		k.RequestReboot()
	case tern.HaltPoweroff:
		log.Infof("tern: poweroff requested")
		k.RequestPowerOff()
	default:
		return ternerr.ErrBadArgument
	}
	return nil
}
