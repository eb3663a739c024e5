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
	"tern.dev/tern/pkg/machine"
)

// Step runs one tick: the elected task's slice, or the idle context when
// nothing is runnable. It reports false once the kernel has stopped.
func (k *Kernel) Step() bool {
	if k.StopRequested() != StopNone {
		return false
	}
	if k.console.takeInterrupt() {
		k.interrupt()
	}
	if t := k.pickNext(); t != nil {
		k.runSlice(t)
	} else if k.idler != nil {
		k.idler()
	}
	k.tick()
	return k.StopRequested() == StopNone
}

// Run drives Step until a stop request and reports why it stopped.
func (k *Kernel) Run() StopReason {
	for k.Step() {
	}
	return k.StopRequested()
}

// runSlice gives t the rest of the current tick on the core. The slice
// ends when the instruction budget expires, when the task stops being
// runnable, or when a stop request lands. Non-blocking syscalls and
// resolved faults spend budget without ending the slice, so a tight loop
// and a chatty task are preempted on the same schedule.
func (k *Kernel) runSlice(t *Task) {
	t.state = TaskRunning
	k.lastSlot = int(t.id)
	contextSwitches.Increment()

	budget := k.instrPerTick
	for t.state == TaskRunning && budget > 0 && k.StopRequested() == StopNone {
		trap := k.machine.Switch(machine.SwitchOpts{
			Registers:       &t.regs,
			AddressSpace:    t.pt,
			MaxInstructions: budget,
		})
		if trap.Retired >= budget {
			budget = 0
		} else {
			budget -= trap.Retired
		}

		switch trap.Kind {
		case machine.TrapTimer:
			budget = 0
		case machine.TrapSyscall:
			k.doSyscall(t)
		case machine.TrapPageFault:
			if !k.resolveFault(t, trap.FaultAddr, trap.Access) {
				k.Kill(t, tern.ExitPageFault, trap.String())
			}
		case machine.TrapOpcode:
			k.Kill(t, tern.ExitExecError, trap.String())
		}
	}
	if t.state == TaskRunning {
		t.state = TaskReady
	}
}

// interrupt services a console interrupt. The foreground task is taken to
// be the one that ran most recently, falling back to whichever would run
// next; with no user task at all the flushed input line is the only
// effect.
func (k *Kernel) interrupt() {
	if t := k.tasks[k.lastSlot]; t != nil && Pid(k.lastSlot) != KernelPid {
		k.Kill(t, tern.ExitFailure, "console interrupt")
		return
	}
	if t := k.pickNext(); t != nil {
		k.Kill(t, tern.ExitFailure, "console interrupt")
	}
}
