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
	"tern.dev/tern/pkg/log"
)

// Exit terminates the task voluntarily with code.
func (k *Kernel) Exit(t *Task, code tern.ExitCode) {
	log.Infof("kernel: task %d (%s) exit: %v", t.id, t.name, code)
	k.terminate(t, code)
}

// Kill terminates t by kernel decision: an unservable fault, a forbidden
// opcode or an operator interrupt.
func (k *Kernel) Kill(t *Task, code tern.ExitCode, reason string) {
	k.faultLog.Warningf("kernel: killing task %d (%s): %s", t.id, t.name, reason)
	faultKills.Increment()
	k.terminate(t, code)
}

// terminate reclaims everything the task owns and clears its slot. There
// are no zombies: the slot is spawnable again before the next tick.
func (k *Kernel) terminate(t *Task, code tern.ExitCode) {
	if t.id == KernelPid {
		panic("kernel: terminating the kernel task")
	}
	if t.state == TaskTerminated {
		return
	}
	t.exitCode = code
	t.state = TaskTerminated

	t.closeAllHandles()
	k.drainMailbox(t)
	k.reclaimWindow(t)
	t.pt.Release()

	k.tasks[t.id] = nil
	k.lastExit = code
	exitCount.Increment()
}
